// loadtest гоняет движок бронирования in-process: memory-хранилище,
// memory-локер и настоящий booking.Engine под конкурентной нагрузкой.
// Это инструмент для профилирования конкуренции за инвентарь, а не
// сетевой бенчмарк.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tickethub/tms/internal/domain"
	"github.com/tickethub/tms/internal/lock"
	"github.com/tickethub/tms/internal/metrics"
	"github.com/tickethub/tms/internal/service/booking"
	"github.com/tickethub/tms/internal/service/payment"
	"github.com/tickethub/tms/internal/service/waitlist"
	"github.com/tickethub/tms/internal/storage/memory"
)

const (
	loadCampaignID = "camp-load"
	loadSellerID   = "seller-load"

	// Метки исходов для коллектора. "ok" считается успехом,
	// всё остальное попадает в failed.
	labelOK           = "ok"
	labelLockBusy     = "lock_busy"
	labelSoldOut      = "sold_out"
	labelLimit        = "limit"
	labelWindowClosed = "window_closed"
	labelValidation   = "validation"
	labelError        = "error"
)

type loadMode string

const (
	modeCreate         loadMode = "create"
	modeCreateCancel   loadMode = "create-cancel"
	modeCreateFinalize loadMode = "create-finalize"
)

type config struct {
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	quantity    int
	capacity    int
	priceMinor  int64
	ticketType  string
	customerTag string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Outcomes  map[string]int64 `json:"outcomes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	outcomes  map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

func (c *collector) record(method string, latency time.Duration, label string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{
			outcomes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if label == labelOK {
		stats.success++
	} else {
		stats.failed++
	}
	stats.outcomes[label]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) snapshot(name string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[name]
	if !ok {
		return methodReport{}, false
	}

	outcomesCopy := make(map[string]int64, len(stats.outcomes))
	for label, count := range stats.outcomes {
		outcomesCopy[label] = count
	}

	return methodReport{
		Calls:     stats.calls,
		Success:   stats.success,
		Failed:    stats.failed,
		ErrorRate: ratio(stats.failed, stats.calls),
		Outcomes:  outcomesCopy,
		LatencyMs: buildLatencySummary(stats.latencies),
	}, true
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	scenarioStats := c.methods["scenario"]
	if scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		outcomesCopy := make(map[string]int64, len(stats.outcomes))
		for label, count := range stats.outcomes {
			outcomesCopy[label] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Outcomes:  outcomesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string
	var timeoutValue string
	var durationValue string

	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 30s, 5m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-operation timeout")
	flag.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-cancel | create-finalize")
	flag.IntVar(&cfg.cancelRate, "cancel-rate", 0, "percent of scenarios that cancel instead of finalizing in create-finalize mode (0..100)")
	flag.IntVar(&cfg.quantity, "quantity", 1, "tickets per booking")
	flag.IntVar(&cfg.capacity, "capacity", 100000, "ticket type quota seeded into the campaign")
	flag.Int64Var(&cfg.priceMinor, "price-minor", 5000, "ticket price in minor units")
	flag.StringVar(&cfg.ticketType, "ticket-type", "GA", "ticket type code")
	flag.StringVar(&cfg.customerTag, "customer-tag", "load", "customer id prefix")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	return cfg, validateConfig(cfg)
}

func validateConfig(cfg config) error {
	if cfg.duration < 0 {
		return errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return errors.New("concurrency must be > 0")
	}
	if cfg.timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	if cfg.quantity < domain.MinBookingQuantity || cfg.quantity > domain.MaxBookingQuantity {
		return fmt.Errorf("quantity must be between %d and %d", domain.MinBookingQuantity, domain.MaxBookingQuantity)
	}
	if cfg.capacity <= 0 {
		return errors.New("capacity must be > 0")
	}
	if cfg.priceMinor <= 0 {
		return errors.New("price-minor must be > 0")
	}
	if cfg.cancelRate < 0 || cfg.cancelRate > 100 {
		return errors.New("cancel-rate must be between 0 and 100")
	}
	if strings.TrimSpace(cfg.ticketType) == "" {
		return errors.New("ticket-type is required")
	}
	if strings.TrimSpace(cfg.customerTag) == "" {
		return errors.New("customer-tag is required")
	}
	return nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCreate:
		return modeCreate, nil
	case modeCreateCancel:
		return modeCreateCancel, nil
	case modeCreateFinalize:
		return modeCreateFinalize, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

// harness собирает минимальный рабочий стек движка поверх memory-бэкендов.
type harness struct {
	engine    *booking.Engine
	finalizer *payment.Finalizer
}

func buildHarness(cfg config) (*harness, error) {
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	entry := logger.WithField("component", "loadtest")

	store := memory.NewStore()
	locker := lock.NewMemoryLocker()
	m := metrics.NewBookingMetrics()

	waitlistSvc := waitlist.NewService(store, entry)
	engine := booking.NewEngine(store, locker, waitlistSvc, entry, m)
	finalizer := payment.NewFinalizer(store, entry, m)

	now := time.Now().UTC()
	campaign := domain.Campaign{
		ID:        loadCampaignID,
		SellerID:  loadSellerID,
		Title:     "Load Test Campaign",
		Venue:     "synthetic",
		Status:    domain.CampaignStatusActive,
		EventDate: now.Add(24 * time.Hour),
		TicketTypes: map[string]domain.TicketType{
			cfg.ticketType: {
				PriceMinor: cfg.priceMinor,
				Quantity:   cfg.capacity,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := store.WithinTx(context.Background(), func(tx domain.Tx) error {
		return tx.Campaigns().Create(campaign)
	})
	if err != nil {
		return nil, fmt.Errorf("seed campaign: %w", err)
	}

	return &harness{engine: engine, finalizer: finalizer}, nil
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	h, err := buildHarness(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to build harness: %v\n", err)
		os.Exit(1)
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(h, cfg, id, runID, col); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration)
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func runScenario(h *harness, cfg config, index int, runID string, col *collector) error {
	scenarioStart := time.Now()
	scenarioLabel := labelOK
	defer func() {
		col.record("scenario", time.Since(scenarioStart), scenarioLabel)
	}()

	customerID := fmt.Sprintf("%s-%s-%d", cfg.customerTag, runID, index)
	booked, err := callCreate(h, cfg, customerID, col)
	if err != nil {
		scenarioLabel = classify(err)
		return err
	}
	if booked.ID == "" {
		scenarioLabel = labelError
		return errors.New("create returned empty booking id")
	}

	if cfg.mode == modeCreate {
		return nil
	}

	// Оплаченное бронирование отменяется только через возврат, поэтому
	// отмена в сценарии происходит вместо финализации, не после неё.
	if cfg.mode == modeCreateCancel || shouldCancelScenario(index, cfg.cancelRate) {
		if err := callCancel(h, cfg, booked.ID, customerID, col); err != nil {
			scenarioLabel = classify(err)
			return err
		}
		return nil
	}

	if err := callFinalize(h, cfg, booked.ID, runID, index, col); err != nil {
		scenarioLabel = classify(err)
		return err
	}

	return nil
}

func callCreate(h *harness, cfg config, customerID string, col *collector) (domain.Booking, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	booked, err := h.engine.Create(ctx, booking.CreateRequest{
		CampaignID:   loadCampaignID,
		CustomerID:   customerID,
		TicketType:   cfg.ticketType,
		Quantity:     cfg.quantity,
		IssuanceType: domain.IssuanceSingle,
	})
	col.record("Create", time.Since(start), classify(err))
	return booked, err
}

func callFinalize(h *harness, cfg config, bookingID, runID string, index int, col *collector) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	paymentID := fmt.Sprintf("lt-pay-%s-%d", runID, index)
	err := h.finalizer.Finalize(ctx, bookingID, paymentID)
	col.record("Finalize", time.Since(start), classify(err))
	return err
}

func callCancel(h *harness, cfg config, bookingID, customerID string, col *collector) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	_, err := h.engine.Cancel(ctx, bookingID, customerID, "load-cancel")
	col.record("Cancel", time.Since(start), classify(err))
	return err
}

// classify переводит доменную ошибку в метку исхода для отчёта.
func classify(err error) string {
	switch {
	case err == nil:
		return labelOK
	case errors.Is(err, domain.ErrLockBusy):
		return labelLockBusy
	case domain.IsInventoryError(err):
		return labelSoldOut
	case errors.Is(err, domain.ErrMaxPerCustomer), errors.Is(err, domain.ErrQuantityOverOrderCap):
		return labelLimit
	case errors.Is(err, domain.ErrBookingWindowClosed), errors.Is(err, domain.ErrCampaignNotActive), errors.Is(err, domain.ErrEventInPast):
		return labelWindowClosed
	case errors.Is(err, domain.ErrQuantityOutOfRange), errors.Is(err, domain.ErrCustomerRequired), errors.Is(err, domain.ErrIssuanceTypeInvalid):
		return labelValidation
	default:
		return labelError
	}
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == "scenario" {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		fmt.Printf(
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
