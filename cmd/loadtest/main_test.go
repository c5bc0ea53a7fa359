package main

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tickethub/tms/internal/domain"
)

func validConfig() config {
	return config{
		total:       10,
		concurrency: 2,
		timeout:     time.Second,
		mode:        modeCreate,
		quantity:    1,
		capacity:    100,
		priceMinor:  5000,
		ticketType:  "GA",
		customerTag: "load",
	}
}

func TestParseMode(t *testing.T) {
	cases := []struct {
		input   string
		want    loadMode
		wantErr bool
	}{
		{input: "create", want: modeCreate},
		{input: " create-finalize ", want: modeCreateFinalize},
		{input: "create-cancel", want: modeCreateCancel},
		{input: "create-finalize-cancel", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tc := range cases {
		got, err := parseMode(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseMode(%q): expected error, got %q", tc.input, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseMode(%q): unexpected error: %v", tc.input, err)
		}
		if got != tc.want {
			t.Fatalf("parseMode(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestValidateConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config)
	}{
		{name: "negative duration", mutate: func(c *config) { c.duration = -time.Second }},
		{name: "zero total without duration", mutate: func(c *config) { c.total = 0 }},
		{name: "zero concurrency", mutate: func(c *config) { c.concurrency = 0 }},
		{name: "zero timeout", mutate: func(c *config) { c.timeout = 0 }},
		{name: "quantity below minimum", mutate: func(c *config) { c.quantity = 0 }},
		{name: "quantity above maximum", mutate: func(c *config) { c.quantity = domain.MaxBookingQuantity + 1 }},
		{name: "zero capacity", mutate: func(c *config) { c.capacity = 0 }},
		{name: "zero price", mutate: func(c *config) { c.priceMinor = 0 }},
		{name: "cancel rate over 100", mutate: func(c *config) { c.cancelRate = 101 }},
		{name: "blank ticket type", mutate: func(c *config) { c.ticketType = "  " }},
		{name: "blank customer tag", mutate: func(c *config) { c.customerTag = "" }},
	}

	if err := validateConfig(validConfig()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	for _, tc := range cases {
		cfg := validConfig()
		tc.mutate(&cfg)
		if err := validateConfig(cfg); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{err: nil, want: labelOK},
		{err: domain.ErrLockBusy, want: labelLockBusy},
		{err: &domain.InventoryError{TicketType: "GA", Available: 0}, want: labelSoldOut},
		{err: domain.ErrMaxPerCustomer, want: labelLimit},
		{err: domain.ErrQuantityOverOrderCap, want: labelLimit},
		{err: domain.ErrBookingWindowClosed, want: labelWindowClosed},
		{err: domain.ErrCampaignNotActive, want: labelWindowClosed},
		{err: domain.ErrQuantityOutOfRange, want: labelValidation},
		{err: errors.New("boom"), want: labelError},
	}

	for _, tc := range cases {
		if got := classify(tc.err); got != tc.want {
			t.Fatalf("classify(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestCollector_RecordAndSnapshot(t *testing.T) {
	col := newCollector()
	col.record("Create", 10*time.Millisecond, labelOK)
	col.record("Create", 20*time.Millisecond, labelLockBusy)
	col.record("Create", 30*time.Millisecond, labelOK)

	stats, ok := col.snapshot("Create")
	if !ok {
		t.Fatal("expected Create stats")
	}
	if stats.Calls != 3 || stats.Success != 2 || stats.Failed != 1 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
	if stats.Outcomes[labelOK] != 2 || stats.Outcomes[labelLockBusy] != 1 {
		t.Fatalf("unexpected outcomes: %+v", stats.Outcomes)
	}
	if stats.LatencyMs.Min != 10 || stats.LatencyMs.Max != 30 {
		t.Fatalf("unexpected latency bounds: %+v", stats.LatencyMs)
	}

	if _, ok := col.snapshot("Finalize"); ok {
		t.Fatal("unexpected Finalize stats")
	}
}

func TestCollector_BuildReport(t *testing.T) {
	col := newCollector()
	col.record("scenario", 50*time.Millisecond, labelOK)
	col.record("scenario", 70*time.Millisecond, labelError)
	col.record("Create", 20*time.Millisecond, labelOK)

	started := time.Now().Add(-2 * time.Second)
	result := col.buildReport(started, 2*time.Second)

	if result.TotalScenarios != 2 || result.SuccessScenarios != 1 || result.FailedScenarios != 1 {
		t.Fatalf("unexpected scenario counters: %+v", result)
	}
	if result.ErrorRate != 0.5 {
		t.Fatalf("unexpected error rate: %f", result.ErrorRate)
	}
	if result.RPS != 1 {
		t.Fatalf("unexpected rps: %f", result.RPS)
	}
	if _, ok := result.Methods["Create"]; !ok {
		t.Fatal("expected Create method report")
	}
}

func TestShouldCancelScenario(t *testing.T) {
	if shouldCancelScenario(5, 0) {
		t.Fatal("rate 0 must never cancel")
	}
	if !shouldCancelScenario(5, 100) {
		t.Fatal("rate 100 must always cancel")
	}
	if !shouldCancelScenario(10, 50) {
		t.Fatal("index 10 with rate 50 must cancel")
	}
	if shouldCancelScenario(75, 50) {
		t.Fatal("index 75 with rate 50 must not cancel")
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	if got := percentile(sorted, 50); got != 3 {
		t.Fatalf("p50 = %f, want 3", got)
	}
	if got := percentile(sorted, 100); got != 5 {
		t.Fatalf("p100 = %f, want 5", got)
	}
	if got := percentile(nil, 95); got != 0 {
		t.Fatalf("empty percentile = %f, want 0", got)
	}
	if got := percentile([]float64{7}, 99); got != 7 {
		t.Fatalf("single percentile = %f, want 7", got)
	}
}

func TestBuildLatencySummary(t *testing.T) {
	summary := buildLatencySummary([]float64{30, 10, 20})
	if summary.Min != 10 || summary.Max != 30 {
		t.Fatalf("unexpected bounds: %+v", summary)
	}
	if math.Abs(summary.Avg-20) > 1e-9 {
		t.Fatalf("avg = %f, want 20", summary.Avg)
	}
	if summary.P50 != 20 {
		t.Fatalf("p50 = %f, want 20", summary.P50)
	}

	empty := buildLatencySummary(nil)
	if empty != (latencySummary{}) {
		t.Fatalf("expected zero summary, got %+v", empty)
	}
}

func TestRatio(t *testing.T) {
	if got := ratio(1, 4); got != 0.25 {
		t.Fatalf("ratio = %f, want 0.25", got)
	}
	if got := ratio(1, 0); got != 0 {
		t.Fatalf("ratio with zero total = %f, want 0", got)
	}
}

func TestDispatchJobs_CountMode(t *testing.T) {
	cfg := validConfig()
	cfg.total = 5

	jobs := make(chan int, 10)
	dispatchJobs(jobs, cfg)

	var got []int
	for id := range jobs {
		got = append(got, id)
	}
	if len(got) != 5 {
		t.Fatalf("dispatched %d jobs, want 5", len(got))
	}
}

func TestWriteJSONReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	want := report{TotalScenarios: 3, SuccessScenarios: 3}

	if err := writeJSONReport(path, want); err != nil {
		t.Fatalf("writeJSONReport: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var got report
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if got.TotalScenarios != 3 || got.SuccessScenarios != 3 {
		t.Fatalf("unexpected report: %+v", got)
	}

	if err := writeJSONReport(".", report{}); err == nil {
		t.Fatal("expected error for directory path")
	}
}

func TestRunScenario_CreateFinalize(t *testing.T) {
	cfg := validConfig()
	cfg.mode = modeCreateFinalize

	h, err := buildHarness(cfg)
	if err != nil {
		t.Fatalf("buildHarness: %v", err)
	}

	col := newCollector()
	if err := runScenario(h, cfg, 0, "test-run", col); err != nil {
		t.Fatalf("runScenario: %v", err)
	}

	for _, method := range []string{"Create", "Finalize", "scenario"} {
		stats, ok := col.snapshot(method)
		if !ok {
			t.Fatalf("missing %s stats", method)
		}
		if stats.Success != 1 || stats.Failed != 0 {
			t.Fatalf("%s: unexpected counters %+v", method, stats)
		}
	}
	if _, ok := col.snapshot("Cancel"); ok {
		t.Fatal("finalize scenario must not cancel")
	}
}

func TestRunScenario_CreateCancelFreesInventory(t *testing.T) {
	cfg := validConfig()
	cfg.mode = modeCreateCancel
	cfg.capacity = 1

	h, err := buildHarness(cfg)
	if err != nil {
		t.Fatalf("buildHarness: %v", err)
	}

	col := newCollector()
	// Ёмкость 1: второй сценарий проходит только если отмена вернула место.
	for i := 0; i < 2; i++ {
		if err := runScenario(h, cfg, i, "test-run", col); err != nil {
			t.Fatalf("scenario %d: %v", i, err)
		}
	}

	stats, ok := col.snapshot("Cancel")
	if !ok {
		t.Fatal("missing Cancel stats")
	}
	if stats.Success != 2 {
		t.Fatalf("expected 2 successful cancels, got %+v", stats)
	}
}

func TestRunScenario_SoldOut(t *testing.T) {
	cfg := validConfig()
	cfg.capacity = 1

	h, err := buildHarness(cfg)
	if err != nil {
		t.Fatalf("buildHarness: %v", err)
	}

	col := newCollector()
	if err := runScenario(h, cfg, 0, "test-run", col); err != nil {
		t.Fatalf("first scenario: %v", err)
	}
	if err := runScenario(h, cfg, 1, "test-run", col); err == nil {
		t.Fatal("expected sold out error")
	}

	stats, ok := col.snapshot("scenario")
	if !ok {
		t.Fatal("missing scenario stats")
	}
	if stats.Outcomes[labelSoldOut] != 1 {
		t.Fatalf("expected one sold_out outcome, got %+v", stats.Outcomes)
	}
	if stats.Success != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
}
