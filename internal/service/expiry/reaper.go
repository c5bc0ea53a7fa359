package expiry

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/tickethub/tms/internal/domain"
)

const (
	defaultSweepInterval = time.Minute
	defaultSweepBatch    = 200
)

var (
	reaperRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tms_expiry_reaper_runs_total",
		Help: "Total number of expiry reaper runs grouped by result.",
	}, []string{"result"})
	reaperExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tms_expiry_reaper_expired_total",
		Help: "Total number of bookings expired by the reaper.",
	})
	reaperLastExpired = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tms_expiry_reaper_last_expired",
		Help: "Number of bookings expired during the last sweep.",
	})
	reaperWaitlistRevertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tms_expiry_reaper_waitlist_reverted_total",
		Help: "Total number of lapsed waitlist notifications reverted by the reaper.",
	})
)

// Expirer переводит просроченное PENDING-бронирование в EXPIRED.
// Реализуется ядром бронирования.
type Expirer interface {
	Expire(ctx context.Context, bookingID string) (domain.Booking, error)
}

// WaitlistReverter возвращает в EXPIRED лист-ожидания с истёкшим окном.
type WaitlistReverter interface {
	RevertLapsed(ctx context.Context, limit int) (int, error)
}

// Options задаёт параметры reaper.
type Options struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
}

// Option настраивает Reaper.
type Option func(*Options)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithInterval задаёт интервал между проходами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithBatchSize задаёт размер порции за один проход.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.BatchSize = batchSize
	}
}

// Reaper периодически истекает PENDING-бронирования с прошедшим дедлайном
// оплаты и возвращает лист ожидания с лопнувшим окном уведомления.
// Страхует ленивое истечение на чтении: бронирование, которое никто
// не читает, всё равно вернёт инвентарь.
type Reaper struct {
	store     domain.Store
	expirer   Expirer
	waitlist  WaitlistReverter
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// NewReaper создаёт воркер истечения бронирований.
func NewReaper(store domain.Store, expirer Expirer, waitlist WaitlistReverter, options ...Option) *Reaper {
	opts := Options{
		Interval:  defaultSweepInterval,
		BatchSize: defaultSweepBatch,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "expiry-reaper")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatch
	}

	return &Reaper{
		store:     store,
		expirer:   expirer,
		waitlist:  waitlist,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
}

// Run запускает периодические проходы до отмены ctx.
func (r *Reaper) Run(ctx context.Context) {
	if r.expirer == nil {
		r.logger.Warn("expiry reaper is disabled: expirer is nil")
		return
	}

	r.sweep(ctx, time.Now().UTC())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx, time.Now().UTC())
		}
	}
}

func (r *Reaper) sweep(ctx context.Context, before time.Time) {
	expired, err := r.SweepOnce(ctx, before)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		reaperRunsTotal.WithLabelValues("error").Inc()
		r.logger.WithError(err).Warn("expiry sweep failed")
		return
	}

	reaperRunsTotal.WithLabelValues("ok").Inc()
	reaperLastExpired.Set(float64(expired))
	if expired > 0 {
		r.logger.WithField("expired", expired).Info("expiry sweep completed")
	}
}

// SweepOnce истекает все просроченные PENDING-бронирования порциями
// batchSize и возвращает лопнувшие окна листа ожидания.
func (r *Reaper) SweepOnce(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	totalExpired := 0
	for {
		if err := ctx.Err(); err != nil {
			return totalExpired, err
		}

		var batch []domain.Booking
		err := r.store.WithinTx(ctx, func(tx domain.Tx) error {
			var err error
			batch, err = tx.Bookings().ListExpiredPending(before, r.batchSize)
			return err
		})
		if err != nil {
			return totalExpired, err
		}
		if len(batch) == 0 {
			break
		}

		expiredInBatch := 0
		for _, booking := range batch {
			if err := ctx.Err(); err != nil {
				return totalExpired, err
			}
			updated, err := r.expirer.Expire(ctx, booking.ID)
			if err != nil {
				// Занятый lock не провал прохода: бронирование подождёт следующего.
				if errors.Is(err, domain.ErrLockBusy) {
					continue
				}
				return totalExpired, err
			}
			if updated.Status == domain.BookingStatusExpired {
				totalExpired++
				expiredInBatch++
				reaperExpiredTotal.Inc()
			}
		}

		if len(batch) < r.batchSize {
			break
		}
		// Порция целиком спорная: выходим, чтобы не крутиться на месте.
		if expiredInBatch == 0 {
			break
		}
	}

	if r.waitlist != nil {
		reverted, err := r.waitlist.RevertLapsed(ctx, r.batchSize)
		if err != nil {
			return totalExpired, err
		}
		if reverted > 0 {
			reaperWaitlistRevertedTotal.Add(float64(reverted))
			r.logger.WithField("reverted", reverted).Info("lapsed waitlist notifications reverted")
		}
	}

	return totalExpired, nil
}
