package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics содержит метрики операций бронирования и сопутствующих воркеров.
type BookingMetrics struct {
	// Счётчики операций
	bookingsCreated   prometheus.Counter
	bookingsConfirmed prometheus.Counter
	bookingsCancelled prometheus.Counter
	bookingsExpired   prometheus.Counter
	lockBusy          prometheus.Counter

	// Гистограммы времени выполнения
	createDuration prometheus.Histogram
	stageDuration  *prometheus.HistogramVec

	// Счётчики событий
	outboxEvents    prometheus.Counter
	auditEvents     prometheus.Counter
	waitlistNotices prometheus.Counter

	// Gauge для активных PENDING-бронирований
	pendingBookings prometheus.Gauge
}

// NewBookingMetrics создаёт новый экземпляр метрик бронирования.
func NewBookingMetrics() *BookingMetrics {
	return newBookingMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newBookingMetricsWithRegisterer(registerer prometheus.Registerer) *BookingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &BookingMetrics{
		bookingsCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tms_bookings_created_total",
			Help: "Total number of bookings created",
		}),
		bookingsConfirmed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tms_bookings_confirmed_total",
			Help: "Total number of bookings confirmed by payment finalization",
		}),
		bookingsCancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tms_bookings_cancelled_total",
			Help: "Total number of bookings cancelled",
		}),
		bookingsExpired: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tms_bookings_expired_total",
			Help: "Total number of bookings expired past payment deadline",
		}),
		lockBusy: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tms_inventory_lock_busy_total",
			Help: "Total number of booking attempts rejected by a busy inventory lock",
		}),
		createDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "tms_booking_create_duration_seconds",
			Help:    "Duration of booking create operations in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stageDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "tms_booking_stage_duration_seconds",
			Help:    "Duration of individual booking pipeline stages in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"stage"}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tms_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		auditEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tms_audit_events_total",
			Help: "Total number of audit records appended",
		}),
		waitlistNotices: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tms_waitlist_notices_total",
			Help: "Total number of waitlist entries notified after reallocation",
		}),
		pendingBookings: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "tms_pending_bookings",
			Help: "Number of currently pending bookings",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordBookingCreated увеличивает счётчик созданных бронирований.
func (m *BookingMetrics) RecordBookingCreated() {
	m.bookingsCreated.Inc()
	m.pendingBookings.Inc()
}

// RecordBookingConfirmed увеличивает счётчик подтверждённых бронирований.
func (m *BookingMetrics) RecordBookingConfirmed() {
	m.bookingsConfirmed.Inc()
	m.pendingBookings.Dec()
}

// RecordBookingCancelled увеличивает счётчик отменённых бронирований.
func (m *BookingMetrics) RecordBookingCancelled() {
	m.bookingsCancelled.Inc()
	m.pendingBookings.Dec()
}

// RecordBookingExpired увеличивает счётчик истёкших бронирований.
func (m *BookingMetrics) RecordBookingExpired() {
	m.bookingsExpired.Inc()
	m.pendingBookings.Dec()
}

// RecordLockBusy увеличивает счётчик отказов по занятому lock.
func (m *BookingMetrics) RecordLockBusy() {
	m.lockBusy.Inc()
}

// RecordCreateDuration записывает время выполнения создания бронирования.
func (m *BookingMetrics) RecordCreateDuration(duration time.Duration) {
	m.createDuration.Observe(duration.Seconds())
}

// RecordStageDuration записывает время выполнения этапа обработки.
func (m *BookingMetrics) RecordStageDuration(stage string, duration time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *BookingMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// RecordAuditEvent увеличивает счётчик записей аудита.
func (m *BookingMetrics) RecordAuditEvent() {
	m.auditEvents.Inc()
}

// RecordWaitlistNotice увеличивает счётчик уведомлений листа ожидания.
func (m *BookingMetrics) RecordWaitlistNotice() {
	m.waitlistNotices.Inc()
}
