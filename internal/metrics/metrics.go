// Package metrics exposes Prometheus instruments for the PvD daemon.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Mutation kinds used as label values.
const (
	KindCreated = "created"
	KindUpdated = "updated"
	KindDeleted = "deleted"
	KindEvicted = "evicted"
)

// Metrics tracks registry size, mutations, and address events.
type Metrics struct {
	PvDs              prometheus.Gauge
	Mutations         *prometheus.CounterVec
	AddressEvents     *prometheus.CounterVec
	PersistFailures   prometheus.Counter
	OperationDuration *prometheus.HistogramVec

	factory promauto.Factory
}

// New creates a Metrics instance registered with reg. A nil reg uses the
// default Prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		factory: factory,
		PvDs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pvdd_pvds",
			Help: "Number of PvD records currently in the registry",
		}),
		Mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pvdd_pvd_mutations_total",
			Help: "Total number of PvD record mutations by kind",
		}, []string{"kind"}),
		AddressEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pvdd_address_events_total",
			Help: "Total number of address-change events applied, by direction",
		}, []string{"direction"}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "pvdd_persist_failures_total",
			Help: "Total number of PvD snapshots that failed to persist",
		}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pvdd_operation_duration_seconds",
			Help:    "Duration of provisioning service operations",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"operation"}),
	}
}

// SetPvDs records the current registry size.
func (m *Metrics) SetPvDs(n int) {
	m.PvDs.Set(float64(n))
}

// IncrementMutation records one mutation of the given kind.
func (m *Metrics) IncrementMutation(kind string) {
	m.Mutations.WithLabelValues(kind).Inc()
}

// IncrementAddressEvent records one applied address event.
func (m *Metrics) IncrementAddressEvent(added bool) {
	direction := "removed"
	if added {
		direction = "added"
	}
	m.AddressEvents.WithLabelValues(direction).Inc()
}

// IncrementPersistFailure records a failed snapshot write.
func (m *Metrics) IncrementPersistFailure() {
	m.PersistFailures.Inc()
}

// ObserveOperation records the duration of op.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveOperation(op string, start time.Time) {
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// WatchEventStream exports the change event fan-out state, read at scrape time.
func (m *Metrics) WatchEventStream(subscribers func() int, dropped func() uint64) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pvdd_change_event_subscribers",
		Help: "Number of active change event subscribers",
	}, func() float64 { return float64(subscribers()) })
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "pvdd_change_events_dropped_total",
		Help: "Total number of change events not delivered to a slow subscriber",
	}, func() float64 { return float64(dropped()) })
}

// WatchLifetimes exports the address lifetime tracker state, read at scrape time.
func (m *Metrics) WatchLifetimes(tracked, expired func() int) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pvdd_address_lifetimes_tracked",
		Help: "Number of addresses with a finite valid lifetime being tracked",
	}, func() float64 { return float64(tracked()) })
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "pvdd_address_lifetimes_expired_total",
		Help: "Total number of addresses removed because their valid lifetime ran out",
	}, func() float64 { return float64(expired()) })
}
