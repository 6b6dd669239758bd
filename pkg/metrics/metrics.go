// Package metrics exposes engine activity as Prometheus counters.
//
// A nil *Metrics is valid and discards every observation, so components can be built without
// metrics in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "proximity"

// Long session outcomes.
const (
	SessionStarted     = "started"
	SessionReconnected = "reconnected"
	SessionExpired     = "expired"
	SessionSuperseded  = "superseded"
)

// Record outcomes.
const (
	RecordSaved     = "saved"
	RecordThrottled = "throttled"
	RecordFailed    = "failed"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	discoveries    prometheus.Counter
	dedupHits      prometheus.Counter
	connects       *prometheus.CounterVec
	sequenceAborts prometheus.Counter
	longSessions   *prometheus.CounterVec
	records        *prometheus.CounterVec
	writesRejected prometheus.Counter
	radioOn        prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		discoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discoveries_total",
			Help:      "Advertisements received while scanning.",
		}),
		dedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_hits_total",
			Help:      "Discoveries ignored because their fingerprint was already seen in this scan window.",
		}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Connection attempts by outcome.",
		}, []string{"outcome"}),
		sequenceAborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_aborts_total",
			Help:      "Exchanges aborted by a failed read or signal measurement.",
		}),
		longSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "long_sessions_total",
			Help:      "Long session transitions.",
		}, []string{"event"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Contact records offered to the store, by outcome and role.",
		}, []string{"outcome", "role"}),
		writesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_rejected_total",
			Help:      "Incoming writes rejected by the peripheral responder.",
		}),
		radioOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "radio_powered_on",
			Help:      "1 if the radio is powered on.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.discoveries, m.dedupHits, m.connects, m.sequenceAborts, m.longSessions,
			m.records, m.writesRejected, m.radioOn)
	}
	return m
}

func (m *Metrics) Discovered() {
	if m != nil {
		m.discoveries.Inc()
	}
}

func (m *Metrics) DedupHit() {
	if m != nil {
		m.dedupHits.Inc()
	}
}

// Connect counts a connection attempt outcome: "ok" or "failed".
func (m *Metrics) Connect(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.connects.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SequenceAborted() {
	if m != nil {
		m.sequenceAborts.Inc()
	}
}

// LongSession counts a long session transition, one of the Session* constants.
func (m *Metrics) LongSession(event string) {
	if m != nil {
		m.longSessions.WithLabelValues(event).Inc()
	}
}

// Record counts a record outcome, one of the Record* constants, for role "central" or
// "peripheral".
func (m *Metrics) Record(outcome, role string) {
	if m != nil {
		m.records.WithLabelValues(outcome, role).Inc()
	}
}

func (m *Metrics) WriteRejected() {
	if m != nil {
		m.writesRejected.Inc()
	}
}

func (m *Metrics) RadioOn(on bool) {
	if m == nil {
		return
	}
	if on {
		m.radioOn.Set(1)
	} else {
		m.radioOn.Set(0)
	}
}
