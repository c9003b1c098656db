// Package metrics has the prometheus metrics of the metadata engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCASAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxmeta_cas_attempts_total",
			Help: "Conditional write attempts, per operation.",
		},
		[]string{"op"},
	)
	metricCASConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxmeta_cas_conflicts_total",
			Help: "Conditional writes rejected because of a concurrent writer, per operation.",
		},
		[]string{"op"},
	)
	metricCASExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxmeta_cas_exhausted_total",
			Help: "Operations that gave up after the retry bound, per operation.",
		},
		[]string{"op"},
	)
	metricMalformedACL = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boxmeta_acl_malformed_total",
			Help: "Persisted ACLs that could not be decoded and were read as empty.",
		},
	)
	metricFlagUpdateSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boxmeta_flag_update_skipped_total",
			Help: "Flag updates skipped because the message was expunged concurrently.",
		},
	)
	metricIndexInconsistent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boxmeta_index_inconsistent_total",
			Help: "Lookups that found only one half of a UID/message-id index pair.",
		},
	)
)

// CAS implements retry.Observer on top of the CAS counters.
type CAS struct{}

func (CAS) Attempt(op string)   { metricCASAttempts.WithLabelValues(op).Inc() }
func (CAS) Conflict(op string)  { metricCASConflicts.WithLabelValues(op).Inc() }
func (CAS) Exhausted(op string) { metricCASExhausted.WithLabelValues(op).Inc() }

func MalformedACL() {
	metricMalformedACL.Inc()
}

func FlagUpdateSkipped() {
	metricFlagUpdateSkipped.Inc()
}

func IndexInconsistent() {
	metricIndexInconsistent.Inc()
}
