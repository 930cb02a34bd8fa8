package reciprocity

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	uploadedUnits      *prometheus.CounterVec
	optimisticUnchokes *prometheus.CounterVec
	requests           *prometheus.CounterVec
	droppedRequests    *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	counter := func(name, help string) *prometheus.CounterVec {
		cv := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reciprocity",
			Name:      name,
			Help:      help,
		}, []string{"strategy"})
		if reg == nil {
			return cv
		}
		return registerCounterVec(reg, cv)
	}
	return &metrics{
		uploadedUnits:      counter("uploaded_units_total", "Upload bandwidth units allocated."),
		optimisticUnchokes: counter("optimistic_unchokes_total", "Rounds with an optimistic unchoke."),
		requests:           counter("requests_total", "Piece requests emitted."),
		droppedRequests:    counter("dropped_requests_total", "Incoming requests ignored because the requester isn't in view."),
	}
}

// Agents share collectors when they're given the same Registerer.
func registerCounterVec(reg prometheus.Registerer, cv *prometheus.CounterVec) *prometheus.CounterVec {
	err := reg.Register(cv)
	if err == nil {
		return cv
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return are.ExistingCollector.(*prometheus.CounterVec)
	}
	panic(err)
}
