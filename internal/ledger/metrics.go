package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	OperationsTotal *prometheus.CounterVec
	RejectionsTotal *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_operations_total",
				Help: "Committed ledger operations by type.",
			},
			[]string{"type"},
		),
		RejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_rejections_total",
				Help: "Rejected ledger operations by reason.",
			},
			[]string{"type", "reason"},
		),
	}
	registry.MustRegister(m.OperationsTotal, m.RejectionsTotal)
	return m
}

func (m *Metrics) IncOperation(opType string) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(opType).Inc()
}

func (m *Metrics) IncRejection(opType, reason string) {
	if m == nil {
		return
	}
	m.RejectionsTotal.WithLabelValues(opType, reason).Inc()
}
