// Package metrics - счетчики Prometheus по переходам заказов и выплатам.
// Нулевой *Metrics допустим: методы ничего не делают.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/iurnickita/foodmart/internal/model"
)

type Metrics struct {
	transitions   *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	settlements   *prometheus.CounterVec
	settledAmount *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foodmart",
			Name:      "order_transitions_total",
			Help:      "Successful order status transitions.",
		}, []string{"from", "to"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foodmart",
			Name:      "order_rejections_total",
			Help:      "Rejected order operations by operation and error kind.",
		}, []string{"operation", "reason"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foodmart",
			Name:      "settlements_total",
			Help:      "Recorded settlements.",
		}, []string{"target"}),
		settledAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foodmart",
			Name:      "settled_amount_total",
			Help:      "Sum of recorded settlement amounts.",
		}, []string{"target"}),
	}
	reg.MustRegister(m.transitions, m.rejections, m.settlements, m.settledAmount)
	return m
}

func (m *Metrics) Transition(from, to model.OrderStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) Rejected(operation string, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(operation, reason).Inc()
}

func (m *Metrics) Settlement(target model.TargetType, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(string(target)).Inc()
	m.settledAmount.WithLabelValues(string(target)).Add(amount.InexactFloat64())
}
