package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// EventMetrics counts ledger writes, offer applications and stock operations.
// A nil *EventMetrics is valid and records nothing.
type EventMetrics struct {
	shippingRecorded *prometheus.CounterVec
	shippingRejected *prometheus.CounterVec
	paymentRecorded  *prometheus.CounterVec
	paymentRejected  *prometheus.CounterVec
	offerApplied     *prometheus.CounterVec
	offerDiscount    *prometheus.CounterVec
	stockOps         *prometheus.CounterVec
}

// NewEventMetrics registers the event metrics on the provided registerer.
func NewEventMetrics(reg prometheus.Registerer) *EventMetrics {
	if reg == nil {
		return &EventMetrics{}
	}
	m := &EventMetrics{
		shippingRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipping_events_recorded_total",
			Help: "Shipping events written to the ledger.",
		}, []string{"event_type"}),
		shippingRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipping_events_rejected_total",
			Help: "Shipping events refused by validation.",
		}, []string{"event_type"}),
		paymentRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_events_recorded_total",
			Help: "Payment events written to the ledger.",
		}, []string{"event_type"}),
		paymentRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_events_rejected_total",
			Help: "Payment events refused by validation.",
		}, []string{"event_type"}),
		offerApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offer_applications_total",
			Help: "Offer benefit applications against baskets.",
		}, []string{"offer"}),
		offerDiscount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offer_discount_amount_total",
			Help: "Sum of discounts granted by offers.",
		}, []string{"offer"}),
		stockOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_allocation_operations_total",
			Help: "Stock allocation operations by kind.",
		}, []string{"operation"}),
	}
	reg.MustRegister(
		m.shippingRecorded,
		m.shippingRejected,
		m.paymentRecorded,
		m.paymentRejected,
		m.offerApplied,
		m.offerDiscount,
		m.stockOps,
	)
	return m
}

func (m *EventMetrics) ShippingRecorded(eventType string) {
	if m == nil || m.shippingRecorded == nil {
		return
	}
	m.shippingRecorded.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *EventMetrics) ShippingRejected(eventType string) {
	if m == nil || m.shippingRejected == nil {
		return
	}
	m.shippingRejected.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *EventMetrics) PaymentRecorded(eventType string) {
	if m == nil || m.paymentRecorded == nil {
		return
	}
	m.paymentRecorded.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *EventMetrics) PaymentRejected(eventType string) {
	if m == nil || m.paymentRejected == nil {
		return
	}
	m.paymentRejected.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// OfferApplied records one or more applications of an offer and the discount
// they produced.
func (m *EventMetrics) OfferApplied(offer string, times int, discount decimal.Decimal) {
	if m == nil || m.offerApplied == nil || times <= 0 {
		return
	}
	label := normalizeLabel(offer)
	m.offerApplied.WithLabelValues(label).Add(float64(times))
	amount, _ := discount.Float64()
	if amount > 0 {
		m.offerDiscount.WithLabelValues(label).Add(amount)
	}
}

// StockOperation counts allocate, consume, cancel and restock calls.
func (m *EventMetrics) StockOperation(op string) {
	if m == nil || m.stockOps == nil {
		return
	}
	m.stockOps.WithLabelValues(normalizeLabel(op)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
