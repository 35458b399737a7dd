package metrics

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
)

func TestEventMetricsExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEventMetrics(reg)

	m.ShippingRecorded("Shipped")
	m.ShippingRecorded("Shipped")
	m.ShippingRejected("")
	m.PaymentRecorded("Settle")
	m.OfferApplied("Summer", 3, decimal.RequireFromString("7.50"))
	m.StockOperation("consume")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	cases := []struct {
		name, label, value string
		want               float64
	}{
		{"shipping_events_recorded_total", "event_type", "Shipped", 2},
		{"shipping_events_rejected_total", "event_type", "unknown", 1},
		{"payment_events_recorded_total", "event_type", "Settle", 1},
		{"offer_applications_total", "offer", "Summer", 3},
		{"offer_discount_amount_total", "offer", "Summer", 7.5},
		{"stock_allocation_operations_total", "operation", "consume", 1},
	}
	for _, tc := range cases {
		got, err := fetchCounterValue(mfs, tc.name, tc.label, tc.value)
		if err != nil {
			t.Fatalf("fetch %s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestEventMetricsNilSafe(t *testing.T) {
	var m *EventMetrics
	m.ShippingRecorded("Shipped")
	m.PaymentRejected("Settle")
	m.OfferApplied("x", 1, decimal.NewFromInt(1))
	m.StockOperation("allocate")

	unregistered := NewEventMetrics(nil)
	unregistered.ShippingRejected("Shipped")
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return metric.GetCounter().GetValue(), nil
				}
			}
		}
		return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
	}
	return 0, fmt.Errorf("metric %q not found", name)
}
