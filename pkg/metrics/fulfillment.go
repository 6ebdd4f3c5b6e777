package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FulfillmentMetrics tracks the order token lifecycle at the counters.
type FulfillmentMetrics struct {
	statusPolls      *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	expirations      prometheus.Counter
	deductionFails   prometheus.Counter
	crossCounterHits prometheus.Counter
}

// NewFulfillmentMetrics registers the fulfillment metrics on the provided registerer.
func NewFulfillmentMetrics(reg prometheus.Registerer) *FulfillmentMetrics {
	if reg == nil {
		return &FulfillmentMetrics{}
	}
	statusPolls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "token_status_polls_total",
		Help: "Token status lookups by reported status.",
	}, []string{"status"})
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "counter_deliveries_total",
		Help: "Successful counter deliveries, split by whether they completed the token.",
	}, []string{"complete"})
	expirations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "token_expirations_observed_total",
		Help: "Tokens found past their expiry during reads or delivery attempts.",
	})
	deductionFails := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inventory_deduction_failures_total",
		Help: "Post-delivery stock deductions that could not be applied.",
	})
	crossCounterHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cross_counter_deliveries_total",
		Help: "Deliveries confirmed by staff from a different counter.",
	})
	reg.MustRegister(statusPolls, deliveries, expirations, deductionFails, crossCounterHits)
	return &FulfillmentMetrics{
		statusPolls:      statusPolls,
		deliveries:       deliveries,
		expirations:      expirations,
		deductionFails:   deductionFails,
		crossCounterHits: crossCounterHits,
	}
}

// IncStatusPoll counts a status lookup by the status it reported.
func (f *FulfillmentMetrics) IncStatusPoll(status string) {
	if f == nil || f.statusPolls == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	f.statusPolls.WithLabelValues(status).Inc()
}

// IncDelivery counts a confirmed delivery. complete marks that the token
// transitioned to used as a result.
func (f *FulfillmentMetrics) IncDelivery(complete bool) {
	if f == nil || f.deliveries == nil {
		return
	}
	label := "false"
	if complete {
		label = "true"
	}
	f.deliveries.WithLabelValues(label).Inc()
}

// IncExpirationObserved counts a token found to be past expiry.
func (f *FulfillmentMetrics) IncExpirationObserved() {
	if f == nil || f.expirations == nil {
		return
	}
	f.expirations.Inc()
}

// IncDeductionFailure counts a post-delivery stock deduction that failed.
func (f *FulfillmentMetrics) IncDeductionFailure() {
	if f == nil || f.deductionFails == nil {
		return
	}
	f.deductionFails.Inc()
}

// IncCrossCounterDelivery counts a delivery confirmed away from the item's counter.
func (f *FulfillmentMetrics) IncCrossCounterDelivery() {
	if f == nil || f.crossCounterHits == nil {
		return
	}
	f.crossCounterHits.Inc()
}
