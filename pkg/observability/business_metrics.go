package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Payment metrics
	paymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vpn_payments_total",
		Help: "Total number of payment callbacks processed",
	}, []string{
		"status", // success, duplicate, failed
		"action", // created, extended
	})

	paymentRevenue = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vpn_payment_revenue_total",
		Help: "Total revenue from successful payments, in currency units",
	}, []string{"tariff"})

	// Subscription lifecycle metrics
	subscriptionEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vpn_subscription_events_total",
		Help: "Subscription lifecycle transitions",
	}, []string{
		"event", // trial_activated, created, extended, reactivated, deactivated, bonus_applied
	})

	activeSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vpn_active_subscriptions",
		Help: "Number of currently active subscriptions",
	})

	// Scheduler metrics
	jobsFiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vpn_scheduler_jobs_fired_total",
		Help: "Scheduler job firings by handler and outcome",
	}, []string{"handler", "status"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vpn_scheduler_job_duration_seconds",
		Help:    "Duration of successful job handler executions",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"handler"})

	pendingJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vpn_scheduler_pending_jobs",
		Help: "Number of jobs waiting in the durable store",
	})

	// VPN provisioner metrics
	provisionerCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vpn_provisioner_calls_total",
		Help: "Outline API calls by operation and outcome",
	}, []string{"op", "status"})

	// Notification metrics
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vpn_notifications_total",
		Help: "Chat notifications by outcome",
	}, []string{"status"})
)

// RecordPayment records a processed payment callback
func RecordPayment(status, action string) {
	paymentsTotal.WithLabelValues(status, action).Inc()
}

// RecordRevenue adds a successful payment's amount to the revenue counter
func RecordRevenue(tariff string, amount float64) {
	paymentRevenue.WithLabelValues(tariff).Add(amount)
}

// RecordSubscriptionEvent records a lifecycle transition
func RecordSubscriptionEvent(event string) {
	subscriptionEventsTotal.WithLabelValues(event).Inc()
}

// UpdateActiveSubscriptions sets the active subscription gauge
func UpdateActiveSubscriptions(count float64) {
	activeSubscriptions.Set(count)
}

// RecordJobFired records one scheduler firing
func RecordJobFired(handler, status string) {
	jobsFiredTotal.WithLabelValues(handler, status).Inc()
}

// ObserveJobDuration records how long a successful handler took
func ObserveJobDuration(handler string, d time.Duration) {
	jobDuration.WithLabelValues(handler).Observe(d.Seconds())
}

// UpdatePendingJobs sets the pending jobs gauge
func UpdatePendingJobs(count float64) {
	pendingJobs.Set(count)
}

// RecordProvisionerCall records an Outline API call outcome
func RecordProvisionerCall(op, status string) {
	provisionerCallsTotal.WithLabelValues(op, status).Inc()
}

// RecordNotification records a chat delivery outcome
func RecordNotification(status string) {
	notificationsTotal.WithLabelValues(status).Inc()
}
