package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Failure reasons used as the "reason" label on emails_failed_total.
const (
	ReasonValidation = "validation"
	ReasonExhausted  = "exhausted"
	ReasonInternal   = "internal"
)

type Collector struct {
	EmailsSent      prometheus.Counter
	EmailsRetried   prometheus.Counter
	EmailFailures   *prometheus.CounterVec
	ClaimsLost      prometheus.Counter
	ClaimsReaped    prometheus.Counter
	DeliveryLatency prometheus.Histogram
	RunDuration     *prometheus.HistogramVec
}

// New registers the queue metrics on reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		EmailsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total emails sent",
		}),
		EmailsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emails_retried_total",
			Help: "Total deliveries rescheduled after a provider failure",
		}),
		EmailFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "email_failures_total",
			Help: "Total emails permanently failed",
		}, []string{"reason"}),
		ClaimsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "email_claims_lost_total",
			Help: "Jobs skipped because another pass claimed them first",
		}),
		ClaimsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "email_claims_reaped_total",
			Help: "Stale sending jobs returned to pending",
		}),
		DeliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "email_delivery_duration_seconds",
			Help:    "Time spent in the delivery provider per attempt",
			Buckets: prometheus.DefBuckets,
		}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "email_worker_run_duration_seconds",
			Help:    "Duration of one worker invocation",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120},
		}, []string{"trigger"}),
	}

	if reg != nil {
		reg.MustRegister(
			c.EmailsSent,
			c.EmailsRetried,
			c.EmailFailures,
			c.ClaimsLost,
			c.ClaimsReaped,
			c.DeliveryLatency,
			c.RunDuration,
		)
	}
	return c
}

func (c *Collector) Sent() { c.EmailsSent.Inc() }
func (c *Collector) Retried() { c.EmailsRetried.Inc() }
func (c *Collector) Failed(reason string) { c.EmailFailures.WithLabelValues(reason).Inc() }
func (c *Collector) ClaimLost() { c.ClaimsLost.Inc() }
func (c *Collector) Reaped(n int64) { c.ClaimsReaped.Add(float64(n)) }
func (c *Collector) Delivery(d time.Duration) { c.DeliveryLatency.Observe(d.Seconds()) }

func (c *Collector) Run(trigger string, d time.Duration) {
	c.RunDuration.WithLabelValues(trigger).Observe(d.Seconds())
}
