package urgency

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Metrics holds the collectors updated by Instrumented.
type Metrics struct {
	Calls    *prometheus.CounterVec
	Duration prometheus.Histogram
}

// NewMetrics creates the classifier collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "urgency_classifications_total",
				Help: "Urgency classification calls by outcome and assigned level",
			},
			[]string{"outcome", "level"},
		),
		Duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "urgency_classification_duration_seconds",
				Help:    "Latency of urgency classification calls",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Calls, m.Duration)
	}
	return m
}

type instrumented struct {
	next    Classifier
	metrics *Metrics
}

// Instrumented wraps next with logging and metrics. It never retries.
func Instrumented(next Classifier, metrics *Metrics) Classifier {
	return &instrumented{next: next, metrics: metrics}
}

func (c *instrumented) Classify(ctx context.Context, report Report) (Classification, error) {
	start := time.Now()
	result, err := c.next.Classify(ctx, report)
	elapsed := time.Since(start)

	outcome := Outcome(err)
	if c.metrics != nil {
		c.metrics.Calls.WithLabelValues(outcome, result.Level.String()).Inc()
		c.metrics.Duration.Observe(elapsed.Seconds())
	}

	if err != nil {
		log.Warn().
			Err(err).
			Str("category", report.Category.String()).
			Str("outcome", outcome).
			Dur("duration", elapsed).
			Msg("urgency classification failed")
		return Classification{}, err
	}

	log.Info().
		Str("category", report.Category.String()).
		Str("urgency", result.Level.String()).
		Dur("duration", elapsed).
		Msg("urgency classified")
	return result, nil
}
