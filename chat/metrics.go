package chat

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts replies and summary folds and tracks prompt size.
type Metrics struct {
	replies      *prometheus.CounterVec
	folds        *prometheus.CounterVec
	promptTokens prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		replies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sumchat_replies_total",
				Help: "Replies returned to the user, by outcome.",
			},
			[]string{"status"},
		),
		folds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sumchat_summary_folds_total",
				Help: "Attempts to fold buffered turns into the summary, by outcome.",
			},
			[]string{"outcome"},
		),
		promptTokens: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sumchat_prompt_tokens",
				Help:    "Approximate token count of prompts sent for generation.",
				Buckets: prometheus.ExponentialBuckets(32, 2, 8),
			},
		),
	}

	for _, c := range []prometheus.Collector{m.replies, m.folds, m.promptTokens} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) reply(status string) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(status).Inc()
}

func (m *Metrics) fold(outcome string) {
	if m == nil {
		return
	}
	m.folds.WithLabelValues(outcome).Inc()
}

func (m *Metrics) prompt(tokens int) {
	if m == nil {
		return
	}
	m.promptTokens.Observe(float64(tokens))
}
