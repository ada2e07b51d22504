// Package metrics holds the Prometheus collectors for the lead pipeline.
// A nil *Pipeline is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "leadscout"

// Candidate outcomes.
const (
	OutcomeAccepted    = "accepted"
	OutcomeUnreachable = "unreachable"
	OutcomeEnriched    = "already_enriched"
	OutcomeError       = "error"
)

// Analysis and report outcomes.
const (
	OutcomeWritten  = "written"
	OutcomeConflict = "conflict_ignored"
	OutcomeSent     = "sent"
	OutcomeEmpty    = "empty"
)

// Pipeline holds all stage metrics.
type Pipeline struct {
	UsersTriggered *prometheus.CounterVec
	Candidates     *prometheus.CounterVec
	RawLeads       prometheus.Counter
	LeadsAnalyzed  *prometheus.CounterVec
	AIDuration     prometheus.Histogram
	Reports        *prometheus.CounterVec
	DeadLetters    *prometheus.CounterVec
	LeadsPurged    prometheus.Counter
}

// New creates the pipeline metrics and registers them on reg.
func New(reg prometheus.Registerer) *Pipeline {
	p := &Pipeline{
		UsersTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "users_triggered_total",
			Help:      "Users for whom a stage task was submitted, by cycle.",
		}, []string{"cycle"}),
		Candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Candidates seen by the collector, by outcome.",
		}, []string{"outcome"}),
		RawLeads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raw_leads_emitted_total",
			Help:      "Raw lead messages published to the analyzer.",
		}),
		LeadsAnalyzed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leads_analyzed_total",
			Help:      "Raw lead messages handled by the analyzer, by outcome.",
		}, []string{"outcome"}),
		AIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_generate_duration_seconds",
			Help:      "Latency of AI enrichment calls.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		}),
		Reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Daily reports handled by the notifier, by outcome.",
		}, []string{"outcome"}),
		DeadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letters_total",
			Help:      "Messages that exhausted their delivery attempts.",
		}, []string{"queue"}),
		LeadsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leads_purged_total",
			Help:      "Lead records deleted by retention.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			p.UsersTriggered, p.Candidates, p.RawLeads, p.LeadsAnalyzed,
			p.AIDuration, p.Reports, p.DeadLetters, p.LeadsPurged,
		)
	}
	return p
}

func (p *Pipeline) UserTriggered(cycle string) {
	if p != nil {
		p.UsersTriggered.WithLabelValues(cycle).Inc()
	}
}

func (p *Pipeline) Candidate(outcome string) {
	if p != nil {
		p.Candidates.WithLabelValues(outcome).Inc()
	}
}

func (p *Pipeline) RawLeadEmitted() {
	if p != nil {
		p.RawLeads.Inc()
	}
}

func (p *Pipeline) LeadAnalyzed(outcome string) {
	if p != nil {
		p.LeadsAnalyzed.WithLabelValues(outcome).Inc()
	}
}

func (p *Pipeline) ObserveAI(d time.Duration) {
	if p != nil {
		p.AIDuration.Observe(d.Seconds())
	}
}

func (p *Pipeline) Report(outcome string) {
	if p != nil {
		p.Reports.WithLabelValues(outcome).Inc()
	}
}

func (p *Pipeline) DeadLetter(queue string) {
	if p != nil {
		p.DeadLetters.WithLabelValues(queue).Inc()
	}
}

func (p *Pipeline) Purged(n int64) {
	if p != nil && n > 0 {
		p.LeadsPurged.Add(float64(n))
	}
}
