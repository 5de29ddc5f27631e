package incident

import "github.com/prometheus/client_golang/prometheus"

// Hooks observe registry activity. Nil fields are skipped.
type Hooks struct {
	OnReport   func(result ReportResult)
	OnVote     func(kind VoteKind, applied bool)
	OnRaceLost func()

	// OnScore is called with the active incident's total score after each
	// change, and with active false once it is resolved.
	OnScore func(total int64, active bool)
}

func (h Hooks) report(result ReportResult) {
	if h.OnReport != nil {
		h.OnReport(result)
	}
}

func (h Hooks) vote(kind VoteKind, applied bool) {
	if h.OnVote != nil {
		h.OnVote(kind, applied)
	}
}

func (h Hooks) raceLost() {
	if h.OnRaceLost != nil {
		h.OnRaceLost()
	}
}

func (h Hooks) score(total int64, active bool) {
	if h.OnScore != nil {
		h.OnScore(total, active)
	}
}

// Metrics holds Prometheus metrics for the incident registry.
type Metrics struct {
	ReportsTotal   *prometheus.CounterVec
	VotesTotal     *prometheus.CounterVec
	RaceLostTotal  prometheus.Counter
	ActiveIncident prometheus.Gauge
	TotalScore     prometheus.Gauge
}

// NewMetrics registers and returns registry metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "downtime_reports_total",
			Help: "Downtime reports by outcome.",
		}, []string{"outcome"}),
		VotesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "downtime_votes_total",
			Help: "Votes by kind and whether they hit the active incident.",
		}, []string{"kind", "result"}),
		RaceLostTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "downtime_incident_create_races_lost_total",
			Help: "Incident creations discarded because another incident was installed first.",
		}),
		ActiveIncident: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "downtime_incident_active",
			Help: "1 while an incident is active.",
		}),
		TotalScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "downtime_incident_total_score",
			Help: "Weighted vote score of the active incident.",
		}),
	}

	reg.MustRegister(
		m.ReportsTotal,
		m.VotesTotal,
		m.RaceLostTotal,
		m.ActiveIncident,
		m.TotalScore,
	)

	return m
}

// Hooks returns registry Hooks that update the metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnReport: func(result ReportResult) {
			m.ReportsTotal.WithLabelValues(string(result)).Inc()
		},
		OnVote: func(kind VoteKind, applied bool) {
			result := "applied"
			if !applied {
				result = "stale"
			}
			m.VotesTotal.WithLabelValues(string(kind), result).Inc()
		},
		OnRaceLost: func() {
			m.RaceLostTotal.Inc()
		},
		OnScore: func(total int64, active bool) {
			m.TotalScore.Set(float64(total))
			if active {
				m.ActiveIncident.Set(1)
			} else {
				m.ActiveIncident.Set(0)
			}
		},
	}
}
