package scanmatch

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Scan matching Prometheus metrics.
var (
	MatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tudoloc",
			Name:      "matches_total",
			Help:      "Total number of scan match requests",
		},
		[]string{"robot", "status"},
	)

	MatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tudoloc",
			Name:      "match_duration_seconds",
			Help:      "Scan match duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"robot"},
	)

	MatchExpansions = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tudoloc",
			Name:      "match_expansions",
			Help:      "Number of frontier expansions per scan match",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		},
		[]string{"robot"},
	)

	MatchScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tudoloc",
			Name:      "match_score",
			Help:      "Score of the last accepted scan match",
		},
		[]string{"robot"},
	)

	MapUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tudoloc",
			Name:      "map_updates_total",
			Help:      "Total number of map updates received",
		},
		[]string{"robot", "status"},
	)
)

var registerOnce sync.Once

// RegisterMetrics registers the scan matching metrics with the default
// registry. Safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(MatchesTotal)
		prometheus.MustRegister(MatchDuration)
		prometheus.MustRegister(MatchExpansions)
		prometheus.MustRegister(MatchScore)
		prometheus.MustRegister(MapUpdatesTotal)
	})
}

func observeMatch(robotID string, result MatchResult) {
	MatchesTotal.WithLabelValues(robotID, "ok").Inc()
	MatchDuration.WithLabelValues(robotID).Observe(result.Stats.Duration.Seconds())
	MatchExpansions.WithLabelValues(robotID).Observe(float64(result.Stats.Expansions))
	MatchScore.WithLabelValues(robotID).Set(result.Score)
}
