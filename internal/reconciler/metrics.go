// metrics.go — Prometheus метрики согласования профилей.
package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Исходы цикла согласования (лейбл outcome).
const (
	outcomeReady           = "ready"
	outcomeReadyDuplicates = "ready_duplicates"
	outcomeCreated         = "created"
	outcomeCreateFailed    = "create_failed"
	outcomeDegraded        = "degraded"
	outcomeUnauthenticated = "unauthenticated"
	outcomeSuperseded      = "superseded"
)

var (
	// resolutionsTotal — завершённые циклы согласования по исходу.
	resolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sf_reconciler_resolutions_total",
			Help: "Количество циклов согласования профиля по исходу",
		},
		[]string{"source", "outcome"},
	)

	// lookupAttemptsTotal — попытки чтения профиля.
	lookupAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sf_reconciler_lookup_attempts_total",
		Help: "Количество попыток чтения профиля из Record Store",
	})

	// duplicateProfilesTotal — обнаруженные наборы дубликатов.
	duplicateProfilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sf_reconciler_duplicate_profiles_total",
			Help: "Количество случаев, когда у Identity найдено больше одного профиля",
		},
		[]string{"source"},
	)

	// staleResultsTotal — отброшенные результаты устаревших поколений.
	staleResultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sf_reconciler_stale_results_total",
		Help: "Количество результатов согласования, отброшенных как устаревшие",
	})

	// resolutionDuration — длительность цикла согласования.
	resolutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sf_reconciler_resolution_duration_seconds",
			Help:    "Длительность цикла согласования профиля в секундах",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 3, 5, 10},
		},
		[]string{"source"},
	)
)

// Источники согласования (лейбл source).
const (
	sourceSession  = "session"
	sourceCallback = "callback"
)
