// Package metrics defines the pipeline's Prometheus collectors and a
// textfile writer for the node_exporter textfile collector directory —
// there is no HTTP server here, only a snapshot dumped at process exit.
package metrics

import (
	"fmt"

	"github.com/google/renameio/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Registry is a private registry rather than the global default, so a
// textfile dump never picks up Go-runtime collectors the default registry
// adds automatically.
var Registry = prometheus.NewRegistry()

// StageMetrics are the per-stage counters and timers every run updates.
var StageMetrics = struct {
	StagesCompleted *prometheus.CounterVec
	StagesFailed    *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	BooksCompleted  prometheus.Counter
	BooksQuarantined prometheus.Counter
	RetriesIssued   *prometheus.CounterVec
	LockContention  prometheus.Counter
}{
	StagesCompleted: promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "audiobook_pipeline_stages_completed_total",
		Help: "Total number of stage executions that completed successfully, by stage",
	}, []string{"stage"}),
	StagesFailed: promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "audiobook_pipeline_stages_failed_total",
		Help: "Total number of stage executions that failed, by stage and category",
	}, []string{"stage", "category"}),
	StageDuration: promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "audiobook_pipeline_stage_duration_seconds",
		Help:    "Stage execution duration in seconds, by stage",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 300, 900, 3600},
	}, []string{"stage"}),
	BooksCompleted: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "audiobook_pipeline_books_completed_total",
		Help: "Total number of books that completed every stage",
	}),
	BooksQuarantined: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "audiobook_pipeline_books_quarantined_total",
		Help: "Total number of books quarantined to the failed directory",
	}),
	RetriesIssued: promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "audiobook_pipeline_retries_total",
		Help: "Total number of transient-failure retries issued, by stage",
	}, []string{"stage"}),
	LockContention: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "audiobook_pipeline_lock_contention_total",
		Help: "Total number of runs that exited early because the global lock was already held",
	}),
}

// WriteTextfile renders the registry in the node_exporter textfile
// collector format and writes it atomically to path, so a half-written
// file is never scraped mid-update.
func WriteTextfile(path string) error {
	families, err := Registry.Gather()
	if err != nil {
		return fmt.Errorf("metrics: gather: %w", err)
	}

	t, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("metrics: create pending file: %w", err)
	}
	defer t.Cleanup()

	enc := expfmt.NewEncoder(t, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("metrics: encode: %w", err)
		}
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("metrics: commit %s: %w", path, err)
	}
	return nil
}
