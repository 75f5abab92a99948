// Package orchestrator sequences the pipeline's eight stages against one
// book: acquire the global lock, load or create its manifest, run every
// pending stage in canonical order, and route any failure through a
// central error trap that decides between a retry and quarantine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rodaddy/audiobook-pipeline/internal/config"
	"github.com/rodaddy/audiobook-pipeline/internal/errs"
	"github.com/rodaddy/audiobook-pipeline/internal/hashid"
	"github.com/rodaddy/audiobook-pipeline/internal/ledger"
	"github.com/rodaddy/audiobook-pipeline/internal/lock"
	"github.com/rodaddy/audiobook-pipeline/internal/logger"
	"github.com/rodaddy/audiobook-pipeline/internal/manifest"
	"github.com/rodaddy/audiobook-pipeline/internal/metrics"
	"github.com/rodaddy/audiobook-pipeline/internal/stage"
	"github.com/rodaddy/audiobook-pipeline/internal/webhook"
)

// Outcome is what Run reports to its caller, which maps it to the
// process exit code.
type Outcome int

const (
	OutcomeSuccess      Outcome = iota // stages completed, or were already complete
	OutcomeLockHeld                    // benign: another process holds the global lock
	OutcomeQuarantined                 // permanent failure, or retries exhausted
	OutcomeTransient                   // transient failure, safe to retry next cycle
)

// Options configures one Run invocation.
type Options struct {
	Cfg             *config.Config
	SourcePath      string
	Mode            manifest.Mode
	CLIASINOverride string
	Force           bool
	DryRun          bool
	Manifests       *manifest.Store
	Ledger          *ledger.Ledger // nil disables ledger recording
	Notifier        *webhook.Notifier
	StageDeps       stage.Context // Cfg/BookHash/SourcePath/WorkDir/Mode overwritten by Run
}

// Run executes the full pipeline for one book per opts. It acquires the
// global lock itself unless opts.Cfg.Flags.NoLock is set.
func Run(ctx context.Context, opts Options) (Outcome, error) {
	log := logger.FromContext(ctx)

	var heldLock *lock.Lock
	if !opts.Cfg.Flags.NoLock {
		l, err := lock.Global(opts.Cfg.Paths.LockDir)
		if err != nil {
			return OutcomeTransient, fmt.Errorf("orchestrator: open global lock: %w", err)
		}
		if err := l.TryAcquire(); err != nil {
			if errors.Is(err, lock.ErrHeld) {
				metrics.StageMetrics.LockContention.Inc()
				log.Info().Msg("global lock held by another process, exiting")
				return OutcomeLockHeld, nil
			}
			return OutcomeTransient, fmt.Errorf("orchestrator: acquire global lock: %w", err)
		}
		heldLock = l
		defer heldLock.Release()
	}

	bookHash, err := computeBookHash(opts.SourcePath)
	if err != nil {
		return OutcomeQuarantined, fmt.Errorf("orchestrator: compute book hash: %w", err)
	}
	log = log.WithStage("orchestrator", bookHash)

	m, err := opts.Manifests.Read(bookHash)
	if err != nil {
		return OutcomeTransient, fmt.Errorf("orchestrator: read manifest: %w", err)
	}
	if m == nil || opts.Force {
		m, err = opts.Manifests.Create(bookHash, opts.SourcePath, opts.Mode)
		if err != nil {
			return OutcomeTransient, fmt.Errorf("orchestrator: create manifest: %w", err)
		}
	}

	if m.Status == manifest.StatusCompleted && !opts.Force {
		log.Info().Msg("book already completed, skipping (use --force to redo)")
		return OutcomeSuccess, nil
	}

	if _, err := opts.Manifests.RewindFailedStage(bookHash); err != nil {
		return OutcomeTransient, fmt.Errorf("orchestrator: rewind failed stage: %w", err)
	}
	if _, err := opts.Manifests.Update(bookHash, func(m *manifest.Manifest) {
		m.Status = manifest.StatusRunning
	}); err != nil {
		return OutcomeTransient, fmt.Errorf("orchestrator: mark running: %w", err)
	}

	workDir := filepath.Join(opts.Cfg.Paths.WorkDir, bookHash)
	if err := seedOutputForSkippedConvert(opts.SourcePath, workDir, opts.Mode); err != nil {
		return OutcomeQuarantined, fmt.Errorf("orchestrator: seed work directory: %w", err)
	}

	sctx := opts.StageDeps
	sctx.Cfg = opts.Cfg
	sctx.Manifest = opts.Manifests
	sctx.BookHash = bookHash
	sctx.SourcePath = opts.SourcePath
	sctx.WorkDir = workDir
	sctx.Mode = opts.Mode
	sctx.CLIASINOverride = opts.CLIASINOverride
	sctx.Log = log

	for {
		select {
		case <-ctx.Done():
			return OutcomeTransient, ctx.Err()
		default:
		}

		m, err = opts.Manifests.Read(bookHash)
		if err != nil || m == nil {
			return OutcomeQuarantined, fmt.Errorf("orchestrator: re-read manifest: %w", err)
		}
		name, done := manifest.NextPendingStage(m)
		if done {
			break
		}

		fn, ok := stage.Registry[name]
		if !ok {
			return OutcomeQuarantined, fmt.Errorf("orchestrator: no stage implementation for %q", name)
		}

		start := time.Now()
		stageErr := fn(ctx, &sctx)
		metrics.StageMetrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

		if stageErr == nil {
			metrics.StageMetrics.StagesCompleted.WithLabelValues(name).Inc()
			opts.recordLedger(bookHash, opts.SourcePath, name, "completed", "", "", 0)
			continue
		}

		se, ok := errs.As(stageErr)
		if !ok {
			se = errs.WrapTransient(name, 1, stageErr, "stage returned an uncategorized error")
		}
		metrics.StageMetrics.StagesFailed.WithLabelValues(name, se.Category.String()).Inc()

		if _, err := opts.Manifests.SetStage(bookHash, name, manifest.StageFailed, nil); err != nil {
			log.Warn().Err(err).Msg("failed to record stage failure on manifest")
		}
		opts.recordLedger(bookHash, opts.SourcePath, name, "failed", se.Category.String(), se.Error(), m.RetryCount)

		if se.Category == errs.Permanent {
			return quarantine(ctx, opts, bookHash, name, se)
		}

		if _, err := opts.Manifests.IncrementRetry(bookHash, name, se.ExitCode, se.Error(), se.Category.String()); err != nil {
			log.Warn().Err(err).Msg("failed to increment retry count")
		}
		metrics.StageMetrics.RetriesIssued.WithLabelValues(name).Inc()

		refreshed, err := opts.Manifests.Read(bookHash)
		if err == nil && refreshed != nil && refreshed.RetryCount >= refreshed.MaxRetries {
			return quarantine(ctx, opts, bookHash, name, se)
		}

		log.Warn().Err(se).Str("stage", name).Msg("stage failed transiently, will retry next cycle")
		return OutcomeTransient, se
	}

	if _, err := opts.Manifests.Update(bookHash, func(m *manifest.Manifest) {
		m.Status = manifest.StatusCompleted
	}); err != nil {
		return OutcomeTransient, fmt.Errorf("orchestrator: mark completed: %w", err)
	}
	metrics.StageMetrics.BooksCompleted.Inc()
	log.Info().Msg("pipeline completed")
	return OutcomeSuccess, nil
}

// quarantine moves the book's source into FAILED_DIR with an ERROR.txt
// summary and a copy of its manifest, fires the failure webhook, and
// marks the manifest failed.
func quarantine(ctx context.Context, opts Options, bookHash, stageName string, se *errs.StageError) (Outcome, error) {
	log := logger.FromContext(ctx).WithStage(stageName, bookHash)

	if _, err := opts.Manifests.Update(bookHash, func(m *manifest.Manifest) {
		m.Status = manifest.StatusFailed
	}); err != nil {
		log.Warn().Err(err).Msg("failed to mark manifest failed during quarantine")
	}

	if err := moveToFailedDir(opts, bookHash, se); err != nil {
		log.Warn().Err(err).Msg("failed to quarantine source to FAILED_DIR")
	}

	metrics.StageMetrics.BooksQuarantined.Inc()
	retryCount := 0
	if m, err := opts.Manifests.Read(bookHash); err == nil && m != nil {
		retryCount = m.RetryCount
	}
	opts.Notifier.Fire(ctx, bookHash, opts.SourcePath, stageName, se.Category.String(), se.Error(), retryCount)
	log.Error().Err(se).Msg("stage failed permanently, book quarantined")
	return OutcomeQuarantined, se
}

func moveToFailedDir(opts Options, bookHash string, se *errs.StageError) error {
	destDir := filepath.Join(opts.Cfg.Paths.FailedDir, bookHash)
	if err := os.MkdirAll(destDir, opts.Cfg.Perms.DirMode); err != nil {
		return err
	}

	errorText := fmt.Sprintf("stage: %s\ncategory: %s\nmessage: %s\ntime: %s\n",
		se.Stage, se.Category, se.Error(), time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(filepath.Join(destDir, "ERROR.txt"), []byte(errorText), opts.Cfg.Perms.FileMode); err != nil {
		return err
	}

	if m, err := opts.Manifests.Read(bookHash); err == nil && m != nil {
		if data, err := readManifestCopy(opts.Manifests, bookHash); err == nil {
			_ = os.WriteFile(filepath.Join(destDir, bookHash+".json"), data, opts.Cfg.Perms.FileMode)
		}
	}

	info, err := os.Stat(opts.SourcePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if info.IsDir() {
		return moveDir(opts.SourcePath, filepath.Join(destDir, "source"))
	}
	return moveFile(opts.SourcePath, filepath.Join(destDir, filepath.Base(opts.SourcePath)))
}

// moveDir relocates src into dst, renaming when possible and falling back
// to a shallow copy-then-remove across filesystems. A quarantined source
// must actually leave the incoming path — a copy would leave it behind for
// the next automation cycle to re-discover and re-quarantine forever.
func moveDir(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyDirShallow(src, dst); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

// moveFile relocates src to dst the same way moveDir does for a
// single-file (enrich-mode) source.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func readManifestCopy(store *manifest.Store, bookHash string) ([]byte, error) {
	return os.ReadFile(filepath.Join(store.Dir, bookHash+".json"))
}

func copyDirShallow(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// computeBookHash derives the book-identity hash for sourcePath, handling
// both the directory (multi-file) and single-M4B (enrich-mode) cases.
func computeBookHash(sourcePath string) (string, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return hashid.BookHashForFile(sourcePath, info.Size()), nil
	}

	entries, err := os.ReadDir(sourcePath)
	if err != nil {
		return "", err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && hashid.IsAudioFile(e.Name()) {
			files = append(files, filepath.Join(sourcePath, e.Name()))
		}
	}
	hashid.SortAudioFiles(files)
	return hashid.BookHashForDir(sourcePath, files), nil
}

// seedOutputForSkippedConvert copies the source .m4b into the work
// directory as stage.OutputName for modes whose manifest pre-marks
// convert completed (enrich, metadata-only, organize-only) — those modes
// never run stage.Convert, so nothing else produces output.m4b.
func seedOutputForSkippedConvert(sourcePath, workDir string, mode manifest.Mode) error {
	if mode == manifest.ModeConvert {
		return nil
	}
	info, err := os.Stat(sourcePath)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("mode %q requires a single .m4b source file, got a directory", mode)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return err
	}
	dest := filepath.Join(workDir, stage.OutputName)
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	return copyFile(sourcePath, dest)
}

func (o Options) recordLedger(bookHash, sourcePath, stageName, status, category, message string, retryCount int) {
	if o.Ledger == nil {
		return
	}
	_ = o.Ledger.Record(ledger.Entry{
		BookHash:   bookHash,
		SourcePath: sourcePath,
		Stage:      stageName,
		Status:     status,
		Category:   category,
		Message:    message,
		RetryCount: retryCount,
	})
}
