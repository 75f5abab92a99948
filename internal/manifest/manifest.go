// Package manifest implements the per-book JSON state document: the single
// source of truth for resume. One document per book
// hash, written atomically via github.com/google/renameio/v2 so a reader
// never observes torn JSON.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// Mode selects which stage prefix/suffix is pre-marked completed at
// manifest creation, matching the documented stage-order table.
type Mode string

const (
	ModeConvert  Mode = "convert"
	ModeEnrich   Mode = "enrich"
	ModeMetadata Mode = "metadata-only"
	ModeOrganize Mode = "organize-only"
)

// Status is the book-level lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StageStatus is a single stage's completion state.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// canonicalOrder is the conversion-mode stage order the pipeline contract names as
// canonical; other modes pre-mark a prefix or suffix of it completed
// rather than using a different order, per the Open Question decision
// recorded for this package.
var canonicalOrder = []string{
	"validate", "concat", "convert", "asin", "metadata", "organize", "archive", "cleanup",
}

// StageOrder returns the canonical stage sequence for mode. All modes share
// one order; only the pre-filled completion prefix/suffix differs.
func StageOrder(mode Mode) []string {
	out := make([]string, len(canonicalOrder))
	copy(out, canonicalOrder)
	return out
}

// prefilledStages returns which stage names should be marked completed at
// creation time for mode: enrich mode pre-marks validate/concat/convert as
// completed, metadata-only adds asin, and organize-only adds metadata too.
func prefilledStages(mode Mode) map[string]bool {
	switch mode {
	case ModeEnrich:
		return map[string]bool{"validate": true, "concat": true, "convert": true}
	case ModeMetadata:
		return map[string]bool{"validate": true, "concat": true, "convert": true, "asin": true}
	case ModeOrganize:
		return map[string]bool{"validate": true, "concat": true, "convert": true, "asin": true, "metadata": true}
	default:
		return nil
	}
}

// LastError records the most recent stage failure, stored as the
// manifest's `last_error` field.
type LastError struct {
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	ExitCode  int       `json:"exit_code"`
	Message   string    `json:"message"`
	Category  string    `json:"category"`
}

// StageRecord is one entry of the manifest's `stages` map.
type StageRecord struct {
	Status      StageStatus    `json:"status"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	OutputPath  string         `json:"output_path,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Manifest is the full per-book JSON document persisted to <hash>.json.
type Manifest struct {
	BookHash    string                  `json:"book_hash"`
	SourcePath  string                  `json:"source_path"`
	Mode        Mode                    `json:"mode"`
	CreatedAt   time.Time               `json:"created_at"`
	Status      Status                  `json:"status"`
	RetryCount  int                     `json:"retry_count"`
	MaxRetries  int                     `json:"max_retries"`
	LastError   *LastError              `json:"last_error,omitempty"`
	Stages      map[string]*StageRecord `json:"stages"`
	BookMeta    map[string]any          `json:"metadata,omitempty"`
}

// ErrManifestMissing is returned by Update/SetStage/IncrementRetry when no
// manifest exists for the given hash.
var ErrManifestMissing = errors.New("manifest: no manifest for this book hash")

// Store is the manifest store, rooted at one directory holding
// `<hash>.json` files.
type Store struct {
	Dir        string
	MaxRetries int
}

// NewStore returns a Store rooted at dir, creating it if necessary.
func NewStore(dir string, maxRetries int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("manifest: create store dir: %w", err)
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Store{Dir: dir, MaxRetries: maxRetries}, nil
}

func (s *Store) path(hash string) string {
	return filepath.Join(s.Dir, hash+".json")
}

// Read loads the manifest for hash. A missing file returns (nil, nil) — per
// the pipeline contract, "a read on a missing file returns null (not an error)".
func (s *Store) Read(hash string) (*Manifest, error) {
	data, err := os.ReadFile(s.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("manifest: read %s: %w", hash, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse %s: %w", hash, err)
	}
	return &m, nil
}

// Create builds a new manifest for hash with the given source/mode, with
// the mode's prefix/suffix of stages pre-marked completed, and persists it.
func (s *Store) Create(hash, sourcePath string, mode Mode) (*Manifest, error) {
	pre := prefilledStages(mode)
	stages := make(map[string]*StageRecord, len(canonicalOrder))
	for _, name := range canonicalOrder {
		status := StagePending
		if pre[name] {
			status = StageCompleted
		}
		stages[name] = &StageRecord{Status: status}
	}
	m := &Manifest{
		BookHash:   hash,
		SourcePath: sourcePath,
		Mode:       mode,
		CreatedAt:  time.Now().UTC(),
		Status:     StatusPending,
		MaxRetries: s.MaxRetries,
		Stages:     stages,
	}
	if err := s.write(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Update persists an arbitrary mutation applied to an already-loaded
// manifest. Returns ErrManifestMissing if hash has no manifest on disk.
func (s *Store) Update(hash string, patch func(m *Manifest)) (*Manifest, error) {
	m, err := s.Read(hash)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrManifestMissing
	}
	patch(m)
	if err := s.write(m); err != nil {
		return nil, err
	}
	return m, nil
}

// SetStage sets one stage's status (and optional extra fields), stamping
// CompletedAt when the status is StageCompleted.
func (s *Store) SetStage(hash, stage string, status StageStatus, extra map[string]any) (*Manifest, error) {
	return s.Update(hash, func(m *Manifest) {
		rec, ok := m.Stages[stage]
		if !ok {
			rec = &StageRecord{}
			m.Stages[stage] = rec
		}
		rec.Status = status
		if extra != nil {
			rec.Extra = extra
		}
		if status == StageCompleted {
			now := time.Now().UTC()
			rec.CompletedAt = &now
		} else {
			rec.CompletedAt = nil
		}
	})
}

// IncrementRetry bumps retry_count and records the triggering error as
// last_error, the same fields the error-handler trap records.
func (s *Store) IncrementRetry(hash string, stage string, exitCode int, message, category string) (*Manifest, error) {
	return s.Update(hash, func(m *Manifest) {
		m.RetryCount++
		m.LastError = &LastError{
			Stage:     stage,
			Timestamp: time.Now().UTC(),
			ExitCode:  exitCode,
			Message:   message,
			Category:  category,
		}
	})
}

// RewindFailedStage resets every failed stage back to pending at the start
// of a retry run, so NextPendingStage resumes at the correct point instead
// of treating a prior failure as permanent.
func (s *Store) RewindFailedStage(hash string) (*Manifest, error) {
	return s.Update(hash, func(m *Manifest) {
		for _, name := range canonicalOrder {
			if rec, ok := m.Stages[name]; ok && rec.Status == StageFailed {
				rec.Status = StagePending
				rec.CompletedAt = nil
			}
		}
	})
}

// NextPendingStage iterates the canonical stage order and returns the
// first stage whose status is not completed, or ("", true) if every stage
// is completed.
func NextPendingStage(m *Manifest) (stage string, done bool) {
	for _, name := range canonicalOrder {
		rec, ok := m.Stages[name]
		if !ok || rec.Status != StageCompleted {
			return name, false
		}
	}
	return "", true
}

// AllStagesCompleted reports whether every canonical stage is completed,
// the condition the pipeline contract requires before status may be "completed".
func AllStagesCompleted(m *Manifest) bool {
	_, done := NextPendingStage(m)
	return done
}

// write serializes m and persists it atomically: a sibling temp file on
// the same filesystem, fsynced, then renamed into place.
func (s *Store) write(m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: encode %s: %w", m.BookHash, err)
	}
	t, err := renameio.NewPendingFile(s.path(m.BookHash))
	if err != nil {
		return fmt.Errorf("manifest: create pending file: %w", err)
	}
	defer t.Cleanup()

	if _, err := t.Write(data); err != nil {
		return fmt.Errorf("manifest: write %s: %w", m.BookHash, err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("manifest: commit %s: %w", m.BookHash, err)
	}
	return nil
}
