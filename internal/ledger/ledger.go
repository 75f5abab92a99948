// Package ledger implements a supplemental, append-only run-history audit
// trail: one row per stage transition, written to a pure-Go SQLite
// database. Nothing in the orchestrator reads the ledger back to decide
// control flow — the manifest alone remains the source of truth for
// resume — so a ledger outage never blocks a run.
package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	_ "modernc.org/sqlite"
)

// Entry is one append-only row: a single stage transition for one book run.
type Entry struct {
	ID         uint   `gorm:"primaryKey"`
	BookHash   string `gorm:"index"`
	SourcePath string
	Stage      string
	Status     string // completed|failed
	Category   string // transient|permanent|graceful_skip, "" on success
	Message    string
	RetryCount int
	RecordedAt time.Time `gorm:"index"`
}

// Ledger wraps a single-writer GORM connection over the pure-Go sqlite
// driver, with single-writer connection settings appropriate for a
// low-concurrency audit log.
type Ledger struct {
	db *gorm.DB
}

// Open connects to (and migrates) the ledger database at path, creating
// parent directories as needed.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create dir: %w", err)
	}

	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: path}, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("ledger: underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("ledger: %s: %w", pragma, err)
		}
	}

	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Record appends one entry. A write failure is logged by the caller, if
// at all — the ledger is supplemental, never a run blocker.
func (l *Ledger) Record(e Entry) error {
	e.RecordedAt = time.Now().UTC()
	return l.db.Create(&e).Error
}

// Close releases the underlying connection.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecentForBook returns the most recent entries for bookHash, newest
// first, bounded by limit — used by operator tooling to inspect a book's
// run history without parsing the manifest JSON by hand.
func (l *Ledger) RecentForBook(bookHash string, limit int) ([]Entry, error) {
	var entries []Entry
	err := l.db.Where("book_hash = ?", bookHash).Order("recorded_at DESC").Limit(limit).Find(&entries).Error
	return entries, err
}
