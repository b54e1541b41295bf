package engine

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// JournalMode selects the SQLite journaling strategy
type JournalMode string

const (
	JournalWAL    JournalMode = "WAL"
	JournalMemory JournalMode = "MEMORY"
)

// Config configures the engine behavior during initialization
type Config struct {
	Path        string        // Database file path (ignored if InMemory)
	InMemory    bool          // Run the engine purely in memory
	Journal     JournalMode   // Journaling mode
	Synchronous string        // Synchronous pragma level (OFF, NORMAL, FULL)
	CacheSizeKB int           // Page cache size in KB
	BusyTimeout time.Duration // How long a blocked statement waits for the writer
}

// DefaultConfig returns the configuration for a durable, file-backed engine
func DefaultConfig(path string) Config {
	return Config{
		Path:        path,
		Journal:     JournalWAL,
		Synchronous: "NORMAL",
		CacheSizeKB: 8192,
		BusyTimeout: 5 * time.Second,
	}
}

// MemoryConfig returns the configuration for a volatile, memory-resident engine
func MemoryConfig() Config {
	return Config{
		InMemory:    true,
		Journal:     JournalMemory,
		Synchronous: "OFF",
		CacheSizeKB: 4096,
		BusyTimeout: time.Second,
	}
}

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

// Engine is an exclusively owned handle to one embedded database.
type Engine struct {
	db  *sql.DB
	cfg Config
}

// Open opens (and if necessary creates) the database described by cfg and
// applies all configured pragmas. A non-nil error is a fatal startup
// condition: the caller must not use the store without a working engine.
func Open(cfg Config) (*Engine, error) {
	dsn := cfg.Path
	if cfg.InMemory {
		dsn = ":memory:"
	}
	if dsn == "" {
		return nil, fmt.Errorf("engine: no database path configured")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("engine: open %s: %w", dsn, err)
	}

	// Single writer connection. The sqlite driver serializes statements per
	// connection, and a pool of one keeps the in-memory variant coherent
	// (every in-memory connection would otherwise see its own database).
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	e := &Engine{db: db, cfg: cfg}

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()),
		// auto_vacuum must be configured before the first table is created
		"PRAGMA auto_vacuum = INCREMENTAL",
		fmt.Sprintf("PRAGMA journal_mode = %s", cfg.Journal),
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.Synchronous),
		fmt.Sprintf("PRAGMA cache_size = -%d", cfg.CacheSizeKB),
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("engine: %s: %w", pragma, err)
		}
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("engine: ping: %w", err)
	}

	return e, nil
}

// DB exposes the underlying handle for query execution. database/sql caches
// prepared statements per connection, which gives the stores prepared
// statement reuse without managing statements by hand.
func (e *Engine) DB() *sql.DB {
	return e.db
}

// RunInTransaction executes fn inside a single transaction. The transaction
// is committed if fn returns nil and rolled back otherwise.
//
// Thread-safety: This method is thread-safe; concurrent callers queue on the
// single writer connection rather than interleave.
func (e *Engine) RunInTransaction(fn func(tx *sql.Tx) error) error {
	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("engine: begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("engine: commit transaction: %w", err)
	}
	return nil
}

// IncrementalVacuum reclaims up to pages free pages from the database file.
// A non-positive page count reclaims all free pages.
func (e *Engine) IncrementalVacuum(pages int) error {
	stmt := "PRAGMA incremental_vacuum"
	if pages > 0 {
		stmt = fmt.Sprintf("PRAGMA incremental_vacuum(%d)", pages)
	}
	if _, err := e.db.Exec(stmt); err != nil {
		return fmt.Errorf("engine: incremental vacuum: %w", err)
	}
	return nil
}

// Close releases the engine handle. The owning store must not issue further
// statements afterwards.
func (e *Engine) Close() error {
	return e.db.Close()
}
