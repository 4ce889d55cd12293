package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"cleanconvert/internal/logging"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 100

// Attempt statuses.
const (
	StatusCompleted = "completed"
	StatusError     = "error"
)

// Attempt is one recorded conversion attempt.
type Attempt struct {
	ID            string        `json:"id"`
	BatchID       string        `json:"batchId"`
	ItemID        string        `json:"itemId"`
	FileName      string        `json:"fileName"`
	Digest        string        `json:"digest,omitempty"`
	SourceType    string        `json:"sourceType"`
	RequestedType string        `json:"requestedType"`
	ResolvedType  string        `json:"resolvedType,omitempty"`
	UsedFallback  bool          `json:"usedFallback"`
	Quality       float64       `json:"quality"`
	Status        string        `json:"status"`
	ErrorCode     string        `json:"errorCode,omitempty"`
	InputBytes    int64         `json:"inputBytes"`
	OutputBytes   int64         `json:"outputBytes"`
	Width         int           `json:"width,omitempty"`
	Height        int           `json:"height,omitempty"`
	Duration      time.Duration `json:"durationNs"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// Summary aggregates every recorded attempt.
type Summary struct {
	Total       int           `json:"total"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Fallbacks   int           `json:"fallbacks"`
	InputBytes  int64         `json:"inputBytes"`
	OutputBytes int64         `json:"outputBytes"`
	AvgDuration time.Duration `json:"avgDurationNs"`
}

// SavingsPercent is the size reduction across all successful attempts.
func (s Summary) SavingsPercent() float64 {
	if s.InputBytes <= 0 {
		return 0
	}
	return float64(s.InputBytes-s.OutputBytes) / float64(s.InputBytes) * 100
}

// Observer records query metrics. The metrics package provides the
// implementation.
type Observer interface {
	ObserveQuery(operation string, durationSeconds float64, err error)
}

// Options configures a Store.
type Options struct {
	// DSN overrides the private in-memory database, for example with a file
	// path when the CLI keeps a log across runs.
	DSN      string
	Logger   *logging.Logger
	Observer Observer
}

// Store is the session conversion log.
type Store struct {
	db       *sql.DB
	log      *logging.Logger
	observer Observer
}

// Open creates the store and its schema. Without a DSN the database lives
// in memory and disappears with the process.
func Open(ctx context.Context, opts Options) (*Store, error) {
	log := logging.OrDefault(opts.Logger).With("history:")

	dsn := opts.DSN
	if dsn == "" {
		dsn = fmt.Sprintf("file:cleanconvert-%s?mode=memory&cache=shared", uuid.NewString())
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// One connection: an in-memory database lives exactly as long as its
	// last connection, and sqlite serialises writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	s := &Store{db: db, log: log, observer: opts.Observer}
	if err := s.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	log.Debug("History database ready")
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		digest TEXT,
		source_type TEXT,
		requested_type TEXT NOT NULL,
		resolved_type TEXT,
		used_fallback INTEGER NOT NULL DEFAULT 0,
		quality REAL NOT NULL,
		status TEXT NOT NULL,
		error_code TEXT,
		input_bytes INTEGER NOT NULL DEFAULT 0,
		output_bytes INTEGER NOT NULL DEFAULT 0,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		duration_ns INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_attempts_item ON attempts(item_id);
	CREATE INDEX IF NOT EXISTS idx_attempts_created ON attempts(created_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Record stores one attempt. Missing ID and CreatedAt are filled in.
func (s *Store) Record(ctx context.Context, a Attempt) (err error) {
	start := time.Now()
	defer func() { s.recordQuery("record", start, err) }()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.Status != StatusCompleted && a.Status != StatusError {
		return fmt.Errorf("invalid attempt status %q", a.Status)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO attempts (
		id, batch_id, item_id, file_name, digest, source_type, requested_type,
		resolved_type, used_fallback, quality, status, error_code,
		input_bytes, output_bytes, width, height, duration_ns, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.BatchID, a.ItemID, a.FileName, a.Digest, a.SourceType, a.RequestedType,
		a.ResolvedType, a.UsedFallback, a.Quality, a.Status, a.ErrorCode,
		a.InputBytes, a.OutputBytes, a.Width, a.Height, int64(a.Duration), a.CreatedAt.UnixNano(),
	)
	return err
}

// List returns the most recent attempts, newest first.
func (s *Store) List(ctx context.Context, limit int) (out []Attempt, err error) {
	start := time.Now()
	defer func() { s.recordQuery("list", start, err) }()

	if limit <= 0 {
		limit = DefaultListLimit
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
	SELECT id, batch_id, item_id, file_name, COALESCE(digest, ''), COALESCE(source_type, ''),
		requested_type, COALESCE(resolved_type, ''), used_fallback, quality, status,
		COALESCE(error_code, ''), input_bytes, output_bytes, width, height, duration_ns, created_at
	FROM attempts
	ORDER BY created_at DESC, rowid DESC
	LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		var (
			a         Attempt
			durNs     int64
			createdNs int64
		)
		if err := rows.Scan(
			&a.ID, &a.BatchID, &a.ItemID, &a.FileName, &a.Digest, &a.SourceType,
			&a.RequestedType, &a.ResolvedType, &a.UsedFallback, &a.Quality, &a.Status,
			&a.ErrorCode, &a.InputBytes, &a.OutputBytes, &a.Width, &a.Height, &durNs, &createdNs,
		); err != nil {
			return nil, err
		}
		a.Duration = time.Duration(durNs)
		a.CreatedAt = time.Unix(0, createdNs)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Summary aggregates all attempts. Byte totals cover successful attempts only.
func (s *Store) Summary(ctx context.Context) (sum Summary, err error) {
	start := time.Now()
	defer func() { s.recordQuery("summary", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var avg sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `
	SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'completed' AND used_fallback = 1 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'completed' THEN input_bytes ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'completed' THEN output_bytes ELSE 0 END), 0),
		AVG(duration_ns)
	FROM attempts`).Scan(
		&sum.Total, &sum.Succeeded, &sum.Failed, &sum.Fallbacks,
		&sum.InputBytes, &sum.OutputBytes, &avg,
	)
	if err != nil {
		return Summary{}, err
	}
	if avg.Valid {
		sum.AvgDuration = time.Duration(avg.Float64)
	}
	return sum, nil
}

// Close closes the database. An in-memory log is discarded.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return errors.New("history store not open")
	}
	return s.db.Close()
}

func (s *Store) recordQuery(operation string, start time.Time, err error) {
	if s.observer != nil {
		s.observer.ObserveQuery(operation, time.Since(start).Seconds(), err)
	}
	if err != nil {
		s.log.Warn("%s query failed: %v", operation, err)
	}
}
