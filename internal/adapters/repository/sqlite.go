package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/okian/argos/internal/domain/model"
	"github.com/okian/argos/internal/domain/passes"
	"github.com/okian/argos/pkg/metrics"
)

//go:embed schema.sql
var schemaSQL string

const (
	defaultBusyTimeout = 5 * time.Second
	defaultJournalMode = "WAL"
	timeLayout         = time.RFC3339Nano
)

// SQLiteStore persists every evaluation and serves the newest per platform.
// Connections are opened on first use: one writer that owns the schema and a
// read-only pool.
type SQLiteStore struct {
	path        string
	busyTimeout time.Duration
	journalMode string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSQLiteStore creates a store backed by the database file at path.
func NewSQLiteStore(path string, opts ...SQLiteOption) *SQLiteStore {
	s := &SQLiteStore{
		path:        path,
		busyTimeout: defaultBusyTimeout,
		journalMode: defaultJournalMode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SQLiteStore) dsn(extra string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=%d%s", s.path, s.busyTimeout.Milliseconds(), extra)
}

func (s *SQLiteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", s.dsn("&_journal_mode="+s.journalMode))
		if err != nil {
			s.writeDBErr = err
			return
		}
		db.SetMaxOpenConns(1)

		if _, err = db.Exec(schemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}
		s.writeDB = db
	})
	return s.writeDB, s.writeDBErr
}

func (s *SQLiteStore) getReadDB() (*sql.DB, error) {
	// The reader cannot create the file, so the writer goes first.
	if _, err := s.getWriteDB(); err != nil {
		return nil, err
	}
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", s.dsn("&mode=ro"))
		if err != nil {
			s.readDBErr = err
			return
		}
		s.readDB = db
	})
	return s.readDB, s.readDBErr
}

const insertEvaluationSQL = `
INSERT INTO evaluations (batch_id, platform_id, evaluated_at, summary, results)
VALUES (?, ?, ?, ?, ?)`

// Save implements Store.Save.
func (s *SQLiteStore) Save(ctx context.Context, eval model.Evaluation) (err error) {
	defer observe("save", time.Now())

	summary, err := json.Marshal(eval.Summary)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	results, err := json.Marshal(eval.Results)
	if err != nil {
		return fmt.Errorf("marshaling results: %w", err)
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, insertEvaluationSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer func() {
		if cErr := stmt.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing statement: %w", cErr)
		}
	}()

	if _, err = stmt.ExecContext(ctx,
		eval.BatchID,
		eval.PlatformID,
		eval.EvaluatedAt.UTC().Format(timeLayout),
		string(summary),
		string(results),
	); err != nil {
		return fmt.Errorf("inserting evaluation: %w", err)
	}

	metrics.UpdateStoreRecords(s.Count(ctx))
	return nil
}

const selectLatestSQL = `
SELECT batch_id,
       evaluated_at,
       summary,
       results
FROM evaluations
WHERE platform_id = ?
ORDER BY id DESC
LIMIT 1`

// Latest implements Store.Latest.
func (s *SQLiteStore) Latest(ctx context.Context, platformID string) (model.Evaluation, error) {
	defer observe("latest", time.Now())

	db, err := s.getReadDB()
	if err != nil {
		return model.Evaluation{}, fmt.Errorf("getting read connection: %w", err)
	}

	var (
		evaluatedAt      string
		summary, results string
		eval             = model.Evaluation{PlatformID: platformID}
	)
	err = db.QueryRowContext(ctx, selectLatestSQL, platformID).Scan(&eval.BatchID, &evaluatedAt, &summary, &results)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordErrorByComponent("repository", "not_found")
		return model.Evaluation{}, ErrNotFound
	}
	if err != nil {
		return model.Evaluation{}, fmt.Errorf("scanning evaluation: %w", err)
	}

	if eval.EvaluatedAt, err = time.Parse(timeLayout, evaluatedAt); err != nil {
		return model.Evaluation{}, fmt.Errorf("parsing evaluated_at: %w", err)
	}
	if err = json.Unmarshal([]byte(summary), &eval.Summary); err != nil {
		return model.Evaluation{}, fmt.Errorf("unmarshaling summary: %w", err)
	}
	if err = json.Unmarshal([]byte(results), &eval.Results); err != nil {
		return model.Evaluation{}, fmt.Errorf("unmarshaling results: %w", err)
	}
	return eval, nil
}

// Pass implements Store.Pass.
func (s *SQLiteStore) Pass(ctx context.Context, platformID string, n int) (passes.Result, error) {
	eval, err := s.Latest(ctx, platformID)
	if err != nil {
		return passes.Result{}, err
	}
	return passOf(eval, n)
}

const selectPlatformsSQL = `
SELECT DISTINCT platform_id
FROM evaluations
ORDER BY platform_id`

// Platforms implements Store.Platforms.
func (s *SQLiteStore) Platforms(ctx context.Context) (ids []string, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectPlatformsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying platforms: %w", err)
	}
	defer func() {
		if cErr := rows.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", cErr)
		}
	}()

	ids = []string{}
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning platform: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating platforms: %w", err)
	}
	return ids, nil
}

const countPlatformsSQL = `SELECT COUNT(DISTINCT platform_id) FROM evaluations`

// Count implements Store.Count. Errors count as zero.
func (s *SQLiteStore) Count(ctx context.Context) int {
	db, err := s.getReadDB()
	if err != nil {
		return 0
	}
	var n int
	if err := db.QueryRowContext(ctx, countPlatformsSQL).Scan(&n); err != nil {
		metrics.RecordErrorByComponent("repository", "count")
		return 0
	}
	return n
}

// Close closes both connections. It is safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() {
		// Resolve the lazy handles so a later first use cannot reopen them.
		s.writeDBOnce.Do(func() { s.writeDBErr = ErrClosed })
		s.readDBOnce.Do(func() { s.readDBErr = ErrClosed })

		var errs []error
		if s.readDB != nil {
			if err := s.readDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing read connection: %w", err))
			}
		}
		if s.writeDB != nil {
			if err := s.writeDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing write connection: %w", err))
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
