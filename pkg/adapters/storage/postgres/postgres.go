package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aescanero/genflow/pkg/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const schema = `
	CREATE TABLE IF NOT EXISTS genflow_processes (
		id          TEXT PRIMARY KEY,
		pipeline_id TEXT NOT NULL,
		status      TEXT NOT NULL,
		started_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		run         JSONB NOT NULL
	)
`

// DB is the subset of *pgxpool.Pool the store needs
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPool opens a connection pool and pings the database
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// ProcessStore implements ports.ProcessStore on a genflow_processes table.
// The run is stored as JSONB next to a few indexed columns.
type ProcessStore struct {
	db     DB
	logger *zap.Logger
	now    func() time.Time
}

// NewProcessStore creates a new Postgres process store
func NewProcessStore(db DB, logger *zap.Logger) *ProcessStore {
	return &ProcessStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// EnsureSchema creates the table when missing
func (s *ProcessStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Save upserts a process run
func (s *ProcessStore) Save(ctx context.Context, run *domain.ProcessRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal process: %w", err)
	}

	query := `
		INSERT INTO genflow_processes (id, pipeline_id, status, started_at, updated_at, run)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at, run = EXCLUDED.run
	`
	_, err = s.db.Exec(ctx, query,
		run.ID,
		run.PipelineID,
		string(run.Status),
		run.StartTime,
		s.now(),
		data,
	)
	if err != nil {
		return fmt.Errorf("upsert process: %w", err)
	}

	s.logger.Debug("process saved",
		zap.String("process_id", run.ID),
		zap.String("status", string(run.Status)))

	return nil
}

// Load returns a process run by ID
func (s *ProcessStore) Load(ctx context.Context, id string) (*domain.ProcessRun, error) {
	query := `
		SELECT run
		FROM genflow_processes
		WHERE id = $1
	`
	var data []byte
	err := s.db.QueryRow(ctx, query, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrProcessNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get process: %w", err)
	}

	var run domain.ProcessRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("unmarshal process: %w", err)
	}
	return &run, nil
}

// Delete removes a process run
func (s *ProcessStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM genflow_processes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete process: %w", err)
	}

	s.logger.Debug("process deleted",
		zap.String("process_id", id))

	return nil
}

// List returns every stored process ID, oldest first
func (s *ProcessStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM genflow_processes ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan process id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
