package pgx

import (
	"context"
	"errors"
	"fmt"
	"time"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/graphcrawl/backend/pkg/store"
)

// RunStorage implements store.RunStore on the crawl_runs table.
type RunStorage struct {
	conn pgxIConn
}

func NewRunStorageWithConnection(conn pgxIConn) *RunStorage {
	return &RunStorage{conn: conn}
}

const runColumns = `id, terms, status, report, coalesce(error, ''), coalesce(snapshot_key, ''), created_at, updated_at`

func (s *RunStorage) CreateRun(ctx context.Context, id string, terms []string) error {
	_, err := s.conn.Exec(ctx, `
INSERT INTO crawl_runs (id, terms, status)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING`, id, terms, string(store.RunQueued))
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (s *RunStorage) MarkRunning(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, store.RunRunning)
}

func (s *RunStorage) RequeueRun(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, store.RunQueued)
}

func (s *RunStorage) setStatus(ctx context.Context, id string, status store.RunStatus) error {
	tag, err := s.conn.Exec(ctx, `
UPDATE crawl_runs SET status = $2, updated_at = now()
WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *RunStorage) FinishRun(ctx context.Context, id string, status store.RunStatus, report []byte, errMsg, snapshotKey string) error {
	var reportArg any
	if len(report) > 0 {
		reportArg = string(report)
	}
	tag, err := s.conn.Exec(ctx, `
UPDATE crawl_runs
SET status = $2, report = $3::jsonb, error = nullif($4, ''), snapshot_key = nullif($5, ''), updated_at = now()
WHERE id = $1`, id, string(status), reportArg, errMsg, snapshotKey)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *RunStorage) GetRun(ctx context.Context, id string) (store.Run, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+runColumns+` FROM crawl_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return store.Run{}, store.ErrNotFound
	}
	if err != nil {
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

func (s *RunStorage) StaleRuns(ctx context.Context, olderThan time.Duration) ([]store.Run, error) {
	rows, err := s.conn.Query(ctx, `
SELECT `+runColumns+` FROM crawl_runs
WHERE status = $1 AND updated_at < now() - ($2::bigint * interval '1 millisecond')
ORDER BY created_at`, string(store.RunRunning), olderThan.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("failed to query stale runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row pgxv5.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
		report []byte
	)
	err := row.Scan(&run.ID, &run.Terms, &status, &report, &run.Error, &run.SnapshotKey, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return store.Run{}, err
	}
	run.Status = store.RunStatus(status)
	run.Report = report
	return run, nil
}

var _ store.RunStore = (*RunStorage)(nil)
