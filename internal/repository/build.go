package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/photobook/internal/build"
)

const buildColumns = `id, order_id, COALESCE(remote_id,''), state, COALESCE(cover_url,''), COALESCE(inside_url,''),
	COALESCE(reason,''), COALESCE(message,''), polls, submitted_at, updated_at`

// BuildRepository keeps the latest snapshot of every build job. It satisfies
// build.Recorder.
type BuildRepository struct {
	db DB
}

// NewBuildRepository constructs a repository.
func NewBuildRepository(db DB) *BuildRepository {
	return &BuildRepository{db: db}
}

// RecordBuild upserts a job snapshot.
func (r *BuildRepository) RecordBuild(ctx context.Context, job build.Job) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO build_jobs (id, order_id, remote_id, state, cover_url, inside_url, reason, message, polls, submitted_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE
		SET remote_id = EXCLUDED.remote_id,
			state = EXCLUDED.state,
			cover_url = EXCLUDED.cover_url,
			inside_url = EXCLUDED.inside_url,
			reason = EXCLUDED.reason,
			message = EXCLUDED.message,
			polls = EXCLUDED.polls,
			updated_at = EXCLUDED.updated_at
	`, job.ID, job.OrderID, nullString(job.RemoteID), job.State, nullString(job.CoverURL), nullString(job.InsideURL),
		nullString(string(job.Reason)), nullString(job.Message), job.Polls, job.SubmittedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert build job: %w", err)
	}
	return nil
}

// Get returns a job by id.
func (r *BuildRepository) Get(ctx context.Context, id string) (*build.Job, error) {
	row := r.db.QueryRow(ctx, `SELECT `+buildColumns+` FROM build_jobs WHERE id=$1`, id)
	return scanJob(row, id)
}

// LatestForOrder returns the most recently submitted job of an order.
func (r *BuildRepository) LatestForOrder(ctx context.Context, orderID string) (*build.Job, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+buildColumns+` FROM build_jobs
		WHERE order_id=$1 ORDER BY submitted_at DESC LIMIT 1
	`, orderID)
	return scanJob(row, orderID)
}

func scanJob(row pgx.Row, key string) (*build.Job, error) {
	var job build.Job
	err := row.Scan(&job.ID, &job.OrderID, &job.RemoteID, &job.State, &job.CoverURL, &job.InsideURL,
		&job.Reason, &job.Message, &job.Polls, &job.SubmittedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("build job %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select build job: %w", err)
	}
	return &job, nil
}
