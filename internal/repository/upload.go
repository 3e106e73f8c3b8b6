package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/dharsanguruparan/photobook/internal/upload"
)

// UploadRepository is the durable upload task ledger. It satisfies
// upload.TaskStore.
type UploadRepository struct {
	db DB
}

// NewUploadRepository constructs a repository.
func NewUploadRepository(db DB) *UploadRepository {
	return &UploadRepository{db: db}
}

// Save upserts the task keyed by asset identifier.
func (r *UploadRepository) Save(ctx context.Context, t *upload.Task) error {
	now := time.Now().UTC()
	created, updated := t.CreatedAt, t.UpdatedAt
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = now
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO upload_tasks (asset_id, id, state, attempts, remote_ref, last_error, next_attempt_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (asset_id) DO UPDATE
		SET id = EXCLUDED.id,
			state = EXCLUDED.state,
			attempts = EXCLUDED.attempts,
			remote_ref = EXCLUDED.remote_ref,
			last_error = EXCLUDED.last_error,
			next_attempt_at = EXCLUDED.next_attempt_at,
			updated_at = EXCLUDED.updated_at
	`, t.AssetID, t.ID, t.State, t.Attempts, nullString(t.RemoteRef), nullString(t.LastError), nullTime(t.NextAttemptAt), created, updated)
	if err != nil {
		return fmt.Errorf("upsert upload task: %w", err)
	}
	return nil
}

// List returns every task, oldest first.
func (r *UploadRepository) List(ctx context.Context) ([]*upload.Task, error) {
	rows, err := r.db.Query(ctx, `
		SELECT asset_id, id, state, attempts, COALESCE(remote_ref,''), COALESCE(last_error,''), next_attempt_at, created_at, updated_at
		FROM upload_tasks ORDER BY created_at, asset_id
	`)
	if err != nil {
		return nil, fmt.Errorf("select upload tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*upload.Task
	for rows.Next() {
		var (
			t    upload.Task
			next *time.Time
		)
		if err := rows.Scan(&t.AssetID, &t.ID, &t.State, &t.Attempts, &t.RemoteRef, &t.LastError, &next, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan upload task: %w", err)
		}
		if next != nil {
			t.NextAttemptAt = *next
		}
		tasks = append(tasks, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upload tasks: %w", err)
	}
	return tasks, nil
}

// ResetInFlight moves tasks a crashed run left in flight back to pending.
func (r *UploadRepository) ResetInFlight(ctx context.Context) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE upload_tasks
		SET state=$1, next_attempt_at=NULL, updated_at=$2
		WHERE state=$3
	`, upload.StatePending, time.Now().UTC(), upload.StateInFlight)
	if err != nil {
		return 0, fmt.Errorf("reset in-flight uploads: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
