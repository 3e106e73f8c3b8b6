// Package upload tracks the upload of every asset in a photobook and drives
// the uploads through a bounded pool of workers.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dharsanguruparan/photobook/internal/asset"
	"github.com/dharsanguruparan/photobook/internal/geometry"
)

// State is the lifecycle of an upload task.
type State string

const (
	StatePending         State = "pending"
	StateInFlight        State = "in_flight"
	StateSucceeded       State = "succeeded"
	StateFailedTransient State = "failed_transient"
	StateFailedPermanent State = "failed_permanent"
)

// Task is the upload record of one asset identifier.
type Task struct {
	ID            string    `json:"id"`
	AssetID       string    `json:"assetId"`
	State         State     `json:"state"`
	Attempts      int       `json:"attempts"`
	RemoteRef     string    `json:"remoteRef,omitempty"`
	LastError     string    `json:"lastError,omitempty"`
	NextAttemptAt time.Time `json:"nextAttemptAt,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// TaskStore persists tasks so uploads survive a restart.
type TaskStore interface {
	// Save inserts or replaces the task for t.AssetID.
	Save(ctx context.Context, t *Task) error
	// List returns every task.
	List(ctx context.Context) ([]*Task, error)
	// ResetInFlight moves tasks left in flight by a previous run back to
	// pending and returns how many were moved.
	ResetInFlight(ctx context.Context) (int, error)
}

// Payload is what a transport sends for one asset.
type Payload struct {
	AssetID string
	Data    []byte
	Format  asset.Format
	Size    geometry.Size
}

// Transport uploads asset bytes and returns the remote reference. Errors
// wrapped in PermanentError are never retried; anything else is treated as
// transient.
type Transport interface {
	Upload(ctx context.Context, p Payload) (string, error)
}

// Source resolves asset identifiers to assets.
type Source interface {
	Asset(id string) (asset.Asset, bool)
}

var (
	// ErrUploadsPending is returned by Ready while uploads are outstanding.
	ErrUploadsPending = errors.New("uploads pending")
	// ErrRetryNeeded is returned once an upload exhausted its automatic retries.
	ErrRetryNeeded = errors.New("uploads failed, please retry")
	// ErrUploadsFailed is returned when an asset can never be uploaded.
	ErrUploadsFailed = errors.New("uploads failed permanently")
	// ErrAssetNotFound is returned when the source does not know an identifier.
	ErrAssetNotFound = errors.New("asset not found")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("orchestrator already started")
)

// TransientError marks a retryable failure (network, server).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient upload error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix (corrupt or
// unsupported data, unparseable response).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent upload error: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError.
func Transient(err error) error { return &TransientError{Err: err} }

// Permanent wraps err as a PermanentError.
func Permanent(err error) error { return &PermanentError{Err: err} }

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// EventKind classifies an Event.
type EventKind string

const (
	// EventUploaded is sent when an asset finished uploading.
	EventUploaded EventKind = "uploaded"
	// EventRetryNeeded is sent when an asset exhausted its automatic retries.
	EventRetryNeeded EventKind = "retry_needed"
	// EventFatal is sent when an asset can never be uploaded.
	EventFatal EventKind = "fatal"
)

// Event notifies callers about per-asset progress.
type Event struct {
	Kind      EventKind
	AssetID   string
	RemoteRef string
	Pending   int
	Err       error
}

// Summary counts tasks per state.
type Summary struct {
	Total           int `json:"total"`
	Pending         int `json:"pending"`
	InFlight        int `json:"inFlight"`
	Succeeded       int `json:"succeeded"`
	FailedTransient int `json:"failedTransient"`
	FailedPermanent int `json:"failedPermanent"`
}

// PendingCount is the number of tasks not yet succeeded.
func (s Summary) PendingCount() int {
	return s.Total - s.Succeeded
}

// Settled reports whether no task is waiting for or undergoing an upload.
func (s Summary) Settled() bool {
	return s.Pending == 0 && s.InFlight == 0
}

// Err returns the readiness error for the summary, nil when every task
// succeeded.
func (s Summary) Err() error {
	switch {
	case s.FailedPermanent > 0:
		return fmt.Errorf("%d of %d assets: %w", s.FailedPermanent, s.Total, ErrUploadsFailed)
	case s.FailedTransient > 0:
		return fmt.Errorf("%d of %d assets: %w", s.FailedTransient, s.Total, ErrRetryNeeded)
	case s.PendingCount() > 0:
		return fmt.Errorf("%d of %d assets: %w", s.PendingCount(), s.Total, ErrUploadsPending)
	}
	return nil
}
