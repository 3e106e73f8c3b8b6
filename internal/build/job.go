// Package build submits a finished composition for server-side PDF
// generation and follows the job until the server reports a terminal status.
// A submission acknowledgment only carries provisional locations; the job
// succeeds once the status endpoint says so.
package build

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle of a build job.
type State string

const (
	StateSubmitted          State = "submitted"
	StateAwaitingCompletion State = "awaiting_completion"
	StateSucceeded          State = "succeeded"
	StateFailed             State = "failed"
)

// Terminal reports whether no transition can leave s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Reason explains a failed job.
type Reason string

const (
	ReasonTimeout         Reason = "timeout"
	ReasonServer          Reason = "server"
	ReasonInvalidResponse Reason = "invalid_response"
)

// Job is a snapshot of a submitted PDF build.
type Job struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"orderId"`
	RemoteID    string    `json:"remoteId,omitempty"`
	State       State     `json:"state"`
	CoverURL    string    `json:"coverUrl,omitempty"`
	InsideURL   string    `json:"insideUrl,omitempty"`
	Reason      Reason    `json:"reason,omitempty"`
	Message     string    `json:"message,omitempty"`
	Polls       int       `json:"polls"`
	SubmittedAt time.Time `json:"submittedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// URLs returns the cover and inside PDF locations.
func (j Job) URLs() []string {
	return []string{j.CoverURL, j.InsideURL}
}

// Submission is the server's acknowledgment of a build request.
type Submission struct {
	JobID     string
	CoverURL  string
	InsideURL string
}

// RemoteState is the job status reported by the server.
type RemoteState string

const (
	RemotePending    RemoteState = "pending"
	RemoteProcessing RemoteState = "processing"
	RemoteSucceeded  RemoteState = "succeeded"
	RemoteFailed     RemoteState = "failed"
)

// Status is one answer from the status endpoint.
type Status struct {
	State     RemoteState
	CoverURL  string
	InsideURL string
	Message   string
}

// Client talks to the PDF generation API.
type Client interface {
	Submit(ctx context.Context, req *Request) (Submission, error)
	Status(ctx context.Context, jobID string) (Status, error)
}

// Recorder receives every job transition, e.g. to persist it.
type Recorder interface {
	RecordBuild(ctx context.Context, job Job) error
}

var (
	// ErrInvalidResponse marks a server answer that cannot be understood.
	ErrInvalidResponse = errors.New("invalid build response")
	// ErrRejected marks a request the server refused outright.
	ErrRejected = errors.New("build request rejected")
)

// SubmissionError is returned when a build could not be submitted.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string { return fmt.Sprintf("submit build: %v", e.Err) }
func (e *SubmissionError) Unwrap() error { return e.Err }

// MissingTemplateInfoError is returned when the composition lacks what the
// build request needs.
type MissingTemplateInfoError struct {
	What string
}

func (e *MissingTemplateInfoError) Error() string {
	return fmt.Sprintf("missing template info: %s", e.What)
}

// TimeoutError is returned when a job does not finish within the maximum wait.
type TimeoutError struct {
	JobID  string
	Waited time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("build %s not finished after %s", e.JobID, e.Waited)
}

// FailedError is returned for jobs the server failed or answered nonsense for.
type FailedError struct {
	JobID   string
	Reason  Reason
	Message string
}

func (e *FailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("build %s failed: %s", e.JobID, e.Reason)
	}
	return fmt.Sprintf("build %s failed: %s: %s", e.JobID, e.Reason, e.Message)
}
