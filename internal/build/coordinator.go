package build

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options tune polling.
type Options struct {
	// PollInterval is the delay before the first status request; it doubles
	// after every answer that is not terminal.
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	// MaxWait bounds how long a job may stay awaiting completion before it
	// fails with ReasonTimeout.
	MaxWait  time.Duration
	Recorder Recorder
	Logger   zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.MaxPollInterval < o.PollInterval {
		o.MaxPollInterval = 16 * o.PollInterval
	}
	if o.MaxWait <= 0 {
		o.MaxWait = 10 * time.Minute
	}
	return o
}

// Coordinator submits builds and polls them to a terminal state. Every
// submitted job gets its own polling goroutine, owned by its Handle.
type Coordinator struct {
	client Client
	opts   Options
	logger zerolog.Logger
}

// NewCoordinator builds a coordinator.
func NewCoordinator(client Client, opts Options) *Coordinator {
	opts = opts.withDefaults()
	return &Coordinator{
		client: client,
		opts:   opts,
		logger: opts.Logger.With().Str("component", "build").Logger(),
	}
}

// Submit sends req and starts polling the resulting job. Polling stops when
// the job is terminal, when ctx is cancelled or when Handle.Cancel is called.
// A failed submission returns a SubmissionError and no handle.
func (c *Coordinator) Submit(ctx context.Context, orderID string, req *Request) (*Handle, error) {
	now := time.Now().UTC()
	job := Job{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		State:       StateSubmitted,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	c.record(ctx, job)

	sub, err := c.client.Submit(ctx, req)
	if err == nil && (sub.JobID == "" || sub.CoverURL == "" || sub.InsideURL == "") {
		err = fmt.Errorf("%w: acknowledgment without job id or locations", ErrInvalidResponse)
	}
	if err != nil {
		job.State = StateFailed
		job.Reason = ReasonServer
		if errors.Is(err, ErrInvalidResponse) {
			job.Reason = ReasonInvalidResponse
		}
		job.Message = err.Error()
		job.UpdatedAt = time.Now().UTC()
		c.record(ctx, job)
		c.logger.Error().Err(err).Str("job_id", job.ID).Str("order_id", orderID).Msg("build submission failed")
		return nil, &SubmissionError{Err: err}
	}

	job.RemoteID = sub.JobID
	job.CoverURL = sub.CoverURL
	job.InsideURL = sub.InsideURL
	job.State = StateAwaitingCompletion
	job.UpdatedAt = time.Now().UTC()
	c.logger.Info().Str("job_id", job.ID).Str("remote_id", job.RemoteID).Msg("build submitted")
	return c.Resume(ctx, job), nil
}

// Resume polls a job that was submitted earlier, e.g. by a previous run.
// The job's SubmittedAt still counts towards MaxWait.
func (c *Coordinator) Resume(ctx context.Context, job Job) *Handle {
	pollCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		job:    job,
		done:   make(chan struct{}),
		cancel: cancel,
	}
	c.record(ctx, job)
	if job.State.Terminal() {
		cancel()
		close(h.done)
		return h
	}
	go c.poll(pollCtx, h)
	return h
}

func (c *Coordinator) poll(ctx context.Context, h *Handle) {
	defer close(h.done)
	defer h.cancel()

	job := h.Job()
	log := c.logger.With().Str("job_id", job.ID).Str("remote_id", job.RemoteID).Logger()
	deadline := job.SubmittedAt.Add(c.opts.MaxWait)
	waitCtx, stop := context.WithDeadline(ctx, deadline)
	defer stop()

	interval := c.opts.PollInterval
	for {
		timer := time.NewTimer(interval)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			c.expire(ctx, h, log)
			return
		case <-timer.C:
		}

		status, err := c.client.Status(waitCtx, job.RemoteID)
		h.update(func(j *Job) { j.Polls++ })
		switch {
		case err != nil && waitCtx.Err() != nil:
			c.expire(ctx, h, log)
			return
		case errors.Is(err, ErrInvalidResponse):
			c.finish(ctx, h, StateFailed, func(j *Job) {
				j.Reason = ReasonInvalidResponse
				j.Message = err.Error()
			})
			log.Error().Err(err).Msg("build status unreadable")
			return
		case errors.Is(err, ErrRejected):
			c.finish(ctx, h, StateFailed, func(j *Job) {
				j.Reason = ReasonServer
				j.Message = err.Error()
			})
			log.Error().Err(err).Msg("build status rejected")
			return
		case err != nil:
			log.Warn().Err(err).Dur("next_poll", interval).Msg("build status request failed")
		case status.State == RemoteSucceeded:
			c.finish(ctx, h, StateSucceeded, func(j *Job) {
				if status.CoverURL != "" {
					j.CoverURL = status.CoverURL
				}
				if status.InsideURL != "" {
					j.InsideURL = status.InsideURL
				}
			})
			log.Info().Msg("build succeeded")
			return
		case status.State == RemoteFailed:
			c.finish(ctx, h, StateFailed, func(j *Job) {
				j.Reason = ReasonServer
				j.Message = status.Message
			})
			log.Error().Str("message", status.Message).Msg("build failed on server")
			return
		case status.State == RemotePending || status.State == RemoteProcessing:
			log.Debug().Str("state", string(status.State)).Msg("build not finished")
		default:
			c.finish(ctx, h, StateFailed, func(j *Job) {
				j.Reason = ReasonInvalidResponse
				j.Message = fmt.Sprintf("unknown status %q", status.State)
			})
			log.Error().Str("state", string(status.State)).Msg("build status unknown")
			return
		}

		interval *= 2
		if interval > c.opts.MaxPollInterval {
			interval = c.opts.MaxPollInterval
		}
	}
}

// expire distinguishes cancellation, which leaves the job awaiting
// completion, from running out of time.
func (c *Coordinator) expire(ctx context.Context, h *Handle, log zerolog.Logger) {
	if err := ctx.Err(); err != nil {
		h.setErr(err)
		log.Info().Msg("build polling cancelled")
		return
	}
	c.finish(ctx, h, StateFailed, func(j *Job) {
		j.Reason = ReasonTimeout
		j.Message = fmt.Sprintf("no terminal status after %s", c.opts.MaxWait)
	})
	log.Warn().Dur("max_wait", c.opts.MaxWait).Msg("build timed out")
}

func (c *Coordinator) finish(ctx context.Context, h *Handle, state State, apply func(j *Job)) {
	job, ok := h.transition(state, apply)
	if ok {
		c.record(ctx, job)
	}
}

func (c *Coordinator) record(ctx context.Context, job Job) {
	if c.opts.Recorder == nil {
		return
	}
	if err := c.opts.Recorder.RecordBuild(context.WithoutCancel(ctx), job); err != nil {
		c.logger.Error().Err(err).Str("job_id", job.ID).Str("state", string(job.State)).Msg("record build")
	}
}

// Handle observes one build job.
type Handle struct {
	mu     sync.Mutex
	job    Job
	err    error
	done   chan struct{}
	cancel context.CancelFunc
}

// Job returns a snapshot of the job.
func (h *Handle) Job() Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job
}

// Done is closed when polling has stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Cancel stops polling. The server-side job is not affected and the local job
// stays awaiting completion.
func (h *Handle) Cancel() {
	h.cancel()
}

// Wait blocks until polling stops and returns the final snapshot. The error
// is nil for a succeeded job, a *TimeoutError or *FailedError for a failed
// one and the cancellation cause when polling was cancelled.
func (h *Handle) Wait(ctx context.Context) (Job, error) {
	select {
	case <-ctx.Done():
		return h.Job(), ctx.Err()
	case <-h.done:
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	job := h.job
	switch {
	case job.State == StateSucceeded:
		return job, nil
	case job.State == StateFailed && job.Reason == ReasonTimeout:
		return job, &TimeoutError{JobID: job.ID, Waited: job.UpdatedAt.Sub(job.SubmittedAt)}
	case job.State == StateFailed:
		return job, &FailedError{JobID: job.ID, Reason: job.Reason, Message: job.Message}
	case h.err != nil:
		return job, h.err
	}
	return job, context.Canceled
}

// transition moves the job to a terminal state once; later calls are ignored.
func (h *Handle) transition(state State, apply func(j *Job)) (Job, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.job.State.Terminal() {
		return h.job, false
	}
	apply(&h.job)
	h.job.State = state
	h.job.UpdatedAt = time.Now().UTC()
	return h.job, true
}

func (h *Handle) update(apply func(j *Job)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	apply(&h.job)
}

func (h *Handle) setErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}
