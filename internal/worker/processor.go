package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photobook/internal/build"
	"github.com/dharsanguruparan/photobook/internal/order"
	pdfutil "github.com/dharsanguruparan/photobook/internal/pdf"
	"github.com/dharsanguruparan/photobook/internal/persistence"
	"github.com/dharsanguruparan/photobook/internal/queue"
	"github.com/dharsanguruparan/photobook/internal/repository"
)

// Jobs looks up builds recorded by earlier attempts.
type Jobs interface {
	LatestForOrder(ctx context.Context, orderID string) (*build.Job, error)
}

// Verifier checks a built PDF.
type Verifier interface {
	Verify(ctx context.Context, url string, want int) (int, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	builder  *order.Builder
	jobs     Jobs
	verifier Verifier
	logger   zerolog.Logger
}

// NewProcessor constructs a worker processor. verifier may be nil to skip
// checking the inside PDF.
func NewProcessor(builder *order.Builder, jobs Jobs, verifier Verifier, logger zerolog.Logger) *Processor {
	return &Processor{
		builder:  builder,
		jobs:     jobs,
		verifier: verifier,
		logger:   logger.With().Str("component", "worker").Logger(),
	}
}

// Handler registers the build job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.BuildTask, p.handleBuild)
	return mux
}

func (p *Processor) handleBuild(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodeBuildPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	log := p.logger.With().Str("order_id", payload.OrderID).Logger()
	failure := func(err error) error {
		log.Error().Err(err).Msg("build failed")
		if final(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	req, err := p.builder.Request(ctx, payload)
	if err != nil {
		return failure(err)
	}

	h, err := p.handle(ctx, payload, req)
	if err != nil {
		return failure(err)
	}
	job, err := h.Wait(ctx)
	if err != nil {
		return failure(err)
	}

	if p.verifier != nil {
		pages, err := p.verifier.Verify(ctx, job.InsideURL, req.InsidePages())
		if err != nil {
			return failure(err)
		}
		log.Info().Int("pages", pages).Msg("inside pdf verified")
	}
	log.Info().Str("job_id", job.ID).Str("cover_url", job.CoverURL).Str("inside_url", job.InsideURL).Msg("order built")
	return nil
}

// handle resumes a build left behind by an earlier attempt of the same task
// and submits a new one otherwise.
func (p *Processor) handle(ctx context.Context, payload queue.BuildPayload, req *build.Request) (*build.Handle, error) {
	prev, err := p.jobs.LatestForOrder(ctx, payload.OrderID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return nil, err
	case prev.State == build.StateSucceeded || (prev.State == build.StateAwaitingCompletion && prev.RemoteID != ""):
		p.logger.Info().Str("job_id", prev.ID).Str("state", string(prev.State)).Msg("resuming build")
		return p.builder.Resume(ctx, *prev), nil
	}
	return p.builder.Submit(ctx, payload.OrderID, req)
}

// final reports whether retrying the task cannot change the outcome.
func final(err error) bool {
	var (
		missing *build.MissingTemplateInfoError
		failed  *build.FailedError
		timeout *build.TimeoutError
	)
	switch {
	case errors.As(err, &missing), errors.As(err, &failed), errors.As(err, &timeout):
		return true
	case errors.Is(err, persistence.ErrBadSignature), errors.Is(err, persistence.ErrUnsupportedFormat):
		return true
	case errors.Is(err, pdfutil.ErrPageCountMismatch):
		return true
	}
	return false
}
