package upload

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photobook/internal/asset"
)

// Options tune the orchestrator.
type Options struct {
	// Workers bounds how many uploads run at once.
	Workers int
	// MaxRetries is how many times a transient failure is retried
	// automatically before the task waits for Retry.
	MaxRetries int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff    time.Duration
	MaxBackoff time.Duration
	// EventBuffer is the capacity of the Subscribe channel.
	EventBuffer int
	Logger      zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Backoff <= 0 {
		o.Backoff = time.Second
	}
	if o.MaxBackoff < o.Backoff {
		o.MaxBackoff = 30 * o.Backoff
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 64
	}
	return o
}

// Orchestrator drives one upload per asset identifier through a bounded
// worker pool. The task table is guarded by mu; a task is handed to exactly
// one worker by moving it to InFlight under the lock, so no identifier is
// ever uploaded twice at the same time.
type Orchestrator struct {
	store     TaskStore
	transport Transport
	source    Source
	opts      Options
	logger    zerolog.Logger

	mu    sync.Mutex
	tasks map[string]*Task
	order []string
	// reserved holds identifiers whose Pending task is being saved by
	// Enqueue and is not in tasks yet.
	reserved map[string]struct{}
	// pinned resolves an identifier through the source it was enqueued
	// from instead of the live one.
	pinned  map[string]Source
	changed chan struct{}
	started bool

	// wake has capacity one; a send never blocks and a pending wake-up is
	// never lost.
	wake   chan struct{}
	events chan Event
	wg     sync.WaitGroup
}

// New builds an orchestrator. Call Start to launch the workers.
func New(store TaskStore, transport Transport, source Source, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	return &Orchestrator{
		store:     store,
		transport: transport,
		source:    source,
		opts:      opts,
		logger:    opts.Logger.With().Str("component", "upload").Logger(),
		tasks:     make(map[string]*Task),
		reserved:  make(map[string]struct{}),
		pinned:    make(map[string]Source),
		changed:   make(chan struct{}),
		wake:      make(chan struct{}, 1),
		events:    make(chan Event, opts.EventBuffer),
	}
}

// Start recovers tasks persisted by a previous run and launches the workers.
// Tasks left InFlight are uploaded again. Workers exit when ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.started = true
	o.mu.Unlock()

	reset, err := o.store.ResetInFlight(ctx)
	if err != nil {
		return err
	}
	persisted, err := o.store.List(ctx)
	if err != nil {
		return err
	}
	sort.SliceStable(persisted, func(i, j int) bool {
		return persisted[i].CreatedAt.Before(persisted[j].CreatedAt)
	})

	o.mu.Lock()
	for _, t := range persisted {
		if _, ok := o.tasks[t.AssetID]; ok {
			continue
		}
		c := *t
		o.tasks[t.AssetID] = &c
		o.order = append(o.order, t.AssetID)
	}
	o.notifyLocked()
	o.mu.Unlock()

	if reset > 0 || len(persisted) > 0 {
		o.logger.Info().Int("recovered", len(persisted)).Int("reset_in_flight", reset).Msg("upload tasks recovered")
	}

	for i := 0; i < o.opts.Workers; i++ {
		o.wg.Add(1)
		go o.worker(ctx)
	}
	o.signal()
	return nil
}

// Shutdown waits for the workers to exit after the Start context is
// cancelled, or until ctx is done.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue creates a Pending task for every identifier not already known.
// Identifiers with an existing task, whatever its state, are left alone.
// Assets are looked up in the orchestrator's source when uploaded.
func (o *Orchestrator) Enqueue(ctx context.Context, ids []string) error {
	return o.EnqueueFrom(ctx, nil, ids)
}

// EnqueueFrom is Enqueue with the assets resolved through src, typically a
// composition snapshot, so later edits to the live composition cannot change
// or remove what gets uploaded. A nil src falls back to the orchestrator's
// source.
func (o *Orchestrator) EnqueueFrom(ctx context.Context, src Source, ids []string) error {
	o.mu.Lock()
	var fresh []*Task
	seen := make(map[string]struct{}, len(ids))
	now := time.Now().UTC()
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if src != nil {
			if _, ok := src.Asset(id); ok {
				o.pinned[id] = src
			}
		}
		if _, ok := o.tasks[id]; ok {
			continue
		}
		if _, ok := o.reserved[id]; ok {
			continue
		}
		o.reserved[id] = struct{}{}
		fresh = append(fresh, &Task{
			ID:        uuid.NewString(),
			AssetID:   id,
			State:     StatePending,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	o.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}
	saved := 0
	var saveErr error
	for _, t := range fresh {
		if saveErr = o.store.Save(ctx, t); saveErr != nil {
			break
		}
		saved++
	}

	o.mu.Lock()
	for i, t := range fresh {
		delete(o.reserved, t.AssetID)
		if i >= saved {
			continue
		}
		o.tasks[t.AssetID] = t
		o.order = append(o.order, t.AssetID)
	}
	o.notifyLocked()
	o.mu.Unlock()

	if saved > 0 {
		o.logger.Debug().Int("enqueued", saved).Msg("upload tasks enqueued")
		o.signal()
	}
	return saveErr
}

// Subscribe returns the event channel. Events are dropped when nobody keeps
// up with the buffer.
func (o *Orchestrator) Subscribe() <-chan Event {
	return o.events
}

// Summary counts the tasks per state.
func (o *Orchestrator) Summary() Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.summaryLocked(nil)
}

// PendingCount is the number of tasks not yet succeeded.
func (o *Orchestrator) PendingCount() int {
	return o.Summary().PendingCount()
}

// Ready returns nil when every known asset has been uploaded.
func (o *Orchestrator) Ready() error {
	return o.Summary().Err()
}

// Wait blocks until no task is pending or in flight, then returns the
// summary and its readiness error.
func (o *Orchestrator) Wait(ctx context.Context) (Summary, error) {
	return o.WaitFor(ctx, nil)
}

// WaitFor is Wait restricted to the tasks of ids. Identifiers without a task
// are not counted; a nil ids covers every task.
func (o *Orchestrator) WaitFor(ctx context.Context, ids []string) (Summary, error) {
	var only map[string]struct{}
	if ids != nil {
		only = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			only[id] = struct{}{}
		}
	}
	for {
		o.mu.Lock()
		s := o.summaryLocked(only)
		changed := o.changed
		o.mu.Unlock()

		if s.Settled() {
			return s, s.Err()
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-changed:
		}
	}
}

// Retry re-arms every task that exhausted its automatic retries and returns
// how many were re-armed.
func (o *Orchestrator) Retry(ctx context.Context) (int, error) {
	o.mu.Lock()
	var rearmed []Task
	now := time.Now().UTC()
	for _, id := range o.order {
		t := o.tasks[id]
		if t.State != StateFailedTransient {
			continue
		}
		t.State = StatePending
		t.Attempts = 0
		t.NextAttemptAt = time.Time{}
		t.UpdatedAt = now
		rearmed = append(rearmed, *t)
	}
	o.notifyLocked()
	o.mu.Unlock()

	for i := range rearmed {
		if err := o.store.Save(ctx, &rearmed[i]); err != nil {
			return len(rearmed), err
		}
	}
	if len(rearmed) > 0 {
		o.logger.Info().Int("tasks", len(rearmed)).Msg("uploads re-armed")
		o.signal()
	}
	return len(rearmed), nil
}

// Tasks returns copies of every task in enqueue order.
func (o *Orchestrator) Tasks() []Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Task, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, *o.tasks[id])
	}
	return out
}

// RemoteRefs maps each uploaded asset identifier to its remote reference.
func (o *Orchestrator) RemoteRefs() map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	refs := make(map[string]string, len(o.tasks))
	for id, t := range o.tasks {
		if t.State == StateSucceeded {
			refs[id] = t.RemoteRef
		}
	}
	return refs
}

func (o *Orchestrator) worker(ctx context.Context) {
	defer o.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		task, delay := o.next()
		if task != nil {
			o.process(ctx, task)
			continue
		}

		var timer *time.Timer
		var fire <-chan time.Time
		if delay > 0 {
			timer = time.NewTimer(delay)
			fire = timer.C
		}
		select {
		case <-ctx.Done():
		case <-o.wake:
		case <-fire:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// next claims the oldest due Pending task. When none is due it returns the
// delay until the earliest scheduled retry, or zero if there is none.
func (o *Orchestrator) next() (*Task, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now().UTC()
	var claimed *Task
	var earliest time.Time
	more := false
	for _, id := range o.order {
		t := o.tasks[id]
		if t.State != StatePending {
			continue
		}
		if t.NextAttemptAt.After(now) {
			if earliest.IsZero() || t.NextAttemptAt.Before(earliest) {
				earliest = t.NextAttemptAt
			}
			continue
		}
		if claimed != nil {
			more = true
			break
		}
		t.State = StateInFlight
		t.Attempts++
		t.UpdatedAt = now
		claimed = t
	}
	if claimed == nil {
		if earliest.IsZero() {
			return nil, 0
		}
		return nil, earliest.Sub(now)
	}
	o.notifyLocked()
	if more {
		// Pass the wake-up on so an idle worker picks the next task.
		o.signal()
	}
	c := *claimed
	return &c, 0
}

func (o *Orchestrator) process(ctx context.Context, t *Task) {
	o.persist(ctx, t)
	log := o.logger.With().Str("asset_id", t.AssetID).Int("attempt", t.Attempts).Logger()

	ref, err := o.upload(ctx, t.AssetID)
	switch {
	case err == nil:
		o.finish(ctx, t.AssetID, func(live *Task) {
			live.State = StateSucceeded
			live.RemoteRef = ref
			live.LastError = ""
		})
		log.Info().Str("remote_ref", ref).Msg("asset uploaded")
		o.emit(Event{Kind: EventUploaded, AssetID: t.AssetID, RemoteRef: ref, Pending: o.PendingCount()})

	case ctx.Err() != nil:
		// Shutting down: hand the attempt back so the next run uploads it.
		o.finish(ctx, t.AssetID, func(live *Task) {
			live.State = StatePending
			live.Attempts--
		})

	case IsPermanent(err):
		o.finish(ctx, t.AssetID, func(live *Task) {
			live.State = StateFailedPermanent
			live.LastError = err.Error()
		})
		log.Error().Err(err).Msg("asset upload failed permanently")
		o.emit(Event{Kind: EventFatal, AssetID: t.AssetID, Err: err, Pending: o.PendingCount()})

	case t.Attempts <= o.opts.MaxRetries:
		delay := o.backoff(t.Attempts)
		o.finish(ctx, t.AssetID, func(live *Task) {
			live.State = StatePending
			live.LastError = err.Error()
			live.NextAttemptAt = time.Now().UTC().Add(delay)
		})
		log.Warn().Err(err).Dur("backoff", delay).Msg("asset upload failed, retrying")
		time.AfterFunc(delay, o.signal)

	default:
		o.finish(ctx, t.AssetID, func(live *Task) {
			live.State = StateFailedTransient
			live.LastError = err.Error()
		})
		log.Warn().Err(err).Msg("asset upload retries exhausted")
		o.emit(Event{Kind: EventRetryNeeded, AssetID: t.AssetID, Err: err, Pending: o.PendingCount()})
	}
}

func (o *Orchestrator) upload(ctx context.Context, id string) (string, error) {
	o.mu.Lock()
	src, ok := o.pinned[id]
	o.mu.Unlock()
	if !ok {
		src = o.source
	}
	a, ok := src.Asset(id)
	if !ok {
		return "", Permanent(ErrAssetNotFound)
	}
	data, err := a.Data(ctx)
	if err != nil {
		if errors.Is(err, asset.ErrUnsupportedFormat) || errors.Is(err, asset.ErrNoData) {
			return "", Permanent(err)
		}
		return "", err
	}
	if data.Format == asset.FormatUnsupported {
		return "", Permanent(asset.ErrUnsupportedFormat)
	}
	return o.transport.Upload(ctx, Payload{
		AssetID: id,
		Data:    data.Bytes,
		Format:  data.Format,
		Size:    a.Size(),
	})
}

// finish applies a state transition to the live task and persists it.
func (o *Orchestrator) finish(ctx context.Context, id string, apply func(t *Task)) {
	o.mu.Lock()
	t := o.tasks[id]
	apply(t)
	t.UpdatedAt = time.Now().UTC()
	snapshot := *t
	o.notifyLocked()
	o.mu.Unlock()

	if snapshot.State == StatePending && snapshot.NextAttemptAt.IsZero() {
		o.signal()
	}
	o.persist(ctx, &snapshot)
}

func (o *Orchestrator) persist(ctx context.Context, t *Task) {
	if err := o.store.Save(context.WithoutCancel(ctx), t); err != nil {
		o.logger.Error().Err(err).Str("asset_id", t.AssetID).Str("state", string(t.State)).Msg("persist upload task")
	}
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	d := o.opts.Backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= o.opts.MaxBackoff {
			return o.opts.MaxBackoff
		}
	}
	return d
}

func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
		o.logger.Warn().Str("asset_id", ev.AssetID).Str("kind", string(ev.Kind)).Msg("event buffer full, dropping event")
	}
}

func (o *Orchestrator) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// notifyLocked wakes every Wait call. mu must be held.
func (o *Orchestrator) notifyLocked() {
	close(o.changed)
	o.changed = make(chan struct{})
}

// summaryLocked counts the tasks in only, or every task when only is nil.
func (o *Orchestrator) summaryLocked(only map[string]struct{}) Summary {
	var s Summary
	for id, t := range o.tasks {
		if only != nil {
			if _, ok := only[id]; !ok {
				continue
			}
		}
		s.Total++
		switch t.State {
		case StatePending:
			s.Pending++
		case StateInFlight:
			s.InFlight++
		case StateSucceeded:
			s.Succeeded++
		case StateFailedTransient:
			s.FailedTransient++
		case StateFailedPermanent:
			s.FailedPermanent++
		}
	}
	return s
}
