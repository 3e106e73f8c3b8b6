// Package queue defines the asynq tasks shared by the server and the worker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// BuildTask is scheduled once every asset of an order is uploaded.
	BuildTask = "photobook:build"
)

// BuildPayload tells the worker where the composition is persisted and which
// remote reference belongs to each asset.
type BuildPayload struct {
	OrderID    string            `json:"order_id"`
	StateKey   string            `json:"state_key"`
	RemoteRefs map[string]string `json:"remote_refs"`
}

// NewBuildTask wraps the payload in an asynq task. The order id doubles as
// the task id so an order is never queued twice.
func NewBuildTask(payload BuildPayload, timeout time.Duration) (*asynq.Task, error) {
	if payload.OrderID == "" || payload.StateKey == "" {
		return nil, errors.New("build payload needs an order id and a state key")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	opts := []asynq.Option{asynq.MaxRetry(3), asynq.TaskID(payload.OrderID)}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	return asynq.NewTask(BuildTask, data, opts...), nil
}

// DecodeBuildPayload reads the payload of a build task.
func DecodeBuildPayload(task *asynq.Task) (BuildPayload, error) {
	var payload BuildPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return BuildPayload{}, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

// EnqueueBuild enqueues a PDF build job. An order that is already queued is
// not an error.
func EnqueueBuild(ctx context.Context, client *asynq.Client, payload BuildPayload, timeout time.Duration) error {
	task, err := NewBuildTask(payload, timeout)
	if err != nil {
		return err
	}
	if _, err := client.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue build task: %w", err)
	}
	return nil
}

// Dispatcher hands builds to the asynq worker.
type Dispatcher struct {
	client  *asynq.Client
	timeout time.Duration
}

// NewDispatcher creates a dispatcher. timeout bounds a single task run and
// should exceed the build's maximum wait.
func NewDispatcher(client *asynq.Client, timeout time.Duration) *Dispatcher {
	return &Dispatcher{client: client, timeout: timeout}
}

// Dispatch enqueues the build.
func (d *Dispatcher) Dispatch(ctx context.Context, payload BuildPayload) error {
	return EnqueueBuild(ctx, d.client, payload, d.timeout)
}
