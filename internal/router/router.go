// internal/router/router.go
package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/failure"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/taskqueue"
	"go.uber.org/zap"
)

// HandlerFunc executes one command. The returned value becomes Response.Result.
type HandlerFunc func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Tasks is the subset of the task queue the router records lifecycles in.
type Tasks interface {
	Push(ctx context.Context, task schemas.Task) error
	Update(ctx context.Context, id string, patch schemas.TaskPatch) (schemas.Task, error)
}

// Option customizes a registered handler.
type Option func(*route)

// WithTimeout overrides the default timeout for one handler.
func WithTimeout(d time.Duration) Option {
	return func(r *route) { r.timeout = func(map[string]interface{}) time.Duration { return d } }
}

// WithTimeoutFunc derives a handler's timeout from its params, e.g. to honor a
// caller supplied wait budget.
func WithTimeoutFunc(f func(params map[string]interface{}) time.Duration) Option {
	return func(r *route) { r.timeout = f }
}

type route struct {
	handler HandlerFunc
	timeout func(params map[string]interface{}) time.Duration
}

// Config tunes dispatch.
type Config struct {
	DefaultTimeout time.Duration
	// CancelOnTimeout cancels the handler's context when its command times out,
	// so side effects that have not started yet are skipped.
	CancelOnTimeout bool
}

// Router validates commands, records their Tasks, and races each handler
// against its timeout. Every accepted command yields exactly one Response.
type Router struct {
	cfg    Config
	tasks  Tasks
	logger *zap.Logger

	mu       sync.RWMutex
	routes   map[schemas.CommandType]*route
	inflight map[string]context.CancelCauseFunc

	wg sync.WaitGroup
}

// New creates a router recording task lifecycles in tasks.
func New(cfg Config, tasks Tasks, logger *zap.Logger) (*Router, error) {
	if tasks == nil {
		return nil, errors.New("tasks cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	return &Router{
		cfg:      cfg,
		tasks:    tasks,
		logger:   logger.Named("router"),
		routes:   make(map[schemas.CommandType]*route),
		inflight: make(map[string]context.CancelCauseFunc),
	}, nil
}

// Register binds a handler to a command type, replacing any previous one.
func (r *Router) Register(cmdType schemas.CommandType, h HandlerFunc, opts ...Option) {
	rt := &route{handler: h}
	for _, opt := range opts {
		opt(rt)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[cmdType] = rt
}

// Types lists the registered command types in sorted order.
func (r *Router) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routes))
	for t := range r.routes {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}

// InFlight returns the number of commands awaiting completion.
func (r *Router) InFlight() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.inflight)
}

// Dispatch validates cmd synchronously and completes it asynchronously. The
// returned channel always delivers exactly one Response and is never closed
// before doing so.
func (r *Router) Dispatch(ctx context.Context, cmd schemas.Command) <-chan schemas.Response {
	out := make(chan schemas.Response, 1)

	hctx, cancel := context.WithCancelCause(ctx)
	rt, err := r.accept(ctx, cmd, cancel)
	if err != nil {
		cancel(nil)
		r.logger.Warn("Rejected command", zap.String("command_id", cmd.ID), zap.String("type", string(cmd.Type)), zap.Error(err))
		out <- schemas.NewErrorResponse(cmd.ID, string(failure.KindOf(err)), err.Error())
		return out
	}

	if _, err := r.tasks.Update(ctx, cmd.ID, schemas.TaskPatch{Status: schemas.TaskRunning}); err != nil {
		r.logger.Warn("Failed to mark task running", zap.String("command_id", cmd.ID), zap.Error(err))
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		resp := r.run(hctx, cancel, cmd, rt)
		out <- resp
	}()
	return out
}

// accept validates cmd, registers it as in flight, and creates its pending Task.
func (r *Router) accept(ctx context.Context, cmd schemas.Command, cancel context.CancelCauseFunc) (*route, error) {
	if cmd.ID == "" {
		return nil, failure.Validation("Missing command_id")
	}
	if cmd.Type == "" {
		return nil, failure.Validation("Missing command type")
	}

	r.mu.Lock()
	rt, ok := r.routes[cmd.Type]
	if !ok {
		r.mu.Unlock()
		return nil, failure.Validation("Unknown command type: %s", cmd.Type)
	}
	if _, busy := r.inflight[cmd.ID]; busy {
		r.mu.Unlock()
		return nil, failure.Validation("Duplicate command_id: %s", cmd.ID)
	}
	r.inflight[cmd.ID] = cancel
	r.mu.Unlock()

	task := schemas.Task{
		ID:        cmd.ID,
		Type:      cmd.Type,
		Status:    schemas.TaskPending,
		StartedAt: time.Now(),
	}
	if err := r.tasks.Push(ctx, task); err != nil {
		r.release(cmd.ID)
		if errors.Is(err, taskqueue.ErrDuplicate) {
			return nil, failure.Validation("Duplicate command_id: %s", cmd.ID)
		}
		return nil, failure.Wrap(failure.KindHandler, err, "failed to record task")
	}
	return rt, nil
}

type outcome struct {
	value interface{}
	err   error
}

func (r *Router) run(ctx context.Context, cancel context.CancelCauseFunc, cmd schemas.Command, rt *route) schemas.Response {
	defer r.release(cmd.ID)
	defer cancel(nil)

	logger := r.logger.With(zap.String("command_id", cmd.ID), zap.String("type", string(cmd.Type)))
	timeout := r.cfg.DefaultTimeout
	if rt.timeout != nil {
		if d := rt.timeout(cmd.Params); d > 0 {
			timeout = d
		}
	}

	results := make(chan outcome, 1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				logger.Error("Handler panicked", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
				results <- outcome{err: failure.Handler("Handler panicked: %v", p)}
			}
		}()
		v, err := rt.handler(ctx, cmd.Params)
		results <- outcome{value: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var res outcome
	select {
	case res = <-results:
		if res.err != nil && ctx.Err() != nil {
			// The handler gave up because we cancelled it; report why.
			res.err = context.Cause(ctx)
		}
	case <-timer.C:
		res.err = failure.Wrap(failure.KindTimeout, context.DeadlineExceeded,
			fmt.Sprintf("Command timed out after %s", timeout))
		if r.cfg.CancelOnTimeout {
			cancel(res.err)
		}
		logger.Warn("Command timed out; any late result will be discarded", zap.Duration("timeout", timeout))
	case <-ctx.Done():
		res.err = context.Cause(ctx)
		if failure.KindOf(res.err) != failure.KindConnectionLost {
			res.err = failure.Wrap(failure.KindHandler, res.err, "Command cancelled: "+res.err.Error())
		}
	}

	return r.finish(ctx, logger, cmd, res)
}

func (r *Router) finish(ctx context.Context, logger *zap.Logger, cmd schemas.Command, res outcome) schemas.Response {
	now := time.Now()
	patch := schemas.TaskPatch{Status: schemas.TaskSuccess, FinishedAt: &now}
	var resp schemas.Response

	if res.err == nil {
		resp = schemas.NewSuccessResponse(cmd.ID, res.value)
	} else {
		kind := failure.KindOf(res.err)
		patch.Status = schemas.TaskFailed
		if kind == failure.KindTimeout {
			patch.Status = schemas.TaskTimeout
		}
		patch.Error = res.err.Error()
		resp = schemas.NewErrorResponse(cmd.ID, string(kind), res.err.Error())
	}

	task, err := r.tasks.Update(context.WithoutCancel(ctx), cmd.ID, patch)
	if err != nil {
		logger.Warn("Failed to record task completion", zap.Error(err))
	}

	fields := []zap.Field{zap.String("status", string(patch.Status))}
	if task.DurationMs != nil {
		fields = append(fields, zap.Int64("duration_ms", *task.DurationMs))
	}
	if res.err != nil {
		fields = append(fields, zap.String("kind", resp.Kind), zap.String("error", resp.Error))
		logger.Info("Command failed", fields...)
	} else {
		logger.Debug("Command completed", fields...)
	}
	return resp
}

func (r *Router) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, id)
}

// FailInFlight cancels every in-flight command. Each resolves as failed with
// kind ConnectionLost.
func (r *Router) FailInFlight(cause error) int {
	lost := &failure.Error{Kind: failure.KindConnectionLost, Message: "Connection lost", Err: cause}
	if cause != nil {
		lost.Message = "Connection lost: " + cause.Error()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, cancel := range r.inflight {
		r.logger.Debug("Failing in-flight command", zap.String("command_id", id))
		cancel(lost)
	}
	return len(r.inflight)
}

// Wait blocks until every handler goroutine has returned, including handlers
// whose commands already timed out.
func (r *Router) Wait() {
	r.wg.Wait()
}
