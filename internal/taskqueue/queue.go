// Package taskqueue keeps the bounded record of in-flight and recent commands.
// The queue is the only writer of Task state; every mutation is mirrored to the
// durable sink and broadcast to listeners.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/store"
	"go.uber.org/zap"
)

// ErrTaskNotFound is returned by Update and Get for ids that are not (or no longer) queued.
var ErrTaskNotFound = errors.New("task not found")

// ErrDuplicate is returned by Push when a task with the same id has not finished.
var ErrDuplicate = errors.New("task already queued")

// ErrTerminal is returned when updating a task that already reached a terminal state.
var ErrTerminal = errors.New("task already in a terminal state")

// Listener receives a most-recent-first snapshot after every mutation.
type Listener func(tasks []schemas.Task)

// Queue is a capacity-bounded, insertion-ordered set of Tasks.
type Queue struct {
	capacity int
	sink     store.Sink
	logger   *zap.Logger

	mu    sync.Mutex
	tasks []schemas.Task // oldest first
	index map[string]int

	listenersMu sync.RWMutex
	listeners   []Listener

	// version counts mutations; written is the newest version already published.
	// Snapshots older than written are dropped so the mirror never goes backwards.
	version uint64
	writeMu sync.Mutex
	written uint64
	closed  bool
}

// New creates a queue holding at most capacity tasks.
func New(capacity int, sink store.Sink, logger *zap.Logger) (*Queue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive, got %d", capacity)
	}
	if sink == nil {
		return nil, fmt.Errorf("sink cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		capacity: capacity,
		sink:     sink,
		logger:   logger.Named("taskqueue"),
		index:    make(map[string]int),
	}, nil
}

// Init rebuilds the in-memory cache from the mirror after a cold start. Tasks
// that were still pending or running when the previous process died can never
// complete, so they are marked failed.
func (q *Queue) Init(ctx context.Context) error {
	var persisted []schemas.Task
	found, err := q.sink.Get(ctx, schemas.KeyTaskQueue, &persisted)
	if err != nil {
		return fmt.Errorf("failed to load task queue mirror: %w", err)
	}
	if !found {
		return nil
	}

	now := time.Now()
	q.mu.Lock()
	q.tasks = q.tasks[:0]
	// The mirror is stored most-recent-first.
	for i := len(persisted) - 1; i >= 0; i-- {
		t := persisted[i]
		if !t.Status.Terminal() {
			t = schemas.TaskPatch{
				Status:     schemas.TaskFailed,
				FinishedAt: &now,
				Error:      "Agent restarted before the command completed",
			}.Apply(t)
		}
		q.tasks = append(q.tasks, t)
	}
	q.evictLocked()
	q.reindexLocked()
	q.version++
	version, snapshot := q.version, q.snapshotLocked(0)
	q.mu.Unlock()

	q.logger.Info("Task queue restored from mirror.", zap.Int("tasks", len(snapshot)))
	q.publish(ctx, version, snapshot)
	return nil
}

// Push appends a task, evicting the oldest ones beyond capacity. A finished task
// with the same id is replaced, so controllers may reuse ids across sessions.
func (q *Queue) Push(ctx context.Context, task schemas.Task) error {
	q.mu.Lock()
	if i, exists := q.index[task.ID]; exists {
		if !q.tasks[i].Status.Terminal() {
			q.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrDuplicate, task.ID)
		}
		q.logger.Debug("Replacing finished task with reused id", zap.String("task_id", task.ID))
		q.tasks = append(q.tasks[:i:i], q.tasks[i+1:]...)
	}
	q.tasks = append(q.tasks, task)
	q.evictLocked()
	q.reindexLocked()
	q.version++
	version, snapshot := q.version, q.snapshotLocked(0)
	q.mu.Unlock()

	q.publish(ctx, version, snapshot)
	return nil
}

// Update applies patch to the task with id and returns the result.
func (q *Queue) Update(ctx context.Context, id string, patch schemas.TaskPatch) (schemas.Task, error) {
	q.mu.Lock()
	i, ok := q.index[id]
	if !ok {
		q.mu.Unlock()
		return schemas.Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if q.tasks[i].Status.Terminal() {
		t := q.tasks[i]
		q.mu.Unlock()
		return t, fmt.Errorf("%w: %s is %s", ErrTerminal, id, t.Status)
	}
	q.tasks[i] = patch.Apply(q.tasks[i])
	updated := q.tasks[i]
	q.version++
	version, snapshot := q.version, q.snapshotLocked(0)
	q.mu.Unlock()

	q.publish(ctx, version, snapshot)
	return updated, nil
}

// Get returns the task with id.
func (q *Queue) Get(id string) (schemas.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i, ok := q.index[id]
	if !ok {
		return schemas.Task{}, false
	}
	return q.tasks[i], true
}

// List returns up to limit tasks, most recent first. A limit <= 0 returns all.
func (q *Queue) List(limit int) []schemas.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked(limit)
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Clear removes every task and persists the empty state.
func (q *Queue) Clear(ctx context.Context) {
	q.mu.Lock()
	q.tasks = nil
	q.index = make(map[string]int)
	q.version++
	version := q.version
	q.mu.Unlock()

	q.publish(ctx, version, []schemas.Task{})
}

// Subscribe registers a listener for queue snapshots.
func (q *Queue) Subscribe(l Listener) {
	q.listenersMu.Lock()
	defer q.listenersMu.Unlock()
	q.listeners = append(q.listeners, l)
}

// Close stops mirroring. Later mutations only update memory.
func (q *Queue) Close() error {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()
	q.closed = true
	return nil
}

func (q *Queue) evictLocked() {
	if over := len(q.tasks) - q.capacity; over > 0 {
		evicted := q.tasks[:over]
		for _, t := range evicted {
			q.logger.Debug("Evicting task", zap.String("task_id", t.ID), zap.String("status", string(t.Status)))
		}
		q.tasks = append([]schemas.Task(nil), q.tasks[over:]...)
	}
}

func (q *Queue) reindexLocked() {
	q.index = make(map[string]int, len(q.tasks))
	for i, t := range q.tasks {
		q.index[t.ID] = i
	}
}

func (q *Queue) snapshotLocked(limit int) []schemas.Task {
	n := len(q.tasks)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]schemas.Task, 0, n)
	for i := len(q.tasks) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, q.tasks[i])
	}
	return out
}

// publish mirrors and broadcasts a snapshot. Mirror failures are logged, never returned:
// the mirror is not the source of truth.
func (q *Queue) publish(ctx context.Context, version uint64, snapshot []schemas.Task) {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()
	if version <= q.written {
		return
	}
	q.written = version
	if !q.closed {
		err := q.sink.Put(context.WithoutCancel(ctx), map[string]interface{}{
			schemas.KeyTaskQueue:   snapshot,
			schemas.KeyLastUpdated: time.Now().UnixMilli(),
		})
		if err != nil {
			q.logger.Warn("Failed to mirror task queue", zap.Error(err))
		}
	}

	q.listenersMu.RLock()
	defer q.listenersMu.RUnlock()
	for _, l := range q.listeners {
		l(snapshot)
	}
}
