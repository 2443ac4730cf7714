// internal/router/router_test.go
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/failure"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/store"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/taskqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func setupRouter(t *testing.T, cfg Config) (*Router, *taskqueue.Queue) {
	t.Helper()
	q, err := taskqueue.New(100, store.NewMemorySink(), zap.NewNop())
	require.NoError(t, err)
	r, err := New(cfg, q, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(r.Wait)
	return r, q
}

// await reads the single Response and asserts nothing else arrives.
func await(t *testing.T, ch <-chan schemas.Response) schemas.Response {
	t.Helper()
	var resp schemas.Response
	select {
	case resp = <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no response produced")
	}
	select {
	case extra := <-ch:
		t.Fatalf("duplicate response produced: %+v", extra)
	case <-time.After(20 * time.Millisecond):
	}
	return resp
}

func TestNewValidatesDependencies(t *testing.T) {
	_, err := New(Config{}, nil, zap.NewNop())
	assert.EqualError(t, err, "tasks cannot be nil")

	q, _ := taskqueue.New(1, store.NewMemorySink(), zap.NewNop())
	_, err = New(Config{}, q, nil)
	assert.EqualError(t, err, "logger cannot be nil")
}

func TestDispatchValidation(t *testing.T) {
	r, q := setupRouter(t, Config{DefaultTimeout: time.Second})
	r.Register(schemas.CommandClick, func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
		return nil, nil
	})

	tests := []struct {
		name    string
		cmd     schemas.Command
		wantErr string
	}{
		{"missing id", schemas.Command{Type: schemas.CommandClick}, "Missing command_id"},
		{"missing type", schemas.Command{ID: "1"}, "Missing command type"},
		{"unknown type", schemas.Command{ID: "2", Type: "teleport"}, "Unknown command type: teleport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := await(t, r.Dispatch(context.Background(), tt.cmd))
			assert.False(t, resp.Success)
			assert.Equal(t, tt.cmd.ID, resp.CommandID)
			assert.Equal(t, string(failure.KindValidation), resp.Kind)
			assert.Equal(t, tt.wantErr, resp.Error)
		})
	}
	assert.Zero(t, q.Len(), "validation failures must not create tasks")
}

func TestDispatchDuplicateInFlight(t *testing.T) {
	r, q := setupRouter(t, Config{DefaultTimeout: time.Second})
	release := make(chan struct{})
	r.Register(schemas.CommandClick, func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
		<-release
		return "done", nil
	})

	first := r.Dispatch(context.Background(), schemas.Command{ID: "dup", Type: schemas.CommandClick})
	second := await(t, r.Dispatch(context.Background(), schemas.Command{ID: "dup", Type: schemas.CommandClick}))
	assert.Equal(t, string(failure.KindValidation), second.Kind)
	assert.Equal(t, "Duplicate command_id: dup", second.Error)

	close(release)
	resp := await(t, first)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, q.Len())
}

func TestDispatchReusesFinishedID(t *testing.T) {
	r, q := setupRouter(t, Config{DefaultTimeout: time.Second})
	var calls atomic.Int32
	r.Register(schemas.CommandClick, func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
		return calls.Add(1), nil
	})

	first := await(t, r.Dispatch(context.Background(), schemas.Command{ID: "cmd-1", Type: schemas.CommandClick}))
	require.True(t, first.Success)

	second := await(t, r.Dispatch(context.Background(), schemas.Command{ID: "cmd-1", Type: schemas.CommandClick}))
	assert.True(t, second.Success, "a finished id can be sent again: %s", second.Error)
	assert.Equal(t, int32(2), second.Result)
	assert.Equal(t, 1, q.Len())
	assert.Zero(t, r.InFlight())
}

func TestDispatchSuccess(t *testing.T) {
	r, q := setupRouter(t, Config{DefaultTimeout: time.Second})
	r.Register(schemas.CommandGetContent, func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{"selector": params["selector"]}, nil
	})

	resp := await(t, r.Dispatch(context.Background(), schemas.Command{
		ID: "c1", Type: schemas.CommandGetContent, Params: map[string]interface{}{"selector": "body"},
	}))
	assert.True(t, resp.Success)
	assert.Equal(t, "c1", resp.CommandID)
	assert.Equal(t, map[string]interface{}{"selector": "body"}, resp.Result)
	assert.NotZero(t, resp.Timestamp)

	task, ok := q.Get("c1")
	require.True(t, ok)
	assert.Equal(t, schemas.TaskSuccess, task.Status)
	assert.NotNil(t, task.FinishedAt)
	assert.NotNil(t, task.DurationMs)
	assert.Zero(t, r.InFlight())
}

func TestDispatchHandlerErrors(t *testing.T) {
	r, q := setupRouter(t, Config{DefaultTimeout: time.Second})
	r.Register(schemas.CommandClick, func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return nil, failure.NotFound(params["selector"].(string))
	})
	r.Register(schemas.CommandSubmitForm, func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
		return nil, errors.New("form not found")
	})
	r.Register(schemas.CommandExecuteScript, func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
		var m map[string]int
		m["boom"]++ // nil map write panics
		return nil, nil
	})

	t.Run("element not found", func(t *testing.T) {
		resp := await(t, r.Dispatch(context.Background(), schemas.Command{
			ID: "1", Type: schemas.CommandClick, Params: map[string]interface{}{"selector": "#missing"},
		}))
		assert.Equal(t, schemas.Response{
			CommandID: "1",
			Success:   false,
			Error:     "Element not found: #missing",
			Kind:      string(failure.KindElementNotFound),
			Timestamp: resp.Timestamp,
		}, resp)
		task, _ := q.Get("1")
		assert.Equal(t, schemas.TaskFailed, task.Status)
	})

	t.Run("plain error is a handler error", func(t *testing.T) {
		resp := await(t, r.Dispatch(context.Background(), schemas.Command{ID: "2", Type: schemas.CommandSubmitForm}))
		assert.Equal(t, string(failure.KindHandler), resp.Kind)
		assert.Equal(t, "form not found", resp.Error)
	})

	t.Run("panic is recovered", func(t *testing.T) {
		core, logs := observer.New(zapcore.ErrorLevel)
		r.logger = zap.New(core)
		resp := await(t, r.Dispatch(context.Background(), schemas.Command{ID: "3", Type: schemas.CommandExecuteScript}))
		assert.False(t, resp.Success)
		assert.Equal(t, string(failure.KindHandler), resp.Kind)
		assert.Contains(t, resp.Error, "Handler panicked")
		assert.Equal(t, 1, logs.FilterMessage("Handler panicked").Len())
		task, _ := q.Get("3")
		assert.Equal(t, schemas.TaskFailed, task.Status)
	})
}

func TestDispatchTimeout(t *testing.T) {
	t.Run("timeout is reported once and late result is discarded", func(t *testing.T) {
		r, q := setupRouter(t, Config{DefaultTimeout: 50 * time.Millisecond})
		release := make(chan struct{})
		var finished atomic.Bool
		r.Register(schemas.CommandNavigate, func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
			<-release
			finished.Store(true)
			return "late", nil
		})

		resp := await(t, r.Dispatch(context.Background(), schemas.Command{ID: "t1", Type: schemas.CommandNavigate}))
		assert.False(t, resp.Success)
		assert.Equal(t, string(failure.KindTimeout), resp.Kind)
		assert.Equal(t, "Command timed out after 50ms", resp.Error)

		close(release)
		r.Wait()
		assert.True(t, finished.Load())

		task, _ := q.Get("t1")
		assert.Equal(t, schemas.TaskTimeout, task.Status, "late success must not overwrite timeout")
	})

	t.Run("cancel on timeout suppresses later side effects", func(t *testing.T) {
		r, _ := setupRouter(t, Config{DefaultTimeout: 30 * time.Millisecond, CancelOnTimeout: true})
		var clicked atomic.Bool
		r.Register(schemas.CommandClick, func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
			select {
			case <-time.After(time.Second):
				clicked.Store(true)
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})

		resp := await(t, r.Dispatch(context.Background(), schemas.Command{ID: "t2", Type: schemas.CommandClick}))
		assert.Equal(t, string(failure.KindTimeout), resp.Kind)
		r.Wait()
		assert.False(t, clicked.Load())
	})

	t.Run("per handler timeout from params", func(t *testing.T) {
		r, _ := setupRouter(t, Config{DefaultTimeout: 10 * time.Millisecond})
		r.Register(schemas.CommandWaitForElement, func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
			time.Sleep(40 * time.Millisecond)
			return "found", nil
		}, WithTimeoutFunc(func(params map[string]interface{}) time.Duration {
			return time.Duration(params["timeout"].(float64)) * time.Millisecond
		}))

		resp := await(t, r.Dispatch(context.Background(), schemas.Command{
			ID: "w", Type: schemas.CommandWaitForElement, Params: map[string]interface{}{"timeout": float64(500)},
		}))
		assert.True(t, resp.Success)
	})
}

func TestFailInFlight(t *testing.T) {
	r, q := setupRouter(t, Config{DefaultTimeout: 5 * time.Second})
	started := make(chan struct{}, 3)
	r.Register(schemas.CommandWaitForElement, func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}, WithTimeout(5*time.Second))

	var chans []<-chan schemas.Response
	for i := 0; i < 3; i++ {
		chans = append(chans, r.Dispatch(context.Background(), schemas.Command{
			ID: fmt.Sprintf("w%d", i), Type: schemas.CommandWaitForElement,
		}))
	}
	for i := 0; i < 3; i++ {
		<-started
	}

	assert.Equal(t, 3, r.FailInFlight(errors.New("socket closed")))
	for i, ch := range chans {
		resp := await(t, ch)
		assert.Equal(t, string(failure.KindConnectionLost), resp.Kind)
		assert.Equal(t, "Connection lost: socket closed", resp.Error)
		task, _ := q.Get(fmt.Sprintf("w%d", i))
		assert.Equal(t, schemas.TaskFailed, task.Status)
	}
}

func TestConcurrentDispatchExactlyOnce(t *testing.T) {
	r, q := setupRouter(t, Config{DefaultTimeout: time.Second})
	r.Register(schemas.CommandGetPageState, func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		time.Sleep(time.Duration(params["delay"].(int)) * time.Millisecond)
		return params["n"], nil
	})

	const n = 50
	var wg sync.WaitGroup
	results := make([]schemas.Response, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch := r.Dispatch(context.Background(), schemas.Command{
				ID:     fmt.Sprintf("cmd-%d", i),
				Type:   schemas.CommandGetPageState,
				Params: map[string]interface{}{"n": i, "delay": (n - i) % 7},
			})
			results[i] = <-ch
		}(i)
	}
	wg.Wait()

	for i, resp := range results {
		assert.Equal(t, fmt.Sprintf("cmd-%d", i), resp.CommandID, "responses are never misattributed")
		assert.True(t, resp.Success)
		assert.Equal(t, i, resp.Result)
	}
	assert.Equal(t, n, q.Len())
	assert.ElementsMatch(t, []string{string(schemas.CommandGetPageState)}, r.Types())
}
