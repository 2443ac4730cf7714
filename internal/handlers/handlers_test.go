package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/browser"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/config"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/dom"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/failure"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/mocks"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/router"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/store"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/taskqueue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// singlePage serves the same page for every tab id.
type singlePage struct{ page dom.Page }

func (s singlePage) Page(context.Context, string) (dom.Page, error) { return s.page, nil }

type fixture struct {
	handlers *Handlers
	browser  *mocks.MockBrowser
	page     *mocks.FakePage
	queue    *taskqueue.Queue
	router   *router.Router
}

func newFixture(t *testing.T, cfg Config, body ...*mocks.Node) *fixture {
	t.Helper()
	page := mocks.NewFakePage("https://example.com/", "Example", body...)
	b := new(mocks.MockBrowser)
	q, err := taskqueue.New(50, store.NewMemorySink(), zap.NewNop())
	require.NoError(t, err)
	messenger := browser.NewMessenger(singlePage{page}, config.InteractionConfig{}, zap.NewNop())

	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	h, err := New(cfg, b, messenger, q, zap.NewNop())
	require.NoError(t, err)

	r, err := router.New(router.Config{DefaultTimeout: 5 * time.Second, CancelOnTimeout: true}, q, zap.NewNop())
	require.NoError(t, err)
	h.Register(r)
	t.Cleanup(r.Wait)

	return &fixture{handlers: h, browser: b, page: page, queue: q, router: r}
}

func (f *fixture) dispatch(t *testing.T, id string, cmd schemas.CommandType, p map[string]interface{}) schemas.Response {
	t.Helper()
	select {
	case resp := <-f.router.Dispatch(context.Background(), schemas.Command{ID: id, Type: cmd, Params: p}):
		return resp
	case <-time.After(10 * time.Second):
		t.Fatalf("no response for %s", id)
	}
	return schemas.Response{}
}

func resultMap(t *testing.T, resp schemas.Response) map[string]interface{} {
	t.Helper()
	require.True(t, resp.Success, "%s: %s", resp.Kind, resp.Error)
	m, ok := resp.Result.(map[string]interface{})
	require.True(t, ok, "result is %T", resp.Result)
	return m
}

func TestNewValidatesDependencies(t *testing.T) {
	b := new(mocks.MockBrowser)
	m := new(mocks.MockMessenger)
	q, err := taskqueue.New(1, store.NewMemorySink(), zap.NewNop())
	require.NoError(t, err)

	_, err = New(Config{}, nil, m, q, zap.NewNop())
	assert.EqualError(t, err, "browser cannot be nil")
	_, err = New(Config{}, b, nil, q, zap.NewNop())
	assert.EqualError(t, err, "messenger cannot be nil")
	_, err = New(Config{}, b, m, nil, zap.NewNop())
	assert.EqualError(t, err, "queue cannot be nil")
	_, err = New(Config{AllowedURLs: []string{"https://[a"}}, b, m, q, zap.NewNop())
	assert.ErrorContains(t, err, "invalid allowed_urls pattern")
}

func TestCommandSurface(t *testing.T) {
	f := newFixture(t, Config{})
	want := []string{
		"auto_fill_form", "clear_task_queue", "click", "detect_forms", "execute_script",
		"fill_checkbox", "fill_date", "fill_form", "fill_radio", "fill_select", "get_content",
		"get_cookies", "get_network_logs", "get_page_state", "get_task_queue", "handle_file_upload",
		"list_tabs", "navigate", "navigate_multi_step", "screenshot", "start_network_monitoring",
		"stop_network_monitoring", "submit_form", "type_text", "wait_for_element",
	}
	assert.Equal(t, want, f.handlers.Commands())
	assert.Equal(t, want, f.router.Types())
}

func TestClickMissingElement(t *testing.T) {
	f := newFixture(t, Config{}, mocks.El("button", mocks.Attrs{"id": "go"}).WithText("Go"))

	resp := f.dispatch(t, "c-1", schemas.CommandClick, map[string]interface{}{"selector": "#missing"})
	assert.False(t, resp.Success)
	assert.Equal(t, "c-1", resp.CommandID)
	assert.Equal(t, string(failure.KindElementNotFound), resp.Kind)
	assert.Equal(t, "Element not found: #missing", resp.Error)

	task, ok := f.queue.Get("c-1")
	require.True(t, ok)
	assert.Equal(t, schemas.TaskFailed, task.Status)
	assert.Equal(t, "Element not found: #missing", task.Error)
}

func TestRelayedInteraction(t *testing.T) {
	name := mocks.El("input", mocks.Attrs{"id": "name", "name": "name"})
	f := newFixture(t, Config{}, mocks.El("form", mocks.Attrs{"id": "f"}, name))

	resp := f.dispatch(t, "t-1", schemas.CommandTypeText, map[string]interface{}{"selector": "name", "text": "Ada"})
	res := resultMap(t, resp)
	assert.Equal(t, float64(3), res["typed"])
	assert.Equal(t, "Ada", name.Value)

	task, ok := f.queue.Get("t-1")
	require.True(t, ok)
	assert.Equal(t, schemas.TaskSuccess, task.Status)
	require.NotNil(t, task.DurationMs)
}

func TestWaitForElement(t *testing.T) {
	t.Run("appears later", func(t *testing.T) {
		f := newFixture(t, Config{})
		go func() {
			time.Sleep(30 * time.Millisecond)
			f.page.Append(nil, mocks.El("div", mocks.Attrs{"id": "late"}))
		}()
		res := resultMap(t, f.dispatch(t, "w-1", schemas.CommandWaitForElement, map[string]interface{}{"selector": "#late", "timeout": 2000}))
		assert.Equal(t, true, res["found"])
		assert.Equal(t, "#late", res["selector"])
		assert.Contains(t, res, "elapsed_ms")
	})

	t.Run("times out", func(t *testing.T) {
		f := newFixture(t, Config{})
		resp := f.dispatch(t, "w-2", schemas.CommandWaitForElement, map[string]interface{}{"selector": "#never", "timeout": 50})
		assert.False(t, resp.Success)
		assert.Equal(t, string(failure.KindTimeout), resp.Kind)
		assert.Contains(t, resp.Error, "waiting for element: #never")

		task, _ := f.queue.Get("w-2")
		assert.Equal(t, schemas.TaskTimeout, task.Status)
	})

	t.Run("budget extends router timeout", func(t *testing.T) {
		f := newFixture(t, Config{})
		assert.Equal(t, 65*time.Second, f.handlers.waitTimeout(map[string]interface{}{"timeout": 60000}))
		assert.Equal(t, defaultWait+waitSlack, f.handlers.waitTimeout(nil))
	})

	t.Run("missing selector", func(t *testing.T) {
		f := newFixture(t, Config{})
		resp := f.dispatch(t, "w-3", schemas.CommandWaitForElement, nil)
		assert.Equal(t, string(failure.KindValidation), resp.Kind)
		assert.Equal(t, "Missing required parameter: selector", resp.Error)

		task, ok := f.queue.Get("w-3")
		require.True(t, ok, "handler-side validation runs after the task is recorded")
		assert.Equal(t, schemas.TaskFailed, task.Status)
		assert.Equal(t, "Missing required parameter: selector", task.Error)
	})
}

func TestNavigate(t *testing.T) {
	f := newFixture(t, Config{AllowedURLs: []string{"https://*.example.com/**"}}, mocks.El("h1", nil).WithText("Hello"))
	f.browser.On("Navigate", mock.Anything, "", "https://www.example.com/a/b").
		Return(schemas.TabInfo{ID: "T1", URL: "https://www.example.com/a/b", Title: "Hello", Active: true}, nil).Once()

	res := resultMap(t, f.dispatch(t, "n-1", schemas.CommandNavigate, map[string]interface{}{
		"url": "https://www.example.com/a/b", "wait_for": "h1",
	}))
	assert.Equal(t, "T1", res["tab_id"])
	assert.Equal(t, "T1", res["tabId"])
	assert.Equal(t, true, res["loaded"])
	waited, ok := res["wait_for"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, waited["found"])

	for id, url := range map[string]string{
		"n-2": "https://evil.com/",
		"n-3": "https://example.com.evil.com/",
		"n-4": "javascript:alert(1)",
		"n-5": "not a url",
	} {
		resp := f.dispatch(t, id, schemas.CommandNavigate, map[string]interface{}{"url": url})
		assert.Equal(t, string(failure.KindValidation), resp.Kind, url)
	}
	f.browser.AssertExpectations(t)
}

func TestNavigateFailureKeepsKind(t *testing.T) {
	f := newFixture(t, Config{})
	f.browser.On("Navigate", mock.Anything, "T9", "https://example.com/").
		Return(schemas.TabInfo{}, failure.Handler("Tab not found: T9"))

	resp := f.dispatch(t, "n-1", schemas.CommandNavigate, map[string]interface{}{"url": "https://example.com/", "tab_id": "T9"})
	assert.Equal(t, string(failure.KindHandler), resp.Kind)
	assert.Equal(t, "Tab not found: T9", resp.Error)
}

func TestNavigateMultiStep(t *testing.T) {
	email := mocks.El("input", mocks.Attrs{"id": "email"})
	next := mocks.El("button", mocks.Attrs{"id": "next", "type": "button"}).WithText("Next")
	body := mocks.El("form", mocks.Attrs{"id": "f"}, email, next)

	t.Run("runs steps in order", func(t *testing.T) {
		f := newFixture(t, Config{}, body)
		res := resultMap(t, f.dispatch(t, "m-1", schemas.CommandNavigateMultiStep, map[string]interface{}{
			"steps": []interface{}{
				map[string]interface{}{"type": "fill_form", "params": map[string]interface{}{"fields": map[string]interface{}{"#email": "a@b.c"}}},
				map[string]interface{}{"type": "click", "params": map[string]interface{}{"selector": "Next"}, "wait_after": 1},
			},
		}))
		assert.Equal(t, 2, res["completed"])
		assert.Equal(t, 0, res["failed"])
		steps, ok := res["steps"].([]map[string]interface{})
		require.True(t, ok)
		require.Len(t, steps, 2)
		assert.NotEqual(t, steps[0]["id"], steps[1]["id"])
		assert.Equal(t, "click", steps[1]["type"])
		assert.Equal(t, "a@b.c", email.Value)
		assert.Contains(t, f.page.EventTypes("#next"), "click")

		// Steps are not tracked as tasks of their own.
		assert.Equal(t, 1, f.queue.Len())
	})

	t.Run("stops at first failure", func(t *testing.T) {
		f := newFixture(t, Config{}, body)
		resp := f.dispatch(t, "m-2", schemas.CommandNavigateMultiStep, map[string]interface{}{
			"steps": []interface{}{
				map[string]interface{}{"type": "click", "params": map[string]interface{}{"selector": "#missing"}},
				map[string]interface{}{"type": "click", "params": map[string]interface{}{"selector": "#next"}},
			},
		})
		assert.False(t, resp.Success)
		assert.Equal(t, string(failure.KindElementNotFound), resp.Kind)
		assert.Equal(t, "Step 1 (click) failed: Element not found: #missing", resp.Error)
	})

	t.Run("continues when asked", func(t *testing.T) {
		f := newFixture(t, Config{}, body)
		res := resultMap(t, f.dispatch(t, "m-3", schemas.CommandNavigateMultiStep, map[string]interface{}{
			"stop_on_error": false,
			"steps": []interface{}{
				map[string]interface{}{"type": "click", "params": map[string]interface{}{"selector": "#missing"}},
				map[string]interface{}{"type": "click", "params": map[string]interface{}{"selector": "#next"}},
			},
		}))
		assert.Equal(t, 1, res["completed"])
		assert.Equal(t, 1, res["failed"])
	})

	t.Run("rejects bad steps", func(t *testing.T) {
		f := newFixture(t, Config{}, body)
		for id, steps := range map[string]interface{}{
			"v-1": nil,
			"v-2": []interface{}{"click"},
			"v-3": []interface{}{map[string]interface{}{"type": "teleport"}},
			"v-4": []interface{}{map[string]interface{}{"type": "navigate_multi_step"}},
		} {
			resp := f.dispatch(t, id, schemas.CommandNavigateMultiStep, map[string]interface{}{"steps": steps})
			assert.Equal(t, string(failure.KindValidation), resp.Kind, id)
		}
	})

	t.Run("timeout scales with steps", func(t *testing.T) {
		f := newFixture(t, Config{StepTimeout: time.Second})
		d := f.handlers.multiStepTimeout(map[string]interface{}{"steps": []interface{}{
			map[string]interface{}{"type": "click"},
			map[string]interface{}{"type": "click", "wait_after": 500},
		}})
		assert.Equal(t, 2500*time.Millisecond, d)
	})
}

func TestBrowserCommands(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := mock.Anything

	f.browser.On("Screenshot", ctx, "", schemas.ScreenshotOptions{Format: "jpeg", Quality: 70}).
		Return(schemas.Screenshot{TabID: "T1", Format: "jpeg", Data: "AAAA"}, nil)
	res := resultMap(t, f.dispatch(t, "s-1", schemas.CommandScreenshot, map[string]interface{}{"format": "jpeg", "quality": 70}))
	assert.Equal(t, "data:image/jpeg;base64,AAAA", res["screenshot"])

	f.browser.On("ExecuteScript", ctx, "T1", "return 1 + 1").Return(float64(2), nil)
	res = resultMap(t, f.dispatch(t, "s-2", schemas.CommandExecuteScript, map[string]interface{}{"script": "return 1 + 1", "tab_id": "T1"}))
	assert.Equal(t, float64(2), res["result"])

	f.browser.On("Cookies", ctx, "", []string{"https://example.com/"}).
		Return([]schemas.Cookie{{Name: "sid", Value: "x"}}, nil)
	res = resultMap(t, f.dispatch(t, "s-3", schemas.CommandGetCookies, map[string]interface{}{"url": "https://example.com/"}))
	assert.Equal(t, 1, res["count"])

	f.browser.On("ListTabs", ctx).Return([]schemas.TabInfo{{ID: "T1"}, {ID: "T2"}}, nil)
	res = resultMap(t, f.dispatch(t, "s-4", schemas.CommandListTabs, nil))
	assert.Equal(t, 2, res["count"])

	f.browser.On("StartNetworkCapture", ctx, "T1").Return(nil)
	f.browser.On("StopNetworkCapture", ctx, "T1").Return(errors.New("boom"))
	f.browser.On("NetworkLogs", ctx, "", true).Return([]schemas.NetworkEntry{{RequestID: "1"}}, nil)

	res = resultMap(t, f.dispatch(t, "s-5", schemas.CommandStartNetwork, map[string]interface{}{"tab_id": "T1"}))
	assert.Equal(t, true, res["monitoring"])
	resp := f.dispatch(t, "s-6", schemas.CommandStopNetwork, map[string]interface{}{"tab_id": "T1"})
	assert.Equal(t, string(failure.KindHandler), resp.Kind)
	res = resultMap(t, f.dispatch(t, "s-7", schemas.CommandGetNetworkLogs, map[string]interface{}{"clear": true}))
	assert.Equal(t, 1, res["count"])

	resp = f.dispatch(t, "s-8", schemas.CommandExecuteScript, nil)
	assert.Equal(t, "Missing required parameter: script or code", resp.Error)

	f.browser.AssertExpectations(t)
}

func TestTaskQueueCommands(t *testing.T) {
	f := newFixture(t, Config{}, mocks.El("p", nil).WithText("hi"))
	f.dispatch(t, "q-1", schemas.CommandGetContent, nil)
	f.dispatch(t, "q-2", schemas.CommandGetPageState, nil)

	res := resultMap(t, f.dispatch(t, "q-3", schemas.CommandGetTaskQueue, map[string]interface{}{"limit": 2}))
	tasks, ok := res["tasks"].([]schemas.Task)
	require.True(t, ok)
	require.Len(t, tasks, 2)
	// The running query itself is the most recent task.
	assert.Equal(t, "q-3", tasks[0].ID)
	assert.Equal(t, schemas.TaskRunning, tasks[0].Status)
	assert.Equal(t, 3, res["total"])

	res = resultMap(t, f.dispatch(t, "q-4", schemas.CommandClearTaskQueue, nil))
	assert.Equal(t, 4, res["cleared"])
	assert.Zero(t, f.queue.Len())
}
