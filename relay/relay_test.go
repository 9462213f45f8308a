package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/liuxd6825/tabpilot/host"
)

// extensionHandler answers a request of the relay. A non empty code makes
// the response an error.
type extensionHandler func(method string, params gjson.Result) (result any, code string)

// fakeExtension plays the browser extension side of the relay.
type fakeExtension struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
}

func wsURL(srv *httptest.Server, query string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func dialExtension(t *testing.T, srv *httptest.Server, handle extensionHandler) *fakeExtension {
	t.Helper()

	ws, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()

	e := &fakeExtension{ws: ws, done: make(chan struct{})}
	t.Cleanup(func() { _ = ws.Close() })
	go e.serve(handle)
	return e
}

func (e *fakeExtension) serve(handle extensionHandler) {
	defer close(e.done)
	for {
		_, buf, err := e.ws.ReadMessage()
		if err != nil {
			return
		}
		msg := gjson.ParseBytes(buf)
		method := msg.Get("method").String()

		var (
			result any
			code   string
		)
		switch {
		case handle != nil:
			result, code = handle(method, msg.Get("params"))
		case method == MethodTargets:
			result = targetsResult{Targets: []host.TargetID{}}
		}
		if result == noReply {
			continue
		}
		resp := map[string]any{"id": msg.Get("id").Int()}
		if code != "" {
			resp["error"] = map[string]string{"code": code, "message": "failed: " + code}
		} else {
			resp["result"] = result
		}
		if err := e.send(resp); err != nil {
			return
		}
	}
}

// noReply makes the fake extension leave a request unanswered.
var noReply = &struct{ noReply bool }{}

func (e *fakeExtension) send(v any) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.ws.WriteJSON(v)
}

func (e *fakeExtension) event(t *testing.T, name string, params any) {
	t.Helper()
	require.NoError(t, e.send(map[string]any{"event": name, "params": params}))
}

func newTestRelay(t *testing.T, opts Options) (*Relay, *httptest.Server, *prometheus.Registry) {
	t.Helper()

	reg := prometheus.NewRegistry()
	opts.Registerer = reg
	r := New(opts)
	srv := httptest.NewServer(r.Handler(reg))
	t.Cleanup(func() {
		r.Close()
		srv.Close()
	})
	return r, srv, reg
}

func waitConnected(t *testing.T, r *Relay) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.WaitConnected(ctx))
}

func nextEvent(t *testing.T, ch <-chan host.Event) host.Event {
	t.Helper()

	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		require.FailNow(t, "timed out waiting for event")
	}
	return nil
}

func TestRelayRequests(t *testing.T) {
	t.Parallel()

	r, srv, _ := newTestRelay(t, Options{})
	dialExtension(t, srv, func(method string, params gjson.Result) (any, string) {
		switch method {
		case MethodTargets:
			return targetsResult{Targets: []host.TargetID{2}}, ""
		case MethodInject:
			switch params.Get("function").String() {
			case "querySelector":
				return map[string]any{"handle": "h1"}, ""
			case "textContent":
				if params.Get("frame").Int() == 4 {
					return nil, CodeNoSuchFrame
				}
				return map[string]any{"value": params.Get("args.0").String() + "@" + params.Get("world").String()}, ""
			}
			return nil, "bad_function"
		case MethodCapture:
			if params.Get("quality").Int() == 0 {
				return nil, CodeCaptureRateLimited
			}
			return captureResult{DataURL: "data:image/jpeg;base64,AA=="}, ""
		case MethodOpen:
			return targetParams{Target: 5}, ""
		case MethodClose:
			return struct{}{}, ""
		}
		return nil, "unknown_method"
	})
	waitConnected(t, r)

	ctx := context.Background()
	st := host.ScriptTarget{Target: 2, Frame: host.MainFrameID, World: host.UtilityWorld}

	t.Run("inject", func(t *testing.T) {
		res, err := r.Inject(ctx, st, host.Call{Function: host.OpQuerySelector, Args: []any{"h1"}})
		require.NoError(t, err)
		assert.True(t, res.IsHandle())
		assert.Equal(t, "h1", res.Handle)

		res, err = r.Inject(ctx, st, host.Call{Function: host.OpTextContent, Args: []any{"h"}})
		require.NoError(t, err)
		s, ok := res.StringValue()
		require.True(t, ok)
		assert.Equal(t, "h@utility", s)
	})
	t.Run("inject_errors", func(t *testing.T) {
		_, err := r.Inject(ctx, host.ScriptTarget{Target: 2, Frame: 4, World: host.MainWorld},
			host.Call{Function: host.OpTextContent})
		require.ErrorIs(t, err, host.ErrNoSuchFrame)

		_, err = r.Inject(ctx, st, host.Call{Function: host.OpClick})
		require.ErrorIs(t, err, ErrExtension)
		assert.Contains(t, err.Error(), "bad_function")
	})
	t.Run("capture", func(t *testing.T) {
		url, err := r.CaptureVisible(ctx, 2, host.CaptureOptions{Format: "jpeg", Quality: 80})
		require.NoError(t, err)
		assert.Equal(t, "data:image/jpeg;base64,AA==", url)

		_, err = r.CaptureVisible(ctx, 2, host.CaptureOptions{Format: "png"})
		require.ErrorIs(t, err, host.ErrCaptureRateLimited)
	})
	t.Run("open_close", func(t *testing.T) {
		id, err := r.Open("https://example.test/")
		require.NoError(t, err)
		assert.Equal(t, host.TargetID(5), id)
		assert.Contains(t, r.Targets(), host.TargetID(5))

		require.NoError(t, r.CloseTarget(5))
	})
	t.Run("synced_targets", func(t *testing.T) {
		assert.Eventually(t, func() bool {
			for _, id := range r.Targets() {
				if id == 2 {
					return true
				}
			}
			return false
		}, time.Second, 10*time.Millisecond)
	})
}

func TestRelayEvents(t *testing.T) {
	t.Parallel()

	r, srv, _ := newTestRelay(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := r.Subscribe(ctx)

	ext := dialExtension(t, srv, nil)
	waitConnected(t, r)

	ext.event(t, EventNavigation, map[string]any{
		"kind": "committed", "target": 3, "frame": 0, "url": "https://example.test/", "documentId": "D1",
	})
	ext.event(t, EventNavigation, map[string]any{
		"kind": "committed", "target": 3, "frame": 1, "parentFrame": 0, "url": "https://example.test/inner", "documentId": "D2",
	})
	ext.event(t, EventNavigation, map[string]any{"kind": "teleported", "target": 3, "frame": 0})
	ext.event(t, EventMessage, map[string]any{
		"target": 3, "frame": 0, "type": host.MessageReady,
		"detail": map[string]any{"documentId": "D1", "url": "https://example.test/", "readyState": "complete"},
	})
	ext.event(t, EventDownload, map[string]any{"kind": "created", "id": 9, "url": "https://example.test/a.zip", "state": "in_progress"})
	ext.event(t, EventFrameDetached, map[string]any{"target": 3, "frame": 1})
	ext.event(t, EventTargetRemoved, map[string]any{"target": 3})
	ext.event(t, EventTargetRemoved, map[string]any{"target": 3})
	ext.event(t, EventDownload, map[string]any{"kind": "changed", "id": 9, "state": "complete"})

	ev := nextEvent(t, events)
	assert.Equal(t, &host.NavigationEvent{
		Kind:        host.NavigationCommitted,
		Target:      3,
		Frame:       host.MainFrameID,
		ParentFrame: host.NoFrame,
		URL:         "https://example.test/",
		DocumentID:  "D1",
	}, ev)

	ev = nextEvent(t, events)
	nav, ok := ev.(*host.NavigationEvent)
	require.True(t, ok)
	assert.Equal(t, host.FrameID(1), nav.Frame)
	assert.Equal(t, host.MainFrameID, nav.ParentFrame)

	ev = nextEvent(t, events)
	msg, ok := ev.(*host.MessageEvent)
	require.True(t, ok)
	assert.Equal(t, host.MessageReady, msg.Type)
	var detail host.ReadyDetail
	require.NoError(t, json.Unmarshal(msg.Detail, &detail))
	assert.Equal(t, "D1", detail.DocumentID)

	assert.Equal(t, &host.DownloadEvent{
		Kind: host.DownloadCreated, ID: 9, URL: "https://example.test/a.zip", State: host.DownloadInProgress,
	}, nextEvent(t, events))
	assert.Equal(t, &host.FrameDetachedEvent{Target: 3, Frame: 1}, nextEvent(t, events))
	assert.Equal(t, &host.TargetRemovedEvent{Target: 3}, nextEvent(t, events))
	// the duplicate removal is dropped
	assert.Equal(t, &host.DownloadEvent{
		Kind: host.DownloadChanged, ID: 9, State: host.DownloadComplete,
	}, nextEvent(t, events))
	assert.Empty(t, r.Targets())
}

func TestRelayDisconnect(t *testing.T) {
	t.Parallel()

	t.Run("not_connected", func(t *testing.T) {
		t.Parallel()

		r, _, _ := newTestRelay(t, Options{})
		_, err := r.Inject(context.Background(), host.ScriptTarget{Target: 1, World: host.MainWorld},
			host.Call{Function: host.OpTitle})
		require.ErrorIs(t, err, ErrNotConnected)
		assert.False(t, r.Connected())
	})
	t.Run("pending", func(t *testing.T) {
		t.Parallel()

		r, srv, _ := newTestRelay(t, Options{})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		events := r.Subscribe(ctx)

		received := make(chan struct{})
		ext := dialExtension(t, srv, func(method string, _ gjson.Result) (any, string) {
			if method == MethodTargets {
				return targetsResult{Targets: []host.TargetID{}}, ""
			}
			close(received)
			return noReply, ""
		})
		waitConnected(t, r)
		ext.event(t, EventNavigation, map[string]any{"kind": "committed", "target": 7, "frame": 0, "documentId": "D"})
		_ = nextEvent(t, events)
		assert.Equal(t, []host.TargetID{7}, r.Targets())

		go func() {
			<-received
			_ = ext.ws.Close()
		}()
		_, err := r.Inject(ctx, host.ScriptTarget{Target: 7, World: host.MainWorld}, host.Call{Function: host.OpTitle})
		require.ErrorIs(t, err, ErrDisconnected)

		assert.Equal(t, &host.TargetRemovedEvent{Target: 7}, nextEvent(t, events))
		assert.Eventually(t, func() bool { return !r.Connected() }, time.Second, 10*time.Millisecond)
		assert.Empty(t, r.Targets())
	})
	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		r, srv, _ := newTestRelay(t, Options{RequestTimeout: 50 * time.Millisecond})
		dialExtension(t, srv, func(method string, _ gjson.Result) (any, string) {
			if method == MethodTargets {
				return targetsResult{}, ""
			}
			return noReply, ""
		})
		waitConnected(t, r)

		_, err := r.CaptureVisible(context.Background(), 1, host.CaptureOptions{Format: "png"})
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
	t.Run("replaced", func(t *testing.T) {
		t.Parallel()

		r, srv, _ := newTestRelay(t, Options{})
		first := dialExtension(t, srv, nil)
		waitConnected(t, r)
		old := r.current()

		dialExtension(t, srv, func(method string, _ gjson.Result) (any, string) {
			if method == MethodOpen {
				return targetParams{Target: 11}, ""
			}
			return targetsResult{}, ""
		})
		assert.Eventually(t, func() bool {
			c := r.current()
			return c != nil && c != old
		}, time.Second, 10*time.Millisecond)

		select {
		case <-first.done:
		case <-time.After(time.Second):
			require.FailNow(t, "replaced connection wasn't closed")
		}
		id, err := r.Open("https://example.test/")
		require.NoError(t, err)
		assert.Equal(t, host.TargetID(11), id)
		assert.True(t, r.Connected())
	})
}

func TestRelayHandler(t *testing.T) {
	t.Parallel()

	get := func(t *testing.T, url string) (int, string) {
		t.Helper()

		resp, err := http.Get(url) //nolint:gosec,noctx
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(b)
	}

	t.Run("ping", func(t *testing.T) {
		t.Parallel()

		_, srv, _ := newTestRelay(t, Options{})
		code, body := get(t, srv.URL+"/ping")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok", body)
	})
	t.Run("script", func(t *testing.T) {
		t.Parallel()

		_, srv, _ := newTestRelay(t, Options{})
		code, body := get(t, srv.URL+"/script/utility")
		assert.Equal(t, http.StatusOK, code)
		assert.True(t, strings.HasPrefix(body, `globalThis.__tabpilotWorld = "utility";`))

		code, _ = get(t, srv.URL+"/script/isolated")
		assert.Equal(t, http.StatusNotFound, code)
	})
	t.Run("targets", func(t *testing.T) {
		t.Parallel()

		r, srv, _ := newTestRelay(t, Options{})
		r.addTarget(4)
		r.addTarget(2)
		code, body := get(t, srv.URL+"/targets")
		assert.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, `{"connected": false, "targets": [2, 4]}`, body)
	})
	t.Run("metrics", func(t *testing.T) {
		t.Parallel()

		r, srv, _ := newTestRelay(t, Options{})
		dialExtension(t, srv, nil)
		waitConnected(t, r)
		_, _ = r.Open("https://example.test/")

		code, body := get(t, srv.URL+"/metrics")
		assert.Equal(t, http.StatusOK, code)
		assert.Contains(t, body, "tabpilot_relay_connections 1")
		assert.Contains(t, body, `tabpilot_relay_requests_total{method="open",outcome="ok"} 1`)
	})
	t.Run("token", func(t *testing.T) {
		t.Parallel()

		r, srv, _ := newTestRelay(t, Options{Token: "secret"})
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "token=wrong"), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		_ = resp.Body.Close()

		ws, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "token=secret"), nil)
		require.NoError(t, err)
		_ = resp.Body.Close()
		defer func() { _ = ws.Close() }()
		waitConnected(t, r)
	})
	t.Run("origin", func(t *testing.T) {
		t.Parallel()

		_, srv, _ := newTestRelay(t, Options{})
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), http.Header{"Origin": {"https://evil.test"}})
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		_ = resp.Body.Close()

		ws, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""),
			http.Header{"Origin": {"chrome-extension://abcdef"}})
		require.NoError(t, err)
		_ = resp.Body.Close()
		_ = ws.Close()
	})
}
