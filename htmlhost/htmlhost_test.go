package htmlhost

import (
	"bytes"
	"context"
	"encoding/base64"
	"image/png"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/tabpilot/host"
)

const formPage = `<!DOCTYPE html>
<html><head><title>Sign in</title></head><body>
<h1>Sign in</h1>
<form action="/login">
<input id="user" name="user" data-testid="user">
<input id="pass" name="pass" type="password">
<input id="remember" name="remember" type="checkbox">
<button id="go">Log in</button>
</form>
<div hidden><button>Hidden</button></div>
<a href="/next">Next page</a>
<a href="/file.zip" download>Get file</a>
</body></html>`

func newTestHost(t *testing.T, opts Options, pages map[string]string) *Host {
	t.Helper()

	opts.Site = NewMapSite(pages)
	h := New(opts)
	t.Cleanup(h.Close)
	return h
}

func nextEvent(t *testing.T, ch <-chan host.Event) host.Event {
	t.Helper()

	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(time.Second):
		require.FailNow(t, "timed out waiting for an event")
	}
	return nil
}

func inject(t *testing.T, h *Host, tid host.TargetID, fid host.FrameID, op host.Op, args ...any) *host.Result {
	t.Helper()

	res, err := h.Inject(context.Background(),
		host.ScriptTarget{Target: tid, Frame: fid, World: host.UtilityWorld},
		host.Call{Function: op, Args: args})
	require.NoError(t, err)
	return res
}

func injectValue[T any](t *testing.T, h *Host, tid host.TargetID, fid host.FrameID, op host.Op, args ...any) T {
	t.Helper()

	var v T
	require.NoError(t, inject(t, h, tid, fid, op, args...).Decode(&v))
	return v
}

func sel(nameBody ...string) host.SelectorArg {
	var s host.SelectorArg
	for i := 0; i+1 < len(nameBody); i += 2 {
		s.Parts = append(s.Parts, host.SelectorPart{Name: nameBody[i], Body: nameBody[i+1]})
	}
	return s
}

func query(t *testing.T, h *Host, tid host.TargetID, selector host.SelectorArg) host.HandleRef {
	t.Helper()

	res := inject(t, h, tid, host.MainFrameID, host.OpQuerySelector, nil, selector, false)
	require.True(t, res.IsHandle(), "no element matches %+v", selector)
	return host.HandleRef{Handle: res.Handle}
}

func TestOpenEvents(t *testing.T) {
	t.Parallel()

	h := newTestHost(t, Options{}, map[string]string{
		"https://example.test/":      `<html><body><iframe src="/child"></iframe></body></html>`,
		"https://example.test/child": `<html><head><title>child</title></head><body></body></html>`,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := h.Subscribe(ctx)

	tid, err := h.Open("https://example.test/")
	require.NoError(t, err)
	assert.Equal(t, []host.TargetID{tid}, h.Targets())
	assert.Equal(t, []host.FrameID{host.MainFrameID, 1}, h.Frames(tid))

	type step struct {
		kind  host.NavigationKind
		frame host.FrameID
	}
	var got []step
	var ready []host.ReadyDetail
	for len(got) < 6 {
		switch ev := nextEvent(t, events).(type) {
		case *host.NavigationEvent:
			got = append(got, step{ev.Kind, ev.Frame})
			if ev.Kind == host.NavigationCommitted && ev.Frame == 1 {
				assert.Equal(t, host.MainFrameID, ev.ParentFrame)
				assert.Equal(t, "https://example.test/child", ev.URL)
			}
		case *host.MessageEvent:
			require.Equal(t, host.MessageReady, ev.Type)
			var d host.ReadyDetail
			require.NoError(t, (&host.Result{Value: ev.Detail}).Decode(&d))
			ready = append(ready, d)
		}
	}
	assert.Equal(t, []step{
		{host.NavigationCommitted, host.MainFrameID},
		{host.NavigationCommitted, 1},
		{host.NavigationDOMReady, 1},
		{host.NavigationCompleted, 1},
		{host.NavigationDOMReady, host.MainFrameID},
		{host.NavigationCompleted, host.MainFrameID},
	}, got)
	require.Len(t, ready, 2)
	assert.Equal(t, "doc-2", ready[0].DocumentID)
	assert.Equal(t, readyStateInteractive, ready[0].ReadyState)
	assert.Equal(t, "doc-1", ready[1].DocumentID)
	assert.Equal(t, "https://example.test/", ready[1].URL)
}

func TestLoadDelay(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	h := newTestHost(t, Options{Clock: mock, LoadDelay: 100 * time.Millisecond}, map[string]string{
		"https://example.test/": formPage,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := h.Subscribe(ctx)

	tid, err := h.Open("https://example.test/")
	require.NoError(t, err)

	ev, ok := nextEvent(t, events).(*host.NavigationEvent)
	require.True(t, ok)
	assert.Equal(t, host.NavigationCommitted, ev.Kind)
	assert.Equal(t, "Sign in", injectValue[string](t, h, tid, host.MainFrameID, host.OpTitle))

	mock.Add(100 * time.Millisecond)
	ev, ok = nextEvent(t, events).(*host.NavigationEvent)
	require.True(t, ok)
	assert.Equal(t, host.NavigationDOMReady, ev.Kind)
	_, ok = nextEvent(t, events).(*host.MessageEvent)
	assert.True(t, ok)
	ev, ok = nextEvent(t, events).(*host.NavigationEvent)
	require.True(t, ok)
	assert.Equal(t, host.NavigationCompleted, ev.Kind)
}

func TestQueryEngines(t *testing.T) {
	t.Parallel()

	h := newTestHost(t, Options{}, map[string]string{"https://example.test/": formPage})
	tid, err := h.Open("https://example.test/")
	require.NoError(t, err)

	tests := []struct {
		name string
		sel  host.SelectorArg
		want int
	}{
		{"css", sel("css", "button"), 2},
		{"css_inputs", sel("css", "form input"), 3},
		{"text", sel("text", "Log in"), 1},
		{"text_case_insensitive", sel("text", "next"), 1},
		{"text_exact", sel("text", `"Next"`), 0},
		{"xpath_predicate", sel("xpath", "//input[@type='checkbox']"), 1},
		{"xpath_child", sel("xpath", "//form/input"), 3},
		{"xpath_position", sel("xpath", "//form/input[2]"), 1},
		{"id", sel("id", "pass"), 1},
		{"testid", sel("internal:testid", `"user"`), 1},
		{"visible", sel("css", "button", "visible", "true"), 1},
		{"nth", sel("css", "a", "nth", "1"), 1},
		{"nth_negative", sel("css", "a", "nth", "-1"), 1},
		{"nth_out_of_range", sel("css", "a", "nth", "5"), 0},
		{"has_text", sel("css", "a", "internal:has-text", "file"), 1},
		{"has_not_text", sel("css", "a", "internal:has-not-text", "file"), 1},
		{"has", sel("css", "form", "internal:has", `{"parts":[{"name":"css","body":"#go"}]}`), 1},
		{"has_not", sel("css", "form", "internal:has-not", `{"parts":[{"name":"css","body":"#go"}]}`), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := injectValue[int](t, h, tid, host.MainFrameID, host.OpQueryCount, nil, tt.sel)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQueryCapture(t *testing.T) {
	t.Parallel()

	h := newTestHost(t, Options{}, map[string]string{"https://example.test/": formPage})
	tid, err := h.Open("https://example.test/")
	require.NoError(t, err)

	capture := 0
	s := sel("css", "form", "css", "#go")
	s.Capture = &capture
	form := query(t, h, tid, s)
	desc := injectValue[host.NodeDescription](t, h, tid, host.MainFrameID, host.OpDescribe, form)
	assert.Equal(t, "FORM", desc.TagName)
}

func TestQuerySelectorErrors(t *testing.T) {
	t.Parallel()

	h := newTestHost(t, Options{}, map[string]string{"https://example.test/": formPage})
	tid, err := h.Open("https://example.test/")
	require.NoError(t, err)

	t.Run("strict", func(t *testing.T) {
		t.Parallel()

		res := inject(t, h, tid, host.MainFrameID, host.OpQuerySelector, nil, sel("css", "input"), true)
		s, ok := res.StringValue()
		require.True(t, ok)
		assert.Equal(t, "error:strictmodeviolation:3", s)
	})
	t.Run("unsupported_engine", func(t *testing.T) {
		t.Parallel()

		res := inject(t, h, tid, host.MainFrameID, host.OpQuerySelector, nil, sel("role", "button"), false)
		s, ok := res.StringValue()
		require.True(t, ok)
		assert.Equal(t, "error:unsupportedengine:role", s)
	})
	t.Run("no_match", func(t *testing.T) {
		t.Parallel()

		res := inject(t, h, tid, host.MainFrameID, host.OpQuerySelector, nil, sel("css", "table"), true)
		assert.False(t, res.IsHandle())
	})
	t.Run("unknown_frame", func(t *testing.T) {
		t.Parallel()

		_, err := h.Inject(context.Background(),
			host.ScriptTarget{Target: tid, Frame: 42, World: host.MainWorld},
			host.Call{Function: host.OpPing})
		assert.ErrorIs(t, err, host.ErrNoSuchFrame)
	})
	t.Run("unknown_world", func(t *testing.T) {
		t.Parallel()

		_, err := h.Inject(context.Background(),
			host.ScriptTarget{Target: tid, Frame: host.MainFrameID, World: "isolated"},
			host.Call{Function: host.OpPing})
		assert.ErrorContains(t, err, "unknown world")
	})
}

func TestWorldsHaveSeparateHandles(t *testing.T) {
	t.Parallel()

	h := newTestHost(t, Options{}, map[string]string{"https://example.test/": formPage})
	tid, err := h.Open("https://example.test/")
	require.NoError(t, err)

	ref := query(t, h, tid, sel("css", "#go"))
	res, err := h.Inject(context.Background(),
		host.ScriptTarget{Target: tid, Frame: host.MainFrameID, World: host.MainWorld},
		host.Call{Function: host.OpDescribe, Args: []any{ref}})
	require.NoError(t, err)
	s, _ := res.StringValue()
	assert.Equal(t, "error:notconnected", s)

	assert.True(t, injectValue[bool](t, h, tid, host.MainFrameID, host.OpRelease, ref.Handle))
	s, _ = inject(t, h, tid, host.MainFrameID, host.OpDescribe, ref).StringValue()
	assert.Equal(t, "error:notconnected", s)
}

func TestFillAndSubmit(t *testing.T) {
	t.Parallel()

	h := newTestHost(t, Options{}, map[string]string{"https://example.test/form": formPage})
	tid, err := h.Open("https://example.test/form")
	require.NoError(t, err)

	user := query(t, h, tid, sel("css", "#user"))
	assert.Equal(t, "done", injectValue[string](t, h, tid, host.MainFrameID, host.OpFill, user, "bob"))
	assert.Equal(t, "bob", injectValue[string](t, h, tid, host.MainFrameID, host.OpInputValue, user))

	remember := query(t, h, tid, sel("css", "#remember"))
	assert.False(t, injectValue[bool](t, h, tid, host.MainFrameID, host.OpCheckElementState, remember, "checked"))
	inject(t, h, tid, host.MainFrameID, host.OpClick, remember, host.ClickArg{})
	assert.True(t, injectValue[bool](t, h, tid, host.MainFrameID, host.OpCheckElementState, remember, "checked"))

	s, _ := inject(t, h, tid, host.MainFrameID, host.OpFill, remember, "x").StringValue()
	assert.Equal(t, "error:notfillableelement", s)

	events := h.Events(tid, host.MainFrameID)
	assert.Contains(t, events, `input <input id="user" name="user">`)
	assert.Contains(t, events, `click <input id="remember" name="remember" type="checkbox">`)

	goButton := query(t, h, tid, sel("css", "#go"))
	inject(t, h, tid, host.MainFrameID, host.OpClick, goButton, host.ClickArg{})
	assert.Equal(t, "https://example.test/login?pass=&remember=on&user=bob",
		injectValue[string](t, h, tid, host.MainFrameID, host.OpURL))

	s, _ = inject(t, h, tid, host.MainFrameID, host.OpInputValue, user).StringValue()
	assert.Equal(t, "error:notconnected", s)
	assert.Equal(t, "404 Not Found", injectValue[string](t, h, tid, host.MainFrameID, host.OpTitle))
}

func TestFormControls(t *testing.T) {
	t.Parallel()

	h := newTestHost(t, Options{}, map[string]string{"https://example.test/": `<html><body>
<select id="color"><option value="r">Red</option><option value="g">Green</option></select>
<input id="file" type="file">
<input id="a" type="radio" name="r" checked><input id="b" type="radio" name="r">
<fieldset disabled><input id="off"></fieldset>
</body></html>`})
	tid, err := h.Open("https://example.test/")
	require.NoError(t, err)

	color := query(t, h, tid, sel("css", "#color"))
	assert.Equal(t, "r", injectValue[string](t, h, tid, host.MainFrameID, host.OpInputValue, color))
	assert.Equal(t, []string{"g"},
		injectValue[[]string](t, h, tid, host.MainFrameID, host.OpSelectOption, color, []string{"Green"}))
	assert.Equal(t, "g", injectValue[string](t, h, tid, host.MainFrameID, host.OpInputValue, color))

	file := query(t, h, tid, sel("css", "#file"))
	files := []host.FilePayload{{Name: "a.txt", MimeType: "text/plain", Buffer: base64.StdEncoding.EncodeToString([]byte("a"))}}
	assert.Equal(t, "done", injectValue[string](t, h, tid, host.MainFrameID, host.OpSetInputFiles, file, files))
	assert.Equal(t, `C:\fakepath\a.txt`, injectValue[string](t, h, tid, host.MainFrameID, host.OpInputValue, file))
	s, _ := inject(t, h, tid, host.MainFrameID, host.OpSetInputFiles, file, append(files, files[0])).StringValue()
	assert.Equal(t, "error:nonmultiple", s)

	b := query(t, h, tid, sel("css", "#b"))
	inject(t, h, tid, host.MainFrameID, host.OpSetChecked, b, true)
	a := query(t, h, tid, sel("css", "#a"))
	assert.False(t, injectValue[bool](t, h, tid, host.MainFrameID, host.OpCheckElementState, a, "checked"))
	assert.True(t, injectValue[bool](t, h, tid, host.MainFrameID, host.OpCheckElementState, b, "checked"))

	off := query(t, h, tid, sel("css", "#off"))
	assert.False(t, injectValue[bool](t, h, tid, host.MainFrameID, host.OpCheckElementState, off, "enabled"))
	assert.False(t, injectValue[bool](t, h, tid, host.MainFrameID, host.OpCheckElementState, off, "editable"))
}

func TestContentFrame(t *testing.T) {
	t.Parallel()

	h := newTestHost(t, Options{}, map[string]string{
		"https://example.test/":      `<html><body><p>outer</p><iframe id="inner" src="/child"></iframe></body></html>`,
		"https://example.test/child": `<html><head><title>child</title></head><body><p>inner</p></body></html>`,
	})
	tid, err := h.Open("https://example.test/")
	require.NoError(t, err)

	iframe := query(t, h, tid, sel("css", "#inner"))
	cf := injectValue[*host.ContentFrame](t, h, tid, host.MainFrameID, host.OpContentFrame, iframe)
	require.NotNil(t, cf)
	assert.Equal(t, host.FrameID(1), cf.FrameID)
	assert.Equal(t, "child", injectValue[string](t, h, tid, cf.FrameID, host.OpTitle))

	p := query(t, h, tid, sel("css", "p"))
	assert.Nil(t, injectValue[*host.ContentFrame](t, h, tid, host.MainFrameID, host.OpContentFrame, p))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := h.Subscribe(ctx)
	require.NoError(t, h.DetachFrame(tid, cf.FrameID))
	ev, ok := nextEvent(t, events).(*host.FrameDetachedEvent)
	require.True(t, ok)
	assert.Equal(t, cf.FrameID, ev.Frame)
	assert.Equal(t, []host.FrameID{host.MainFrameID}, h.Frames(tid))

	_, err = h.Inject(context.Background(),
		host.ScriptTarget{Target: tid, Frame: cf.FrameID, World: host.UtilityWorld},
		host.Call{Function: host.OpTitle})
	assert.ErrorIs(t, err, host.ErrNoSuchFrame)
	assert.Error(t, h.DetachFrame(tid, host.MainFrameID))
}

func TestHistory(t *testing.T) {
	t.Parallel()

	h := newTestHost(t, Options{}, map[string]string{
		"https://example.test/a": `<html><head><title>A</title></head><body><a id="b" href="/b">B</a></body></html>`,
		"https://example.test/b": `<html><head><title>B</title></head><body></body></html>`,
	})
	tid, err := h.Open("https://example.test/a")
	require.NoError(t, err)

	s, _ := inject(t, h, tid, host.MainFrameID, host.OpHistoryBack).StringValue()
	assert.Equal(t, "error:nohistory", s)

	link := query(t, h, tid, sel("css", "#b"))
	inject(t, h, tid, host.MainFrameID, host.OpClick, link, host.ClickArg{})
	assert.Equal(t, "B", injectValue[string](t, h, tid, host.MainFrameID, host.OpTitle))

	inject(t, h, tid, host.MainFrameID, host.OpHistoryBack)
	assert.Equal(t, "A", injectValue[string](t, h, tid, host.MainFrameID, host.OpTitle))
	inject(t, h, tid, host.MainFrameID, host.OpHistoryForward)
	assert.Equal(t, "https://example.test/b", injectValue[string](t, h, tid, host.MainFrameID, host.OpURL))

	s, _ = inject(t, h, tid, host.MainFrameID, host.OpHistoryForward).StringValue()
	assert.Equal(t, "error:nohistory", s)
}

func TestSameDocumentNavigation(t *testing.T) {
	t.Parallel()

	h := newTestHost(t, Options{}, map[string]string{"https://example.test/": formPage})
	tid, err := h.Open("https://example.test/")
	require.NoError(t, err)
	user := query(t, h, tid, sel("css", "#user"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := h.Subscribe(ctx)

	inject(t, h, tid, host.MainFrameID, host.OpNavigate, "#section")
	ev, ok := nextEvent(t, events).(*host.NavigationEvent)
	require.True(t, ok)
	assert.Equal(t, host.NavigationSameDocument, ev.Kind)
	assert.Equal(t, "https://example.test/#section", ev.URL)
	assert.Equal(t, "doc-1", ev.DocumentID)

	// The document, and so its handles, survive.
	assert.Equal(t, "user", injectValue[string](t, h, tid, host.MainFrameID, host.OpGetAttribute, user, "name"))
}

func TestDownload(t *testing.T) {
	t.Parallel()

	h := newTestHost(t, Options{}, map[string]string{"https://example.test/": formPage})
	tid, err := h.Open("https://example.test/")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := h.Subscribe(ctx)

	link := query(t, h, tid, sel("text", "Get file"))
	inject(t, h, tid, host.MainFrameID, host.OpClick, link, host.ClickArg{})

	created, ok := nextEvent(t, events).(*host.DownloadEvent)
	require.True(t, ok)
	assert.Equal(t, host.DownloadCreated, created.Kind)
	assert.Equal(t, "https://example.test/file.zip", created.URL)
	changed, ok := nextEvent(t, events).(*host.DownloadEvent)
	require.True(t, ok)
	assert.Equal(t, created.ID, changed.ID)
	assert.True(t, changed.State.Terminal())

	// A download doesn't navigate.
	assert.Equal(t, "https://example.test/", injectValue[string](t, h, tid, host.MainFrameID, host.OpURL))
}

func TestSnapshotRefs(t *testing.T) {
	t.Parallel()

	h := newTestHost(t, Options{}, map[string]string{"https://example.test/": formPage})
	tid, err := h.Open("https://example.test/")
	require.NoError(t, err)

	snap := injectValue[string](t, h, tid, host.MainFrameID, host.OpSnapshot, "")
	lines := strings.Split(snap, "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, `- h1 "Sign in" [ref=e1]`, lines[0])
	assert.Equal(t, `- button "Log in" [ref=e5]`, lines[4])
	assert.NotContains(t, snap, "Hidden")

	ref := query(t, h, tid, sel("aria-ref", "e5"))
	desc := injectValue[host.NodeDescription](t, h, tid, host.MainFrameID, host.OpDescribe, ref)
	assert.Equal(t, `<button id="go">`, desc.Preview)

	assert.Equal(t, 0, injectValue[int](t, h, tid, host.MainFrameID, host.OpQueryCount, nil, sel("aria-ref", "e99")))
}

func TestScrollAndMetrics(t *testing.T) {
	t.Parallel()

	h := newTestHost(t, Options{Viewport: Viewport{Width: 800, Height: 600}}, map[string]string{
		"https://example.test/": `<html><body data-size="800x2500"><button data-box="10,1500,100,40">far</button></body></html>`,
	})
	tid, err := h.Open("https://example.test/")
	require.NoError(t, err)

	m := injectValue[host.PageMetrics](t, h, tid, host.MainFrameID, host.OpPageMetrics)
	assert.Equal(t, 2500, m.ScrollHeight)
	assert.Equal(t, 600, m.ViewportHeight)

	p := injectValue[host.Point](t, h, tid, host.MainFrameID, host.OpScrollTo, 0, 5000)
	assert.Equal(t, host.Point{X: 0, Y: 1900}, p)

	far := query(t, h, tid, sel("css", "button"))
	inject(t, h, tid, host.MainFrameID, host.OpScrollIntoView, far)
	box := injectValue[*host.Rect](t, h, tid, host.MainFrameID, host.OpBoundingBox, far)
	require.NotNil(t, box)
	assert.Equal(t, host.Rect{X: 10, Y: 280, Width: 100, Height: 40}, *box)
}

func decodeCapture(t *testing.T, dataURL string) ([]byte, string) {
	t.Helper()

	mime, b64, ok := strings.Cut(strings.TrimPrefix(dataURL, "data:"), ";base64,")
	require.True(t, ok, "not a data url: %.40s", dataURL)
	b, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	return b, mime
}

func TestCaptureVisible(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	h := newTestHost(t, Options{
		Clock:           mock,
		CaptureInterval: 500 * time.Millisecond,
		Viewport:        Viewport{Width: 100, Height: 50, DevicePixelRatio: 2},
	}, map[string]string{
		"https://example.test/": `<html><body data-size="100x1000"></body></html>`,
	})
	tid, err := h.Open("https://example.test/")
	require.NoError(t, err)
	inject(t, h, tid, host.MainFrameID, host.OpScrollTo, 0, 400)

	data, err := h.CaptureVisible(context.Background(), tid, host.CaptureOptions{Format: "png"})
	require.NoError(t, err)
	b, mime := decodeCapture(t, data)
	assert.Equal(t, "image/png", mime)
	img, err := png.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 100, img.Bounds().Dy())
	assert.Equal(t, PixelColor(5, 405), img.At(10, 10))

	_, err = h.CaptureVisible(context.Background(), tid, host.CaptureOptions{Format: "png"})
	assert.ErrorIs(t, err, host.ErrCaptureRateLimited)

	mock.Add(500 * time.Millisecond)
	data, err = h.CaptureVisible(context.Background(), tid, host.CaptureOptions{Format: "jpeg", Quality: 90})
	require.NoError(t, err)
	_, mime = decodeCapture(t, data)
	assert.Equal(t, "image/jpeg", mime)

	_, err = h.CaptureVisible(context.Background(), tid+1, host.CaptureOptions{})
	assert.ErrorIs(t, err, host.ErrNoSuchTarget)
}

func TestCloseTarget(t *testing.T) {
	t.Parallel()

	h := newTestHost(t, Options{}, nil)
	tid, err := h.Open("about:blank")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := h.Subscribe(ctx)

	require.NoError(t, h.CloseTarget(tid))
	ev, ok := nextEvent(t, events).(*host.TargetRemovedEvent)
	require.True(t, ok)
	assert.Equal(t, tid, ev.Target)
	assert.Empty(t, h.Targets())
	assert.ErrorIs(t, h.CloseTarget(tid), host.ErrNoSuchTarget)
}

func TestFSSite(t *testing.T) {
	t.Parallel()

	site := NewFSSite(fstest.MapFS{
		"index.html":      {Data: []byte("<title>home</title>")},
		"docs/index.html": {Data: []byte("<title>docs</title>")},
	})
	h := New(Options{Site: site})
	t.Cleanup(h.Close)

	for path, title := range map[string]string{
		"https://example.test/":      "home",
		"https://example.test/docs/": "docs",
		"https://example.test/nope":  "404 Not Found",
	} {
		tid, err := h.Open(path)
		require.NoError(t, err)
		assert.Equal(t, title, injectValue[string](t, h, tid, host.MainFrameID, host.OpTitle), path)
	}
}
