package common

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/tabpilot/api"
	"github.com/liuxd6825/tabpilot/host"
	"github.com/liuxd6825/tabpilot/htmlhost"
	"github.com/liuxd6825/tabpilot/log"
)

const testFormPage = `<!DOCTYPE html>
<html><head><title>Sign in</title></head><body>
<h1>Sign in</h1>
<form action="/login">
<input id="user" name="user">
<input id="pass" name="pass" type="password">
<input id="remember" name="remember" type="checkbox">
<button id="go">Log in</button>
</form>
<div hidden><button>Hidden</button></div>
<a href="/file.zip" download>Get file</a>
</body></html>`

func newTestBrowser(
	t *testing.T, pages map[string]string, hopts htmlhost.Options, setup func(*BrowserOptions),
) (*htmlhost.Host, *Browser) {
	t.Helper()

	hopts.Site = htmlhost.NewMapSite(pages)
	h := htmlhost.New(hopts)
	t.Cleanup(h.Close)

	opts := NewBrowserOptions()
	opts.Timeout = 5 * time.Second
	opts.CaptureMinInterval = time.Millisecond
	opts.ScrollSettleDelay = 0
	if setup != nil {
		setup(opts)
	}
	b, err := NewBrowser(context.Background(), h, opts, log.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	return h, b
}

func openTestPage(t *testing.T, h *htmlhost.Host, b *Browser, url string) *Page {
	t.Helper()

	tid, err := h.Open(url)
	require.NoError(t, err)
	p, err := b.NewPage(tid)
	require.NoError(t, err)
	return p
}

// newTestPage opens url in a fresh browser and waits for it to load.
func newTestPage(
	t *testing.T, pages map[string]string, hopts htmlhost.Options, setup func(*BrowserOptions), url string,
) (*htmlhost.Host, *Page) {
	t.Helper()

	h, b := newTestBrowser(t, pages, hopts, setup)
	p := openTestPage(t, h, b, url)
	require.NoError(t, p.WaitForLoadState(api.LoadStateLoad, nil))
	require.NoError(t, p.WaitForLoadState(api.LoadStateNetworkIdle, nil))
	return h, p
}

func clickTimeout(d time.Duration) *api.ClickOptions {
	return &api.ClickOptions{ActionOptions: api.ActionOptions{BaseOptions: api.BaseOptions{Timeout: d}}}
}

func TestPageNavigation(t *testing.T) {
	t.Parallel()

	pages := map[string]string{
		"https://example.test/a": `<html><head><title>A</title></head><body><p>a</p></body></html>`,
		"https://example.test/b": `<html><head><title>B</title></head><body><p>b</p></body></html>`,
	}

	t.Run("goto_replaces_document", func(t *testing.T) {
		t.Parallel()

		_, p := newTestPage(t, pages, htmlhost.Options{}, nil, "https://example.test/a")
		b := p.browser
		f := p.mainFrame()

		title, err := p.Title()
		require.NoError(t, err)
		require.Equal(t, "A", title)
		oldDoc := f.documentID()

		destroyed := make(chan Event, 4)
		f.on(p.ctx, []string{EventFrameContextDestroyed}, destroyed)

		type commitState struct {
			ready bool
			fired []LifecycleEvent
		}
		var (
			mu       sync.Mutex
			atCommit []commitState
		)
		unsubscribe := b.tracker.Subscribe(p.targetID, host.MainFrameID, func(ev *NavigationEvent) {
			if ev.Kind != NavigationKindCommit {
				return
			}
			f.mu.RLock()
			fired := f.lifecycle.events()
			f.mu.RUnlock()
			mu.Lock()
			atCommit = append(atCommit, commitState{b.barriers.Get(p.targetID, host.MainFrameID).IsReady(), fired})
			mu.Unlock()
		})
		defer unsubscribe()

		nav, err := p.Goto("https://example.test/b", nil)
		require.NoError(t, err)
		assert.Equal(t, "https://example.test/b", nav.URL)
		assert.NotEqual(t, oldDoc, nav.DocumentID)
		assert.False(t, nav.SameDocument)
		assert.Equal(t, "https://example.test/b", p.URL())

		mu.Lock()
		assert.Equal(t, []commitState{{ready: false}}, atCommit)
		mu.Unlock()
		assert.True(t, f.hasLifecycle(LifecycleEventDOMContentLoad))
		assert.True(t, f.hasLifecycle(LifecycleEventLoad))

		select {
		case ev := <-destroyed:
			data, ok := ev.Data().(*ContextDestroyedEvent)
			require.True(t, ok)
			assert.Equal(t, oldDoc, data.DocumentID)
			assert.Equal(t, []string{"utility"}, data.Worlds)
		case <-time.After(time.Second):
			require.FailNow(t, "no context destroyed event")
		}
		select {
		case ev := <-destroyed:
			t.Fatalf("unexpected second event: %v", ev.Data())
		case <-time.After(50 * time.Millisecond):
		}
		assert.Equal(t, 1.0, testutil.ToFloat64(b.metrics.ContextsDestroyed))

		title, err = p.Title()
		require.NoError(t, err)
		assert.Equal(t, "B", title)
	})
	t.Run("disallowed_scheme", func(t *testing.T) {
		t.Parallel()

		_, p := newTestPage(t, pages, htmlhost.Options{}, nil, "https://example.test/a")
		for _, u := range []string{"file:///etc/passwd", "javascript:alert(1)", "about:blank"} {
			_, err := p.Goto(u, nil)
			assert.ErrorIs(t, err, ErrDisallowedScheme, u)
		}
		assert.Equal(t, "https://example.test/a", p.URL())
	})
	t.Run("history", func(t *testing.T) {
		t.Parallel()

		_, p := newTestPage(t, pages, htmlhost.Options{}, nil, "https://example.test/a")

		nav, err := p.GoBack(nil)
		require.NoError(t, err)
		assert.Nil(t, nav)

		_, err = p.Goto("https://example.test/b", nil)
		require.NoError(t, err)

		nav, err = p.GoBack(nil)
		require.NoError(t, err)
		require.NotNil(t, nav)
		assert.Equal(t, "https://example.test/a", nav.URL)

		nav, err = p.GoForward(nil)
		require.NoError(t, err)
		require.NotNil(t, nav)
		assert.Equal(t, "https://example.test/b", nav.URL)

		nav, err = p.GoForward(nil)
		require.NoError(t, err)
		assert.Nil(t, nav)
	})
	t.Run("reload", func(t *testing.T) {
		t.Parallel()

		_, p := newTestPage(t, pages, htmlhost.Options{}, nil, "https://example.test/a")
		before := p.mainFrame().documentID()

		nav, err := p.Reload(nil)
		require.NoError(t, err)
		assert.Equal(t, "https://example.test/a", nav.URL)
		assert.NotEqual(t, before, nav.DocumentID)
	})
	t.Run("same_document", func(t *testing.T) {
		t.Parallel()

		h, p := newTestPage(t, pages, htmlhost.Options{}, nil, "https://example.test/a")
		f := p.mainFrame()
		doc := f.documentID()

		nav, err := f.navigate(newTestProgress(t, time.Second), "", "", func() error {
			return h.Navigate(p.targetID, host.MainFrameID, "https://example.test/a#top")
		})
		require.NoError(t, err)
		assert.True(t, nav.SameDocument)
		assert.Equal(t, "https://example.test/a#top", nav.URL)
		assert.Equal(t, doc, f.documentID())
		assert.Equal(t, "https://example.test/a#top", p.URL())

		// The page script survives a same-document navigation.
		title, err := p.Title()
		require.NoError(t, err)
		assert.Equal(t, "A", title)
	})
	t.Run("network_idle", func(t *testing.T) {
		t.Parallel()

		_, p := newTestPage(t, pages, htmlhost.Options{}, nil, "https://example.test/a")
		_, err := p.Goto("https://example.test/b", &api.GotoOptions{WaitUntil: api.LoadStateNetworkIdle})
		require.NoError(t, err)
		assert.True(t, p.browser.barriers.Get(p.targetID, host.MainFrameID).IsReady())
	})
	t.Run("commit_before_load", func(t *testing.T) {
		t.Parallel()

		mock := clock.NewMock()
		h, b := newTestBrowser(t, pages, htmlhost.Options{LoadDelay: time.Second, Clock: mock}, nil)
		p := openTestPage(t, h, b, "https://example.test/a")
		mock.Add(time.Second)
		require.NoError(t, p.WaitForLoadState(api.LoadStateLoad, nil))
		require.NoError(t, p.WaitForLoadState(api.LoadStateNetworkIdle, nil))

		nav, err := p.Goto("https://example.test/b", &api.GotoOptions{WaitUntil: api.LoadStateCommit})
		require.NoError(t, err)
		assert.Equal(t, "https://example.test/b", nav.URL)
		f := p.mainFrame()
		assert.False(t, f.hasLifecycle(LifecycleEventLoad))
		assert.False(t, b.barriers.Get(p.targetID, host.MainFrameID).IsReady())

		err = p.WaitForLoadState(api.LoadStateLoad, &api.WaitForLoadStateOptions{Timeout: 20 * time.Millisecond})
		require.ErrorIs(t, err, ErrTimedOut)

		mock.Add(time.Second)
		require.NoError(t, p.WaitForLoadState(api.LoadStateLoad, nil))
		title, err := p.Title()
		require.NoError(t, err)
		assert.Equal(t, "B", title)
	})
}

func TestPageActions(t *testing.T) {
	t.Parallel()

	pages := map[string]string{"https://example.test/": testFormPage}

	t.Run("fill_and_submit", func(t *testing.T) {
		t.Parallel()

		_, p := newTestPage(t, pages, htmlhost.Options{}, nil, "https://example.test/")
		require.NoError(t, p.Fill("#user", "bob", nil))
		v, err := p.InputValue("#user", nil)
		require.NoError(t, err)
		assert.Equal(t, "bob", v)

		require.NoError(t, p.Check("#remember", nil))
		checked, err := p.IsChecked("#remember", nil)
		require.NoError(t, err)
		assert.True(t, checked)

		require.NoError(t, p.Click("#go", nil))
		const want = "https://example.test/login?pass=&remember=on&user=bob"
		require.Eventually(t, func() bool { return p.URL() == want }, time.Second, 5*time.Millisecond)

		title, err := p.Title()
		require.NoError(t, err)
		assert.Equal(t, "404 Not Found", title)
	})
	t.Run("locator_strictness", func(t *testing.T) {
		t.Parallel()

		_, p := newTestPage(t, pages, htmlhost.Options{}, nil, "https://example.test/")
		inputs := p.Locator("input")

		n, err := inputs.Count()
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		err = inputs.Click(clickTimeout(time.Second))
		require.ErrorIs(t, err, ErrStrictModeViolation)
		assert.ErrorContains(t, err, "resolved to 3 elements")

		require.NoError(t, inputs.First().Fill("alice", nil))
		v, err := p.InputValue("#user", nil)
		require.NoError(t, err)
		assert.Equal(t, "alice", v)
	})
	t.Run("missing_element_times_out", func(t *testing.T) {
		t.Parallel()

		const budget = 150 * time.Millisecond
		_, p := newTestPage(t, pages, htmlhost.Options{}, nil, "https://example.test/")
		start := time.Now()
		err := p.Locator("#missing").Click(clickTimeout(budget))
		elapsed := time.Since(start)
		require.ErrorIs(t, err, ErrTimedOut)
		assert.Greater(t, testutil.ToFloat64(p.browser.metrics.LocatorRetries), 0.0)
		assert.GreaterOrEqual(t, elapsed, budget)
		assert.Less(t, elapsed, budget+locatorRetrySchedule[len(locatorRetrySchedule)-1])
	})
	t.Run("barrier_sweep_keeps_live_frames", func(t *testing.T) {
		t.Parallel()

		mock := clock.NewMock()
		_, p := newTestPage(t, pages, htmlhost.Options{}, func(o *BrowserOptions) {
			o.Clock = mock
			o.BarrierStaleAfter = time.Minute
		}, "https://example.test/")
		mock.Add(time.Minute + time.Second)
		assert.Equal(t, 0, p.browser.barriers.Sweep())

		text, ok, err := p.TextContent("h1", &api.BaseOptions{Timeout: time.Second})
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "Sign in", text)
	})
	t.Run("hidden_element_times_out", func(t *testing.T) {
		t.Parallel()

		_, p := newTestPage(t, pages, htmlhost.Options{}, nil, "https://example.test/")
		err := p.Click("div[hidden] button", clickTimeout(100*time.Millisecond))
		require.ErrorIs(t, err, ErrTimedOut)
		assert.ErrorContains(t, err, "element is not visible")

		visible, err := p.IsVisible("div[hidden] button", nil)
		require.NoError(t, err)
		assert.False(t, visible)
	})
	t.Run("downloads", func(t *testing.T) {
		t.Parallel()

		_, p := newTestPage(t, pages, htmlhost.Options{}, nil, "https://example.test/")
		got := make(chan *Download, 1)
		off := p.On(EventPageDownload, func(data any) {
			if d, ok := data.(*Download); ok {
				got <- d
			}
		})
		defer off()

		require.NoError(t, p.Click("a[download]", nil))

		select {
		case d := <-got:
			assert.Equal(t, "https://example.test/file.zip", d.URL())
			assert.Same(t, p, d.Page())
			state, err := d.WaitForFinish(time.Second)
			require.NoError(t, err)
			assert.Equal(t, host.DownloadComplete, state)
		case <-time.After(time.Second):
			require.FailNow(t, "no download event")
		}
		assert.Equal(t, "https://example.test/", p.URL())
	})
}

func TestPageFrames(t *testing.T) {
	t.Parallel()

	pages := map[string]string{
		"https://example.test/":     `<html><body><h1>Top</h1><iframe id="outer" src="/mid"></iframe></body></html>`,
		"https://example.test/mid":  `<html><body><iframe src="/leaf"></iframe></body></html>`,
		"https://example.test/leaf": `<html><body><p>Deep</p></body></html>`,
	}
	_, p := newTestPage(t, pages, htmlhost.Options{}, nil, "https://example.test/")

	require.Len(t, p.Frames(), 3)

	t.Run("selector_crosses_frames", func(t *testing.T) {
		t.Parallel()

		text, ok, err := p.TextContent(
			"#outer >> internal:control=enter-frame >> iframe >> internal:control=enter-frame >> p", nil)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "Deep", text)
	})
	t.Run("frame_locator", func(t *testing.T) {
		t.Parallel()

		text, err := NewFrameLocator(p.mainFrame(), "#outer", p.logger).
			FrameLocator("iframe").
			Locator("p").
			InnerText(nil)
		require.NoError(t, err)
		assert.Equal(t, "Deep", text)
	})
	t.Run("not_an_iframe", func(t *testing.T) {
		t.Parallel()

		_, _, err := p.TextContent("h1 >> internal:control=enter-frame >> p", nil)
		require.ErrorIs(t, err, ErrNotIframe)
		assert.ErrorContains(t, err, `selector "css=h1" did not resolve to an iframe`)
	})
}

func TestPageSnapshot(t *testing.T) {
	t.Parallel()

	pages := map[string]string{
		"https://example.test/":      `<html><body><h1>Main</h1><iframe src="/child"></iframe></body></html>`,
		"https://example.test/child": `<html><body><button>Inner</button></body></html>`,
	}
	_, p := newTestPage(t, pages, htmlhost.Options{}, nil, "https://example.test/")
	require.Eventually(t, func() bool { return len(p.Frames()) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.browser.barriers.WaitForReady(newTestProgress(t, time.Second), p.targetID, 1))

	snap, err := p.Snapshot(nil)
	require.NoError(t, err)
	assert.Contains(t, snap, `- h1 "Main" [ref=e1]`)
	assert.Contains(t, snap, "- iframe [f1] \"https://example.test/child\":\n")
	assert.Contains(t, snap, `  - button "Inner" [ref=f1e1]`)

	text, err := p.InnerText("aria-ref=f1e1", nil)
	require.NoError(t, err)
	assert.Equal(t, "Inner", text)

	text, err = p.InnerText("aria-ref=e1", nil)
	require.NoError(t, err)
	assert.Equal(t, "Main", text)

	_, err = p.InnerText("aria-ref=f5e1", nil)
	assert.ErrorIs(t, err, ErrStaleSnapshotRef)
}

func decodePNG(t *testing.T, b []byte) image.Image {
	t.Helper()

	img, format, err := image.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	require.Equal(t, "png", format)
	return img
}

func pageMetrics(t *testing.T, p *Page) host.PageMetrics {
	t.Helper()

	prog := newTestProgress(t, time.Second)
	ec, err := p.mainFrame().executionContext(prog, host.UtilityWorld)
	require.NoError(t, err)
	var m host.PageMetrics
	require.NoError(t, ec.EvalInto(prog, &m, host.OpPageMetrics))
	return m
}

func TestPageScreenshot(t *testing.T) {
	t.Parallel()

	pages := map[string]string{
		"https://example.test/": `<html><body data-size="100x120"><p>tall</p></body></html>`,
	}
	viewport := htmlhost.Viewport{Width: 100, Height: 50, DevicePixelRatio: 2}

	t.Run("full_page", func(t *testing.T) {
		t.Parallel()

		_, p := newTestPage(t, pages, htmlhost.Options{Viewport: viewport}, nil, "https://example.test/")

		prog := newTestProgress(t, time.Second)
		ec, err := p.mainFrame().executionContext(prog, host.UtilityWorld)
		require.NoError(t, err)
		_, err = ec.Eval(prog, host.OpScrollTo, 0, 30)
		require.NoError(t, err)

		b, err := p.Screenshot(&api.ScreenshotOptions{FullPage: true})
		require.NoError(t, err)
		img := decodePNG(t, b)
		require.Equal(t, image.Pt(200, 240), img.Bounds().Size())
		for y := 0; y < 240; y += 7 {
			for x := 0; x < 200; x += 9 {
				want := htmlhost.PixelColor(float64(x)/2, float64(y)/2)
				require.Equal(t, want, color.RGBAModel.Convert(img.At(x, y)), "pixel %d,%d", x, y)
			}
		}

		m := pageMetrics(t, p)
		assert.Equal(t, 0.0, m.ScrollX)
		assert.Equal(t, 30.0, m.ScrollY)
	})
	t.Run("clip", func(t *testing.T) {
		t.Parallel()

		_, p := newTestPage(t, pages, htmlhost.Options{Viewport: viewport}, nil, "https://example.test/")
		b, err := p.Screenshot(&api.ScreenshotOptions{Clip: &api.Rect{X: 10, Y: 10, Width: 20, Height: 20}})
		require.NoError(t, err)
		img := decodePNG(t, b)
		require.Equal(t, image.Pt(40, 40), img.Bounds().Size())
		assert.Equal(t, htmlhost.PixelColor(10, 10), color.RGBAModel.Convert(img.At(0, 0)))
		assert.Equal(t, htmlhost.PixelColor(29.5, 29.5), color.RGBAModel.Convert(img.At(39, 39)))
	})
	t.Run("jpeg", func(t *testing.T) {
		t.Parallel()

		_, p := newTestPage(t, pages, htmlhost.Options{Viewport: viewport}, nil, "https://example.test/")
		b, err := p.Screenshot(&api.ScreenshotOptions{Format: "jpeg", Quality: 80})
		require.NoError(t, err)
		_, format, err := image.Decode(bytes.NewReader(b))
		require.NoError(t, err)
		assert.Equal(t, "jpeg", format)
	})
	t.Run("host_rate_limit", func(t *testing.T) {
		t.Parallel()

		_, p := newTestPage(t, pages,
			htmlhost.Options{Viewport: viewport, CaptureInterval: 30 * time.Millisecond},
			func(opts *BrowserOptions) {
				opts.CaptureMaxInterval = 100 * time.Millisecond
				opts.CaptureMaxRetries = 8
			},
			"https://example.test/")

		b, err := p.Screenshot(&api.ScreenshotOptions{FullPage: true})
		require.NoError(t, err)
		_, err = png.DecodeConfig(bytes.NewReader(b))
		require.NoError(t, err)
		assert.Greater(t, testutil.ToFloat64(p.browser.Metrics().CaptureRateLimited), 0.0)
	})
}

func TestPageClose(t *testing.T) {
	t.Parallel()

	pages := map[string]string{"https://example.test/": testFormPage}

	t.Run("target_removed", func(t *testing.T) {
		t.Parallel()

		h, p := newTestPage(t, pages, htmlhost.Options{}, nil, "https://example.test/")
		b := p.browser
		require.Same(t, p, b.Page(p.targetID))

		require.NoError(t, h.CloseTarget(p.targetID))
		require.Eventually(t, p.IsClosed, time.Second, 5*time.Millisecond)
		assert.Nil(t, b.Page(p.targetID))
		assert.Empty(t, b.Pages())

		_, err := p.Title()
		assert.Error(t, err)
	})
	t.Run("browser_close", func(t *testing.T) {
		t.Parallel()

		_, p := newTestPage(t, pages, htmlhost.Options{}, nil, "https://example.test/")
		require.NoError(t, p.browser.Close())
		assert.True(t, p.IsClosed())
		require.NoError(t, p.browser.Close())
	})
}
