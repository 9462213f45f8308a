package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/tabpilot/common"
	"github.com/liuxd6825/tabpilot/errext"
	"github.com/liuxd6825/tabpilot/errext/exitcodes"
	"github.com/liuxd6825/tabpilot/htmlhost"
	"github.com/liuxd6825/tabpilot/log"
)

const testPage = `<!DOCTYPE html>
<html><head><title>Shop</title></head><body>
<h1 data-kind="heading">Items</h1>
<ul><li>One</li><li>Two</li></ul>
<input id="name">
<input id="agree" type="checkbox">
<iframe id="frame" src="/inner"></iframe>
</body></html>`

func newTestRunner(t *testing.T, ctx context.Context) *Runner {
	t.Helper()

	h := htmlhost.New(htmlhost.Options{
		Site: htmlhost.NewMapSite(map[string]string{
			"https://example.test/":      testPage,
			"https://example.test/inner": `<html><body><p>Inner</p></body></html>`,
		}),
	})
	t.Cleanup(h.Close)

	opts := common.NewBrowserOptions()
	opts.Timeout = 2 * time.Second
	opts.ScrollSettleDelay = 0
	b, err := common.NewBrowser(context.Background(), h, opts, log.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	r, err := NewRunner(ctx, b, h, log.NewNullLogger())
	require.NoError(t, err)
	return r
}

func TestRunnerScripts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, script string
		want         any
	}{
		{
			name: "page",
			script: `
				const p = browser.newPage("https://example.test/");
				[p.title(), p.url(), p.$$("li").length, p.$("#missing") === null].join("|");`,
			want: "Shop|https://example.test/|2|true",
		},
		{
			name: "locator",
			script: `
				const p = browser.newPage("https://example.test/");
				const name = p.locator("#name");
				name.fill("bob", { timeout: 1000 });
				p.check("#agree");
				[name.inputValue(), p.isChecked("#agree"), p.locator("li").count()].join("|");`,
			want: "bob|true|2",
		},
		{
			name: "optional_values",
			script: `
				const p = browser.newPage("https://example.test/");
				[p.getAttribute("h1", "data-kind"), p.getAttribute("h1", "data-missing") === null].join("|");`,
			want: "heading|true",
		},
		{
			name: "frames",
			script: `
				const p = browser.newPage("https://example.test/");
				p.waitForLoadState("networkidle");
				const inner = p.locator("body").frameLocator("#frame").locator("p");
				[p.frames().length, inner.innerText(), p.innerText("#frame >> internal:control=enter-frame >> p")].join("|");`,
			want: "2|Inner|Inner",
		},
		{
			name: "element_handle",
			script: `
				const p = browser.newPage("https://example.test/");
				p.waitForLoadState("networkidle");
				const h = p.$("h1");
				const f = p.$("#frame").contentFrame();
				[h.innerText(), h.ownerFrame().url(), f.$("p").textContent()].join("|");`,
			want: "Items|https://example.test/|Inner",
		},
		{
			name: "pages",
			script: `
				const p = browser.newPage("https://example.test/");
				browser.closePage(p.targetID());
				browser.pages().length;`,
			want: int64(0),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := newTestRunner(t, context.Background())
			v, err := r.Run(tt.name+".js", tt.script)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Export())
		})
	}
}

func TestRunnerErrors(t *testing.T) {
	t.Parallel()

	t.Run("exception", func(t *testing.T) {
		t.Parallel()

		r := newTestRunner(t, context.Background())
		_, err := r.Run("throw.js", `throw new Error("boom")`)
		require.Error(t, err)
		assert.Equal(t, exitcodes.ScriptException, errext.ExitCodeOf(err))

		var ex errext.Exception
		require.ErrorAs(t, err, &ex)
		assert.Contains(t, ex.StackTrace(), "throw.js")
	})
	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		r := newTestRunner(t, context.Background())
		_, err := r.Run("timeout.js", `
			const p = browser.newPage("https://example.test/");
			p.click("#missing", { timeout: 50 });`)
		require.ErrorIs(t, err, common.ErrTimedOut)
		assert.Equal(t, exitcodes.GenericTimeout, errext.ExitCodeOf(err))
	})
	t.Run("disallowed_scheme", func(t *testing.T) {
		t.Parallel()

		r := newTestRunner(t, context.Background())
		_, err := r.Run("scheme.js", `
			const p = browser.newPage("https://example.test/");
			p.goto("javascript:alert(1)");`)
		require.ErrorIs(t, err, common.ErrDisallowedScheme)
		assert.Equal(t, exitcodes.NavigationFailed, errext.ExitCodeOf(err))
		assert.NotEmpty(t, errext.HintOf(err))
	})
	t.Run("invalid_option", func(t *testing.T) {
		t.Parallel()

		r := newTestRunner(t, context.Background())
		_, err := r.Run("option.js", `
			const p = browser.newPage("https://example.test/");
			p.goto("https://example.test/", { waitUntil: "never" });`)
		require.ErrorIs(t, err, common.ErrInvalidOption)
	})
	t.Run("interrupted", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		r := newTestRunner(t, ctx)
		time.AfterFunc(20*time.Millisecond, cancel)
		_, err := r.Run("loop.js", `for (;;) {}`)
		require.Error(t, err)
		assert.Equal(t, exitcodes.ExternalAbort, errext.ExitCodeOf(err))
	})
}
