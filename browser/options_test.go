package browser

import (
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/tabpilot/api"
	"github.com/liuxd6825/tabpilot/common"
)

func runValue(t *testing.T, rt *goja.Runtime, src string) goja.Value {
	t.Helper()

	v, err := rt.RunString("(" + src + ")")
	require.NoError(t, err)
	return v
}

func TestParseOptions(t *testing.T) {
	t.Parallel()

	t.Run("missing", func(t *testing.T) {
		t.Parallel()

		rt := goja.New()
		for _, v := range []goja.Value{nil, goja.Undefined(), goja.Null()} {
			o, err := parseClickOptions(rt, v)
			require.NoError(t, err)
			assert.Equal(t, &api.ClickOptions{}, o)
		}
	})
	t.Run("click", func(t *testing.T) {
		t.Parallel()

		rt := goja.New()
		o, err := parseClickOptions(rt, runValue(t, rt,
			`{timeout: 1500, strict: true, force: true, button: "right", clickCount: 2, unknown: 1}`))
		require.NoError(t, err)
		assert.Equal(t, &api.ClickOptions{
			ActionOptions: api.ActionOptions{
				BaseOptions: api.BaseOptions{Timeout: 1500 * time.Millisecond, Strict: true},
				Force:       true,
			},
			Button:     "right",
			ClickCount: 2,
		}, o)
	})
	t.Run("goto", func(t *testing.T) {
		t.Parallel()

		rt := goja.New()
		o, err := parseGotoOptions(rt, runValue(t, rt, `{waitUntil: "networkidle", timeout: 0.5}`))
		require.NoError(t, err)
		assert.Equal(t, &api.GotoOptions{WaitUntil: api.LoadStateNetworkIdle, Timeout: 500 * time.Microsecond}, o)

		o, err = parseGotoOptions(rt, runValue(t, rt, `{timeout: "2s"}`))
		require.NoError(t, err)
		assert.Equal(t, 2*time.Second, o.Timeout)

		_, err = parseGotoOptions(rt, runValue(t, rt, `{timeout: "soon"}`))
		require.ErrorIs(t, err, common.ErrInvalidOption)
		_, err = parseGotoOptions(rt, runValue(t, rt, `{waitUntil: "idle"}`))
		require.ErrorIs(t, err, common.ErrInvalidOption)
		_, err = parseGotoOptions(rt, runValue(t, rt, `{timeout: -1}`))
		require.ErrorIs(t, err, common.ErrInvalidOption)
	})
	t.Run("wait_for_selector", func(t *testing.T) {
		t.Parallel()

		rt := goja.New()
		o, err := parseWaitForSelectorOptions(rt, runValue(t, rt, `{state: "hidden", timeout: 10}`))
		require.NoError(t, err)
		assert.Equal(t, api.StateHidden, o.State)
		assert.Equal(t, 10*time.Millisecond, o.Timeout)

		_, err = parseWaitForSelectorOptions(rt, runValue(t, rt, `{state: "gone"}`))
		require.ErrorIs(t, err, common.ErrInvalidOption)
	})
	t.Run("screenshot", func(t *testing.T) {
		t.Parallel()

		rt := goja.New()
		o, err := parseScreenshotOptions(rt, runValue(t, rt,
			`{fullPage: true, clip: {x: 1, y: 2, width: 30, height: 40}, type: "jpeg", quality: 70, path: "a.jpg"}`))
		require.NoError(t, err)
		assert.Equal(t, &api.ScreenshotOptions{
			FullPage: true,
			Clip:     &api.Rect{X: 1, Y: 2, Width: 30, Height: 40},
			Format:   "jpeg",
			Quality:  70,
			Path:     "a.jpg",
		}, o)
	})
	t.Run("files", func(t *testing.T) {
		t.Parallel()

		rt := goja.New()
		files, err := parseFiles(rt, runValue(t, rt,
			`[{name: "a.txt", mimeType: "text/plain", buffer: "hi"}, {name: "b.bin", buffer: new Uint8Array([1, 2]).buffer}]`))
		require.NoError(t, err)
		assert.Equal(t, []api.FilePayload{
			{Name: "a.txt", MimeType: "text/plain", Buffer: []byte("hi")},
			{Name: "b.bin", Buffer: []byte{1, 2}},
		}, files)

		files, err = parseFiles(rt, runValue(t, rt, `{name: "c.txt", buffer: "x"}`))
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "c.txt", files[0].Name)
	})
	t.Run("strings", func(t *testing.T) {
		t.Parallel()

		rt := goja.New()
		vals, err := parseStrings(rt, runValue(t, rt, `"one"`))
		require.NoError(t, err)
		assert.Equal(t, []string{"one"}, vals)

		vals, err = parseStrings(rt, runValue(t, rt, `["one", "two"]`))
		require.NoError(t, err)
		assert.Equal(t, []string{"one", "two"}, vals)
	})
}
