package common

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/tabpilot/host"
	"github.com/liuxd6825/tabpilot/log"
)

func newDownloadTestPage(t *testing.T) (*Page, <-chan Event) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	p := &Page{BaseEventEmitter: NewBaseEventEmitter(ctx), ctx: ctx}
	ch := make(chan Event, 4)
	p.on(ctx, []string{EventPageDownload}, ch)
	return p, ch
}

func nextDownload(t *testing.T, ch <-chan Event) *Download {
	t.Helper()

	select {
	case ev := <-ch:
		d, ok := ev.Data().(*Download)
		require.True(t, ok)
		return d
	case <-time.After(time.Second):
		require.FailNow(t, "no download event")
	}
	return nil
}

func TestDownloadTracker(t *testing.T) {
	t.Parallel()

	t.Run("attributed_to_active_page", func(t *testing.T) {
		t.Parallel()

		tr := NewDownloadTracker(log.NewNullLogger())
		p, ch := newDownloadTestPage(t)
		tr.activate(p)

		tr.HandleEvent(&host.DownloadEvent{Kind: host.DownloadCreated, ID: 7, URL: "https://a.test/f.zip", State: host.DownloadInProgress})
		d := nextDownload(t, ch)
		assert.EqualValues(t, 7, d.ID())
		assert.Equal(t, "https://a.test/f.zip", d.URL())
		assert.Equal(t, host.DownloadInProgress, d.State())
		assert.Same(t, p, d.Page())

		tr.HandleEvent(&host.DownloadEvent{Kind: host.DownloadChanged, ID: 7, State: host.DownloadComplete})
		state, err := d.WaitForFinish(time.Second)
		require.NoError(t, err)
		assert.Equal(t, host.DownloadComplete, state)
		assert.Equal(t, "https://a.test/f.zip", d.URL())

		// Terminal downloads ignore further changes.
		tr.HandleEvent(&host.DownloadEvent{Kind: host.DownloadChanged, ID: 7, State: host.DownloadInterrupted})
		assert.Equal(t, host.DownloadComplete, d.State())
	})
	t.Run("wait_times_out", func(t *testing.T) {
		t.Parallel()

		tr := NewDownloadTracker(log.NewNullLogger())
		p, ch := newDownloadTestPage(t)
		tr.activate(p)

		tr.HandleEvent(&host.DownloadEvent{Kind: host.DownloadCreated, ID: 1, State: host.DownloadInProgress})
		d := nextDownload(t, ch)
		state, err := d.WaitForFinish(20 * time.Millisecond)
		require.ErrorIs(t, err, ErrTimedOut)
		assert.Equal(t, host.DownloadInProgress, state)
	})
	t.Run("unknown_changes_ignored", func(t *testing.T) {
		t.Parallel()

		tr := NewDownloadTracker(log.NewNullLogger())
		p, ch := newDownloadTestPage(t)
		tr.activate(p)

		tr.HandleEvent(&host.DownloadEvent{Kind: host.DownloadChanged, ID: 3, State: host.DownloadComplete})
		select {
		case <-ch:
			t.Fatal("change of an unknown download emitted")
		case <-time.After(20 * time.Millisecond):
		}
	})
	t.Run("forget", func(t *testing.T) {
		t.Parallel()

		tr := NewDownloadTracker(log.NewNullLogger())
		p1, _ := newDownloadTestPage(t)
		p2, _ := newDownloadTestPage(t)

		tr.activate(p1)
		tr.forget(p2)
		assert.Same(t, p1, tr.Active())
		tr.forget(p1)
		assert.Nil(t, tr.Active())
	})
}
