package common

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventEmitterSpecificEvent(t *testing.T) {
	t.Parallel()

	t.Run("add event handler", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		emitter := NewBaseEventEmitter(ctx)
		ch := make(chan Event)

		emitter.on(ctx, []string{EventPageFrameNavigated}, ch)
		emitter.sync(func() {
			require.Len(t, emitter.handlers, 1)
			require.Contains(t, emitter.handlers, EventPageFrameNavigated)
			require.Len(t, emitter.handlers[EventPageFrameNavigated], 1)
			require.Equal(t, ch, emitter.handlers[EventPageFrameNavigated][0].ch)
			require.Empty(t, emitter.handlersAll)
		})
	})

	t.Run("remove event handler", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		cancelCtx, cancelFn := context.WithCancel(ctx)
		emitter := NewBaseEventEmitter(ctx)
		ch := make(chan Event)

		emitter.on(cancelCtx, []string{EventPageFrameNavigated}, ch)
		cancelFn()
		emitter.emit(EventPageFrameNavigated, nil) // Event handlers are removed as part of event emission

		emitter.sync(func() {
			require.Contains(t, emitter.handlers, EventPageFrameNavigated)
			require.Len(t, emitter.handlers[EventPageFrameNavigated], 0)
		})
	})

	t.Run("emit event", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		emitter := NewBaseEventEmitter(ctx)
		ch := make(chan Event, 1)

		emitter.on(ctx, []string{EventPageFrameNavigated}, ch)
		emitter.emit(EventPageFrameNavigated, "hello world")
		msg := <-ch

		assert.Equal(t, EventPageFrameNavigated, msg.Type())
		assert.Equal(t, "hello world", msg.Data())
	})
}

func TestEventEmitterAllEvents(t *testing.T) {
	t.Parallel()

	t.Run("add catch-all event handler", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		emitter := NewBaseEventEmitter(ctx)
		ch := make(chan Event)

		emitter.onAll(ctx, ch)

		emitter.sync(func() {
			require.Len(t, emitter.handlersAll, 1)
			require.Equal(t, ch, emitter.handlersAll[0].ch)
			require.Empty(t, emitter.handlers)
		})
	})

	t.Run("emitter context done", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		emitter := NewBaseEventEmitter(ctx)
		ch := make(chan Event, 1)

		emitter.onAll(context.Background(), ch)
		cancel()
		require.Eventually(t, func() bool {
			emitter.emit(EventPageLoad, nil)
			var n int
			emitter.sync(func() { n = len(emitter.handlersAll) })
			return n == 0
		}, time.Second, 5*time.Millisecond)
	})
}

func TestBaseEventEmitter(t *testing.T) {
	t.Parallel()

	t.Run("order of emitted events kept", func(t *testing.T) {
		t.Parallel()

		const (
			eventName = "AtomicIntEvent"
			maxInt    = 100
		)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		emitter := NewBaseEventEmitter(ctx)
		ch := make(chan Event)
		emitter.on(ctx, []string{eventName}, ch)

		go func() {
			for i := 0; i < maxInt; i++ {
				emitter.emit(eventName, i)
			}
		}()

		for expected := 0; expected < maxInt; expected++ {
			select {
			case e := <-ch:
				require.Equal(t, expected, e.Data())
			case <-time.After(5 * time.Second):
				t.Fatalf("timed out waiting for event %d", expected)
			}
		}
	})

	t.Run("slow handler doesn't block emit", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		emitter := NewBaseEventEmitter(ctx)
		emitter.on(ctx, []string{EventPageLoad}, make(chan Event))

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 10; i++ {
				emitter.emit(EventPageLoad, i)
			}
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("emit blocked on a slow handler")
		}
	})
}
