package host

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testNode struct {
	name     string
	detached bool
}

func newTestRegistry() *Registry[testNode] {
	return NewRegistry("h", func(n *testNode) bool { return !n.detached })
}

func TestRegistryHandleFor(t *testing.T) {
	t.Parallel()

	t.Run("same_node_same_handle", func(t *testing.T) {
		t.Parallel()

		r := newTestRegistry()
		n := &testNode{name: "a"}
		h := r.HandleFor(n)
		require.NotEmpty(t, h)
		assert.Equal(t, h, r.HandleFor(n))
		assert.Equal(t, 1, r.Len())
	})
	t.Run("distinct_nodes_distinct_handles", func(t *testing.T) {
		t.Parallel()

		r := newTestRegistry()
		nodes := make([]*testNode, 100)
		seen := make(map[string]struct{})
		for i := range nodes {
			nodes[i] = &testNode{name: "n"}
			h := r.HandleFor(nodes[i])
			_, dup := seen[h]
			require.False(t, dup, "handle %q allocated twice", h)
			seen[h] = struct{}{}
		}
		for _, n := range nodes {
			got, ok := r.NodeFor(r.HandleFor(n))
			require.True(t, ok)
			require.Same(t, n, got)
		}
	})
	t.Run("nil_node", func(t *testing.T) {
		t.Parallel()

		r := newTestRegistry()
		assert.Empty(t, r.HandleFor(nil))
		assert.Zero(t, r.Len())
	})
	t.Run("concurrent", func(t *testing.T) {
		t.Parallel()

		r := newTestRegistry()
		n := &testNode{name: "shared"}
		var (
			wg  sync.WaitGroup
			mu  sync.Mutex
			got = make(map[string]struct{})
		)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				h := r.HandleFor(n)
				mu.Lock()
				got[h] = struct{}{}
				mu.Unlock()
			}()
		}
		wg.Wait()
		assert.Len(t, got, 1)
	})
}

func TestRegistryNodeFor(t *testing.T) {
	t.Parallel()

	t.Run("unknown", func(t *testing.T) {
		t.Parallel()

		n, ok := newTestRegistry().NodeFor("h42")
		assert.False(t, ok)
		assert.Nil(t, n)
	})
	t.Run("detached", func(t *testing.T) {
		t.Parallel()

		r := newTestRegistry()
		n := &testNode{name: "a"}
		h := r.HandleFor(n)
		n.detached = true
		_, ok := r.NodeFor(h)
		assert.False(t, ok)
		assert.Zero(t, r.Len())
	})
	t.Run("released_handles_are_not_reused", func(t *testing.T) {
		t.Parallel()

		r := newTestRegistry()
		n := &testNode{name: "a"}
		h1 := r.HandleFor(n)
		require.True(t, r.Release(h1))
		require.False(t, r.Release(h1))
		h2 := r.HandleFor(n)
		assert.NotEqual(t, h1, h2)
		_, ok := r.NodeFor(h1)
		assert.False(t, ok)
	})
	t.Run("reset_keeps_counter", func(t *testing.T) {
		t.Parallel()

		r := newTestRegistry()
		n := &testNode{name: "a"}
		h1 := r.HandleFor(n)
		r.Reset()
		assert.Zero(t, r.Len())
		assert.NotEqual(t, h1, r.HandleFor(n))
	})
}

func TestRegistryDoesNotKeepNodesAlive(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	h := func() string {
		return r.HandleFor(&testNode{name: "garbage"})
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		_, ok := r.NodeFor(h)
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRegistrySweep(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	keep := &testNode{name: "keep"}
	drop := &testNode{name: "drop"}
	r.HandleFor(keep)
	r.HandleFor(drop)
	drop.detached = true

	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 1, r.Len())
	runtime.KeepAlive(keep)
	runtime.KeepAlive(drop)
}
