package ctxmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotIsIndependentCopy(t *testing.T) {
	m := New(map[string]any{"a": 1})
	snap := m.Snapshot()
	snap["a"] = 2
	snap["b"] = 3

	require.Equal(t, 1, m.Snapshot()["a"])
	_, ok := m.Snapshot()["b"]
	assert.False(t, ok)
}

func TestMergeOverwritesExistingKeys(t *testing.T) {
	m := New(map[string]any{"a": 1, "b": 2})
	m.Merge(map[string]any{"b": 20, "c": 3})

	snap := m.Snapshot()
	assert.Equal(t, 1, snap["a"])
	assert.Equal(t, 20, snap["b"])
	assert.Equal(t, 3, snap["c"])
}

func TestConcurrentSnapshotAndMergeDoNotRace(t *testing.T) {
	m := New(nil)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			m.Merge(map[string]any{"k": i})
		}(i)
		go func() {
			defer wg.Done()
			_ = m.Snapshot()
		}()
	}

	wg.Wait()
}
