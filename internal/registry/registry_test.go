package registry_test

import (
	"sync"
	"testing"

	"github.com/qba-project/qba/internal/registry"
	"github.com/stretchr/testify/require"
)

func TestSetClearIsSet(t *testing.T) {
	r := registry.New(128)
	require.False(t, r.IsSet(5))
	require.True(t, r.Set(5))
	require.True(t, r.IsSet(5))
	require.False(t, r.Set(5)) // already set
	require.True(t, r.Clear(5))
	require.False(t, r.IsSet(5))
	require.False(t, r.Clear(5)) // already clear
}

func TestFindFreeClaims(t *testing.T) {
	r := registry.New(10)
	for i := 0; i < 10; i++ {
		idx := r.FindFree()
		require.Equal(t, i, idx)
	}
	require.Equal(t, registry.NotFound, r.FindFree())
}

func TestFindFreeRunSingleWord(t *testing.T) {
	r := registry.New(64)
	idx := r.FindFreeRun(8)
	require.Equal(t, 0, idx)
	require.True(t, r.IsSet(0))
	require.True(t, r.IsSet(7))
	require.False(t, r.IsSet(8))
}

func TestFindFreeRunExactFit(t *testing.T) {
	r := registry.New(16)
	for i := 0; i < 16; i++ {
		if i != 5 && i != 6 && i != 7 {
			r.Set(i)
		}
	}
	idx := r.FindFreeRun(3)
	require.Equal(t, 5, idx)
	require.Equal(t, registry.NotFound, r.FindFreeRun(1))
}

func TestFindFreeRunMultiWord(t *testing.T) {
	r := registry.New(128)
	// Leave bits 60..67 free (spans words 0 and 1).
	for i := 0; i < 128; i++ {
		if i < 60 || i >= 68 {
			r.Set(i)
		}
	}
	idx := r.FindFreeRun(8)
	require.Equal(t, 60, idx)
}

func TestFreeRecyclesAndRetreatsHint(t *testing.T) {
	r := registry.New(128)
	for i := 0; i < 128; i++ {
		r.Set(i)
	}
	require.Equal(t, registry.NotFound, r.FindFree())
	require.True(t, r.Free(10))
	require.Equal(t, 10, r.FindFree())
}

func TestIsEmpty(t *testing.T) {
	r := registry.New(64)
	require.True(t, r.IsEmpty())
	r.Set(3)
	require.False(t, r.IsEmpty())
	r.Clear(3)
}

func TestTailBitsNeverFree(t *testing.T) {
	r := registry.New(5)
	for i := 0; i < 5; i++ {
		require.NotEqual(t, registry.NotFound, r.FindFree())
	}
	require.Equal(t, registry.NotFound, r.FindFree())
}

func TestConcurrentFindFreeNoDuplicates(t *testing.T) {
	const n = 4096
	r := registry.New(n)
	var wg sync.WaitGroup
	results := make(chan int, n)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				idx := r.FindFree()
				if idx == registry.NotFound {
					return
				}
				results <- idx
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool)
	count := 0
	for idx := range results {
		require.False(t, seen[idx], "duplicate claim of bit %d", idx)
		seen[idx] = true
		count++
	}
	require.Equal(t, n, count)
}
