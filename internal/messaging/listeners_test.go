package messaging

import (
	"sync"
	"testing"

	"github.com/danmuck/framelink/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenerSetRemovalDuringDispatchKeepsRound(t *testing.T) {
	testlog.Start(t)

	var set ListenerSet[func()]
	var calls []string
	var idA, idB ListenerID
	idA = set.Add(func() {
		calls = append(calls, "a")
		set.Remove(idA)
		set.Remove(idB)
	})
	idB = set.Add(func() { calls = append(calls, "b") })
	set.Add(func() { calls = append(calls, "c") })

	set.Each(func(fn func()) { fn() })
	assert.Equal(t, []string{"a", "b", "c"}, calls)

	calls = nil
	set.Each(func(fn func()) { fn() })
	assert.Equal(t, []string{"c"}, calls)
	assert.Equal(t, 1, set.Len())
}

func TestListenerSetAddDuringDispatchIsNotInvokedThisRound(t *testing.T) {
	testlog.Start(t)

	var set ListenerSet[func()]
	var count int
	set.Add(func() {
		count++
		set.Add(func() { count += 10 })
	})
	set.Each(func(fn func()) { fn() })
	require.Equal(t, 1, count)
	require.Equal(t, 2, set.Len())
}

func TestListenerSetRemoveUnknown(t *testing.T) {
	testlog.Start(t)

	var set ListenerSet[int]
	id := set.Add(1)
	require.True(t, set.Remove(id))
	require.False(t, set.Remove(id))
	require.False(t, set.Remove(ListenerID(99)))
}

func TestListenerSetConcurrentMutation(t *testing.T) {
	testlog.Start(t)

	var set ListenerSet[int]
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				id := set.Add(n)
				set.Remove(id)
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				set.Each(func(int) {})
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 0, set.Len())
}
