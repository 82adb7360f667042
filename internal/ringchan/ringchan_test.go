package ringchan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_DropsOldest(t *testing.T) {
	r := New[int](3)
	for i := 0; i < 10; i++ {
		r.Send(i)
	}
	r.Close()

	var got []int
	for v := range r.C() {
		got = append(got, v)
	}

	assert.Equal(t, []int{7, 8, 9}, got, "only the last values MUST survive")
	assert.Equal(t, int64(10), r.Sent())
	assert.Equal(t, int64(7), r.Dropped())
}

func TestRing_SendReportsDrop(t *testing.T) {
	r := New[string](1)
	assert.False(t, r.Send("a"))
	assert.True(t, r.Send("b"), "second send into a full ring MUST report a drop")
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, r.Cap())
}

func TestRing_SendAfterCloseIsNoop(t *testing.T) {
	r := New[int](2)
	r.Close()
	r.Close()

	require.NotPanics(t, func() { r.Send(1) })
	_, ok := <-r.C()
	assert.False(t, ok)
}

func TestRing_ConcurrentProducers(t *testing.T) {
	r := New[int](8)
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				r.Send(i)
			}
		}()
	}
	wg.Wait()
	r.Close()

	n := 0
	for range r.C() {
		n++
	}
	assert.Equal(t, 8, n)
	assert.Equal(t, int64(4000), r.Sent())
	assert.Equal(t, int64(4000-8), r.Dropped())
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
