package fifoqueue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFifoQueue_Order verifies elements are popped in push order.
func TestFifoQueue_Order(t *testing.T) {
	q, err := NewFifoQueue(10)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.True(t, q.Push(i))
	}
	for i := 0; i < 5; i++ {
		e, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, i, e)
	}
	_, ok := q.Pop()
	require.False(t, ok)
}

// TestFifoQueue_Capacity verifies pushes beyond capacity are dropped and the
// length observer sees every change.
func TestFifoQueue_Capacity(t *testing.T) {
	var lengths []int
	q, err := NewFifoQueue(2, WithLengthObserver(func(l int) { lengths = append(lengths, l) }))
	require.NoError(t, err)

	require.True(t, q.Push("a"))
	require.True(t, q.Push("b"))
	require.False(t, q.Push("c"))
	require.Equal(t, 2, q.Len())

	_, _ = q.Pop()
	require.Equal(t, []int{1, 2, 1}, lengths)
}

func TestFifoQueue_InvalidCapacity(t *testing.T) {
	_, err := NewFifoQueue(0)
	require.Error(t, err)
}
