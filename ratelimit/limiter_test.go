package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteRunsImmediatelyWhenTokenAvailable(t *testing.T) {
	l := New(1, 0.0001)
	ran := false
	l.Execute(func() bool { ran = true; return true })
	assert.True(t, ran)
	assert.Equal(t, 0, l.Pending())
}

func TestExecuteRefundsTokenWhenWorkDeclines(t *testing.T) {
	l := New(1, 0.0001)
	l.Execute(func() bool { return false }) // consumes then refunds

	// The refunded token must be usable again immediately, not requeued.
	ran := false
	l.Execute(func() bool { ran = true; return true })
	assert.True(t, ran)
	assert.Equal(t, 0, l.Pending())
}

func TestExecuteQueuesWhenNoTokenAvailable(t *testing.T) {
	l := New(1, 0.0001) // near-zero refill: the real timer never fires in this test
	l.Execute(func() bool { return true })

	ran := false
	l.Execute(func() bool { ran = true; return true })
	assert.False(t, ran)
	require.Equal(t, 1, l.Pending())
}

func TestDrainRunsQueuedItemsInFIFOOrderOnceRefilled(t *testing.T) {
	l := New(2, 1.0) // 2-token cap, 1 token/sec
	l.Execute(func() bool { return true }) // consumes the first token
	l.Execute(func() bool { return true }) // consumes the second token

	var order []int
	l.Execute(func() bool { order = append(order, 1); return true })
	l.Execute(func() bool { order = append(order, 2); return true })
	require.Equal(t, 2, l.Pending())

	l.now = func() time.Time { return l.last.Add(3 * time.Second) } // refills past the cap
	l.drain()

	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, 0, l.Pending())
}

func TestDrainStopsAtFirstUnfundableItemPreservingOrder(t *testing.T) {
	l := New(1, 1.0) // 1-token cap, 1 token/sec
	l.Execute(func() bool { return true }) // consumes the only token

	var order []int
	l.Execute(func() bool { order = append(order, 1); return true })
	l.Execute(func() bool { order = append(order, 2); return true })

	// Advance time by just enough for one token, not two.
	l.now = func() time.Time { return l.last.Add(time.Second) }
	l.drain()

	assert.Equal(t, []int{1}, order)
	assert.Equal(t, 1, l.Pending())
}
