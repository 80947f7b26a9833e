package wqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDListPushFrontPopBackIsFIFO(t *testing.T) {
	l := newDList[int]()
	l.PushFront(1)
	l.PushFront(2)
	l.PushFront(3)
	require.Equal(t, 3, l.Len())

	n, ok := l.PopBack()
	require.True(t, ok)
	assert.Equal(t, 1, n.value)

	n, ok = l.PopBack()
	require.True(t, ok)
	assert.Equal(t, 2, n.value)

	n, ok = l.PopBack()
	require.True(t, ok)
	assert.Equal(t, 3, n.value)

	_, ok = l.PopBack()
	assert.False(t, ok)
	assert.Equal(t, 0, l.Len())
}

func TestDListRemoveArbitraryPosition(t *testing.T) {
	l := newDList[string]()
	a := l.PushFront("a")
	l.PushFront("b")
	c := l.PushFront("c")

	l.Remove(c)
	require.Equal(t, 2, l.Len())

	n, ok := l.PopBack()
	require.True(t, ok)
	assert.Equal(t, "a", n.value)

	l.Remove(a) // already popped; no-op, doesn't touch "b"
	assert.Equal(t, 1, l.Len())
}

func TestDListRemoveIsIdempotent(t *testing.T) {
	l := newDList[int]()
	n := l.PushFront(42)

	l.Remove(n)
	assert.Equal(t, 0, l.Len())
	l.Remove(n) // second call on an already-removed node must not panic or double-decrement
	assert.Equal(t, 0, l.Len())
}
