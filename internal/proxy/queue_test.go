package proxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingQueue_FIFOOrder(t *testing.T) {
	q := &pendingQueue{}
	now := time.Now()

	q.push(pendingCommand{kind: pendingConnect, user: "first", createdAt: now})
	q.push(pendingCommand{kind: pendingConnect, user: "second", createdAt: now})
	require.Equal(t, 2, q.len())

	head, ok := q.peek()
	require.True(t, ok)
	assert.Equal(t, "first", head.user)
	assert.Equal(t, 2, q.len(), "peek must not remove")

	popped, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "first", popped.user, "pop must take the head, not the tail")

	popped, ok = q.pop()
	require.True(t, ok)
	assert.Equal(t, "second", popped.user)

	_, ok = q.pop()
	assert.False(t, ok)
}

func TestPendingQueue_Empty(t *testing.T) {
	q := &pendingQueue{}

	_, ok := q.peek()
	assert.False(t, ok)
	_, ok = q.pop()
	assert.False(t, ok)
	_, ok = q.headAge(time.Now())
	assert.False(t, ok)
}

func TestPendingQueue_HeadAge(t *testing.T) {
	q := &pendingQueue{}
	created := time.Now()
	q.push(pendingCommand{kind: pendingConnect, createdAt: created})

	age, ok := q.headAge(created.Add(3 * time.Second))
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, age)
}
