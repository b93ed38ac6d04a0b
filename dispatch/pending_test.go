package dispatch

import (
	"testing"

	"github.com/0xmhha/job-indexer/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingQueueOrder(t *testing.T) {
	p := newPendingQueue(10)

	approved := testutil.Approved(1, testutil.Pos(13, 0))
	result := testutil.ResultSubmitted(1, "0xbb", "r", testutil.Pos(12, 4))
	accepted := testutil.Accepted(1, "0xbb", testutil.Pos(12, 1))
	other := testutil.Accepted(2, "0xbb", testutil.Pos(5, 0))

	p.add(approved)
	p.add(result)
	p.add(accepted)
	p.add(other)

	assert.Equal(t, 4, p.size)
	assert.Equal(t, []uint64{1, 2}, p.ids())
	assert.True(t, p.contains(result))
	assert.False(t, p.contains(testutil.Approved(1, testutil.Pos(14, 0))))

	var order []*parked
	for p.has(1) {
		order = append(order, p.head(1))
		p.popHead(1)
	}
	require.Len(t, order, 3)
	assert.Same(t, accepted, order[0].ev)
	assert.Same(t, result, order[1].ev)
	assert.Same(t, approved, order[2].ev)

	assert.Equal(t, 1, p.size)
	assert.Nil(t, p.head(1))
	assert.Equal(t, []uint64{2}, p.ids())
}

func TestPendingQueueFull(t *testing.T) {
	p := newPendingQueue(1)
	assert.False(t, p.full())
	p.add(testutil.Accepted(1, "0xbb", testutil.Pos(1, 0)))
	assert.True(t, p.full())

	p.popHead(1)
	p.popHead(1)
	assert.False(t, p.full())
	assert.Equal(t, 0, p.size)
}
