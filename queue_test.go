package redjob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueEnqueueAndPop(t *testing.T) {
	ctx := newTestContext("redjobtest:queue")
	q := NewQueueEngine(ctx)

	id, ok, err := q.Enqueue("mailers", "SendEmail", Args{"to": "a@b.com"}, false, "")
	require.Nil(t, err)
	require.True(t, ok)
	require.NotEqual(t, "", id)

	size, err := q.Size("mailers")
	require.Nil(t, err)
	assert.EqualValues(t, 1, size)

	env, ok, err := q.Pop("mailers")
	require.Nil(t, err)
	require.True(t, ok, "expected a job")
	assert.Equal(t, "SendEmail", env.Class)
	assert.Equal(t, "a@b.com", env.argsValue()["to"])
}

func TestQueueFIFOOrder(t *testing.T) {
	ctx := newTestContext("redjobtest:queue")
	q := NewQueueEngine(ctx)

	for i := 0; i < 3; i++ {
		_, _, err := q.Enqueue("ordered", "Noop", Args{"i": i}, false, "")
		require.Nil(t, err)
	}

	for i := 0; i < 3; i++ {
		env, ok, err := q.Pop("ordered")
		require.Nil(t, err)
		require.True(t, ok)
		assert.Equal(t, i, int(env.argsValue()["i"].(float64)), "expected fifo order at position %d", i)
	}
}

func TestQueueEnqueueEmptyNameIsConfigError(t *testing.T) {
	ctx := newTestContext("redjobtest:queue")
	q := NewQueueEngine(ctx)

	_, _, err := q.Enqueue("", "SendEmail", nil, false, "")
	_, ok := err.(*ConfigError)
	assert.True(t, ok, "expected ConfigError, got %v", err)

	_, _, err = q.Enqueue("mailers", "", nil, false, "")
	_, ok = err.(*ConfigError)
	assert.True(t, ok, "expected ConfigError, got %v", err)
}

func TestQueueEnqueueVeto(t *testing.T) {
	ctx := newTestContext("redjobtest:queue")
	q := NewQueueEngine(ctx)

	ctx.Events.On(EventBeforeEnqueue, func(args ...interface{}) Veto { return VetoDoNotCreate })

	id, ok, err := q.Enqueue("mailers", "SendEmail", nil, false, "")
	require.Nil(t, err)
	assert.False(t, ok, "expected veto to suppress enqueue")
	assert.Equal(t, "", id)

	size, err := q.Size("mailers")
	require.Nil(t, err)
	assert.EqualValues(t, 0, size, "expected no side effects from a vetoed enqueue")
}

func TestQueuePauseUnpause(t *testing.T) {
	ctx := newTestContext("redjobtest:queue")
	q := NewQueueEngine(ctx)

	_, _, err := q.Enqueue("paused-queue", "Noop", nil, false, "")
	require.Nil(t, err)
	require.Nil(t, q.Pause("paused-queue"))

	_, ok, err := q.Pop("paused-queue")
	require.Nil(t, err)
	assert.False(t, ok, "expected pop from a paused queue to return nothing")

	require.Nil(t, q.Unpause("paused-queue"))
	_, ok, err = q.Pop("paused-queue")
	require.Nil(t, err)
	assert.True(t, ok, "expected pop after unpause to return the job")
}

func TestQueueEnqueueUnique(t *testing.T) {
	ctx := newTestContext("redjobtest:queue")
	q := NewQueueEngine(ctx)

	id1, ok1, err := q.EnqueueUnique("mailers", "SendEmail", Args{"to": "a@b.com"}, false)
	require.Nil(t, err)
	require.True(t, ok1, "expected first enqueue to succeed")
	require.NotEqual(t, "", id1)

	_, ok2, err := q.EnqueueUnique("mailers", "SendEmail", Args{"to": "a@b.com"}, false)
	require.Nil(t, err)
	assert.False(t, ok2, "expected a duplicate unique enqueue to be refused")

	size, err := q.Size("mailers")
	require.Nil(t, err)
	assert.EqualValues(t, 1, size, "expected exactly one job on the queue")
}

func TestQueueBlockingPopZeroQueues(t *testing.T) {
	ctx := newTestContext("redjobtest:queue")
	q := NewQueueEngine(ctx)

	_, _, ok, err := q.BlockingPop(nil, 0)
	require.Nil(t, err)
	assert.False(t, ok, "expected blocking pop with zero queues to return immediately with ok=false")
}
