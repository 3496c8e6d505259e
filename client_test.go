package redjob

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientQueues(t *testing.T) {
	ctx := newTestContext("redjobtest:client")
	q := NewQueueEngine(ctx)
	c := NewClient(ctx, q)

	_, _, err := q.Enqueue("mailers", "SendEmail", nil, false, "")
	require.Nil(t, err)
	_, _, err = q.Enqueue("mailers", "SendEmail", nil, false, "")
	require.Nil(t, err)

	queues, err := c.Queues()
	require.Nil(t, err)
	require.Len(t, queues, 1)
	assert.Equal(t, "mailers", queues[0].Name)
	assert.EqualValues(t, 2, queues[0].Size)
	assert.GreaterOrEqual(t, queues[0].OldestWaitFor, time.Duration(0), "expected a non-negative head-of-queue age")
}

func TestClientFailedJobs(t *testing.T) {
	ctx := newTestContext("redjobtest:client")
	q := NewQueueEngine(ctx)
	c := NewClient(ctx, q)

	env := NewEnvelope("SendEmail", nil, "job-1", ctx.Prefix)
	err := ctx.Failures.Record(env, &HandlerError{ClassName: "SendEmail", Err: errNoConnection}, "worker-1", "mailers")
	require.Nil(t, err)

	failed, err := c.FailedJobs()
	require.Nil(t, err)
	assert.Len(t, failed, 1)
}

func TestClientDelayedJobs(t *testing.T) {
	ctx := newTestContext("redjobtest:client")
	q := NewQueueEngine(ctx)
	c := NewClient(ctx, q)
	s := NewDelayedScheduler(ctx, q)

	require.Nil(t, s.EnqueueIn(0, "mailers", "SendEmail", Args{"to": "a@b.com"}))

	jobs, err := c.DelayedJobs()
	require.Nil(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "SendEmail", jobs[0].Job.Class)
}

func TestClientWorkerObservations(t *testing.T) {
	ctx := newTestContext("redjobtest:client")
	q := NewQueueEngine(ctx)
	c := NewClient(ctx, q)

	w, err := NewWorker(ctx, q, []string{"mailers"}, 0)
	require.Nil(t, err)
	require.Nil(t, w.register())

	observations, err := c.WorkerObservations()
	require.Nil(t, err)
	require.Len(t, observations, 1)
	assert.Equal(t, w.ID(), observations[0].WorkerID)
	assert.False(t, observations[0].Busy)

	env := NewEnvelope("SendEmail", nil, "job-1", ctx.Prefix)
	require.Nil(t, w.setWorkingOn(env, "mailers"))

	observations, err = c.WorkerObservations()
	require.Nil(t, err)
	require.Len(t, observations, 1)
	assert.True(t, observations[0].Busy)
	assert.Equal(t, "mailers", observations[0].Queue)
	require.NotNil(t, observations[0].Job)
	assert.Equal(t, "SendEmail", observations[0].Job.Class)
}
