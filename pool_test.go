package redjob

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolHeartbeatRegistersAndRemoves(t *testing.T) {
	ctx := newTestContext("redjobtest:pool")
	q := NewQueueEngine(ctx)
	p := NewPool(ctx, q, []string{"mailers"}, 1, time.Millisecond)

	p.heartbeat()
	ids, err := ctx.KeyStore.SMembers(keyWorkerPools(ctx.Prefix))
	require.Nil(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, p.ID(), ids[0])

	p.removeHeartbeat()
	ids, err = ctx.KeyStore.SMembers(keyWorkerPools(ctx.Prefix))
	require.Nil(t, err)
	assert.Len(t, ids, 0, "expected no pools after removeHeartbeat")
}

func TestPoolHeartbeatRecordsWorkerIDs(t *testing.T) {
	ctx := newTestContext("redjobtest:pool")
	q := NewQueueEngine(ctx)
	p := NewPool(ctx, q, []string{"mailers"}, 1, time.Millisecond)

	w, err := NewWorker(ctx, q, []string{"mailers"}, time.Millisecond)
	require.Nil(t, err)
	p.workers = append(p.workers, w)

	p.heartbeat()

	fields, err := ctx.KeyStore.HGetAll(keyWorkerPoolHeartbeat(ctx.Prefix, p.ID()))
	require.Nil(t, err)
	assert.Equal(t, w.ID(), fields["worker_ids"])
}

func TestPoolReapOrphanedJobs(t *testing.T) {
	ctx := newTestContext("redjobtest:pool")
	q := NewQueueEngine(ctx)
	p := NewPool(ctx, q, []string{"mailers"}, 1, time.Millisecond)

	env := NewEnvelope("SendEmail", nil, "job-orphan", ctx.Prefix)
	require.Nil(t, ctx.Status.Create(env.ID))

	// pid 999999 is very unlikely to be alive; simulates a worker whose
	// child process died without clearing its pid marker.
	rec := jobPIDRecord{PID: 999999, WorkerID: "host:1:mailers", Queue: "mailers"}
	raw, err := json.Marshal(&rec)
	require.Nil(t, err)
	require.Nil(t, ctx.KeyStore.Set(keyJobPID(ctx.Prefix, env.ID), string(raw), 0))

	require.Nil(t, p.reapOrphanedJobs())

	state, ok, err := ctx.Status.Get(env.ID)
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, StateFailed, state)

	_, exists, err := ctx.KeyStore.Get(keyJobPID(ctx.Prefix, env.ID))
	require.Nil(t, err)
	assert.False(t, exists, "expected pid key to be cleared")

	failedCount, err := ctx.Stats.Get("failed:" + rec.WorkerID)
	require.Nil(t, err)
	assert.EqualValues(t, 1, failedCount)

	failures, err := ctx.KeyStore.ListRange(keyFailed(ctx.Prefix), 0, -1)
	require.Nil(t, err)
	assert.Len(t, failures, 1)
}
