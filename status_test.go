package redjob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTrackerCreateAndGet(t *testing.T) {
	ctx := newTestContext("redjobtest:status")

	require.Nil(t, ctx.Status.Create("job-1"))
	state, ok, err := ctx.Status.Get("job-1")
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, StateWaiting, state)
}

func TestStatusTrackerMonotonicity(t *testing.T) {
	ctx := newTestContext("redjobtest:status")

	require.Nil(t, ctx.Status.Create("job-2"))
	require.Nil(t, ctx.Status.Update("job-2", StateComplete, nil))
	// a late WAITING update must not regress a terminal state
	require.Nil(t, ctx.Status.Update("job-2", StateWaiting, nil))

	state, ok, err := ctx.Status.Get("job-2")
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, StateComplete, state, "expected status to remain COMPLETE")
}

func TestStatusTrackerIsTracking(t *testing.T) {
	ctx := newTestContext("redjobtest:status")

	tracked, err := ctx.Status.IsTracking("never-created")
	require.Nil(t, err)
	assert.False(t, tracked, "expected an untracked job to report false")
}
