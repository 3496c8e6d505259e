package redjob

import (
	"bytes"
	"encoding/json"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildRequestRoundTrip(t *testing.T) {
	req := childRequest{
		ClassName: "SendEmail",
		Args:      Args{"to": "a@b.com"},
		Queue:     "mailers",
		JobID:     "job-1",
		Prefix:    "redjob",
	}
	raw, err := json.Marshal(&req)
	require.Nil(t, err)

	got, err := decodeChildRequest(bytes.NewReader(raw))
	require.Nil(t, err)
	assert.Equal(t, req, *got)
}

func TestPerformInChildSuccess(t *testing.T) {
	ctx := NewContext(nil, "redjob")
	ctx.Factory.RegisterFunc("Noop", func(args Args, queue string, jc *JobContext) error {
		return nil
	})

	env := NewEnvelope("Noop", nil, "job-1", "redjob")
	jobCtx := newJobContext(ctx, env)

	assert.Nil(t, performInChild(ctx, jobCtx, "default"))
}

func TestPerformInChildUnregisteredClass(t *testing.T) {
	ctx := NewContext(nil, "redjob")
	env := NewEnvelope("Missing", nil, "job-1", "redjob")
	jobCtx := newJobContext(ctx, env)

	err := performInChild(ctx, jobCtx, "default")
	_, ok := err.(*JobResolutionError)
	assert.True(t, ok, "expected JobResolutionError, got %v", err)
}

func TestPerformInChildRecoversPanic(t *testing.T) {
	ctx := NewContext(nil, "redjob")
	ctx.Factory.RegisterFunc("Boom", func(args Args, queue string, jc *JobContext) error {
		panic("kaboom")
	})

	env := NewEnvelope("Boom", nil, "job-1", "redjob")
	jobCtx := newJobContext(ctx, env)

	err := performInChild(ctx, jobCtx, "default")
	he, ok := err.(*HandlerError)
	require.True(t, ok, "expected HandlerError, got %v", err)
	assert.Equal(t, "Boom", he.ClassName)
}

func TestChildRunnerKillNoop(t *testing.T) {
	r := &childRunner{}
	assert.False(t, r.kill(), "expected kill to report false with no running child")
}

func TestChildRunnerKillTerminatesRunningChild(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	require.Nil(t, cmd.Start())

	r := &childRunner{cmd: cmd}
	assert.True(t, r.kill(), "expected kill to report true for a running child")
	assert.NotNil(t, cmd.Wait(), "expected sleep to exit with an error after being killed")
}
