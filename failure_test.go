package redjob

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisFailureSinkRecord(t *testing.T) {
	ctx := newTestContext("redjobtest:failure")

	env := NewEnvelope("SendEmail", Args{"to": "a@b.com"}, "job-1", "redjobtest:failure")
	failErr := &HandlerError{ClassName: "SendEmail", Err: errNoConnection}

	require.Nil(t, ctx.Failures.Record(env, failErr, "worker-1", "mailers"))

	raw, err := ctx.KeyStore.ListRange(keyFailed(ctx.Prefix), 0, -1)
	require.Nil(t, err)
	require.Len(t, raw, 1)

	var rec failureRecord
	require.Nil(t, json.Unmarshal(raw[0], &rec))
	assert.Equal(t, "worker-1", rec.WorkerID)
	assert.Equal(t, "mailers", rec.Queue)
	assert.Equal(t, "HandlerError", rec.ErrKind)
}

func TestErrorKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&DirtyExitError{ExitCode: 1}, "DirtyExit"},
		{&HandlerError{ClassName: "X", Err: errNoConnection}, "HandlerError"},
		{&JobResolutionError{ClassName: "X"}, "JobResolutionError"},
		{errNoConnection, "Error"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, errorKind(c.err))
	}
}

type simpleError string

func (e simpleError) Error() string { return string(e) }

var errNoConnection = simpleError("no connection")
