package redjob

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeSerializeFieldOrder(t *testing.T) {
	env := NewEnvelope("SendEmail", Args{"to": "a@b.com"}, "job-1", "redjob")
	raw, err := env.Serialize()
	require.Nil(t, err)

	s := string(raw)
	// field order in the marshaled JSON must be args, class, id, prefix, queue_time
	argsIdx := strings.Index(s, `"args"`)
	classIdx := strings.Index(s, `"class"`)
	idIdx := strings.Index(s, `"id"`)
	assert.True(t, argsIdx < classIdx && classIdx < idIdx, "unexpected field order in %s", s)
}

func TestParseEnvelopeRoundTrip(t *testing.T) {
	env := NewEnvelope("SendEmail", Args{"to": "a@b.com"}, "job-1", "redjob")
	raw, err := env.Serialize()
	require.Nil(t, err)

	got, err := ParseEnvelope(raw)
	require.Nil(t, err)
	assert.Equal(t, env.Class, got.Class)
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, env.Prefix, got.Prefix)
	assert.Equal(t, "a@b.com", got.argsValue()["to"])
}

func TestDelayedEnvelopeByteEquality(t *testing.T) {
	a := NewDelayedEnvelope("mailers", "SendEmail", Args{"to": "a@b.com"})
	b := NewDelayedEnvelope("mailers", "SendEmail", Args{"to": "a@b.com"})

	rawA, err := a.Serialize()
	require.Nil(t, err)
	rawB, err := b.Serialize()
	require.Nil(t, err)
	assert.Equal(t, string(rawA), string(rawB))
}

func TestDelayedEnvelopeFieldOrder(t *testing.T) {
	env := NewDelayedEnvelope("mailers", "SendEmail", Args{"to": "a@b.com"})
	raw, err := env.Serialize()
	require.Nil(t, err)

	s := string(raw)
	argsIdx := strings.Index(s, `"args"`)
	classIdx := strings.Index(s, `"class"`)
	queueIdx := strings.Index(s, `"queue"`)
	assert.True(t, argsIdx < classIdx && classIdx < queueIdx, "unexpected field order in %s", s)
}
