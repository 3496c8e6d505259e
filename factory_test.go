package redjob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopHandler struct {
	args  Args
	queue string
}

func (h *noopHandler) SetArgs(args Args)            { h.args = args }
func (h *noopHandler) SetQueue(queue string)         { h.queue = queue }
func (h *noopHandler) SetJobContext(ctx *JobContext) {}
func (h *noopHandler) Perform() error                { return nil }

func TestFactoryCreateRegistered(t *testing.T) {
	f := NewFactory()
	f.Register("Noop", func() JobHandler { return &noopHandler{} })

	h, err := f.Create("Noop", Args{"a": 1}, "default", nil)
	require.Nil(t, err)

	nh, ok := h.(*noopHandler)
	require.True(t, ok, "got %T", h)
	assert.Equal(t, "default", nh.queue)
	assert.Equal(t, 1, nh.args["a"])
}

func TestFactoryCreateUnregistered(t *testing.T) {
	f := NewFactory()
	_, err := f.Create("DoesNotExist", nil, "default", nil)
	_, ok := err.(*JobResolutionError)
	assert.True(t, ok, "expected JobResolutionError, got %v", err)
}

func TestFactoryRegisterFunc(t *testing.T) {
	f := NewFactory()
	var gotArgs Args
	f.RegisterFunc("Inline", func(args Args, queue string, ctx *JobContext) error {
		gotArgs = args
		return nil
	})

	h, err := f.Create("Inline", Args{"x": "y"}, "default", nil)
	require.Nil(t, err)
	require.Nil(t, h.Perform())
	assert.Equal(t, "y", gotArgs["x"])
}
