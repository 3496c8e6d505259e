package redjob

// Context is the application context threaded into every entry point.
// It replaces a static/global service locator:
// Worker, Pool, and DelayedScheduler all take one of these at construction
// rather than reaching into process-wide mutable slots.
type Context struct {
	KeyStore KeyStore
	Events   *EventBus
	Failures FailureSink
	Factory  *Factory
	Stats    *StatCounter
	Status   *StatusTracker
	Logger   Logger
	Prefix   string
}

// NewContext wires up a Context's derived components (Stats, Status) from
// the given KeyStore and prefix, using sensible defaults for the rest.
func NewContext(store KeyStore, prefix string) *Context {
	return &Context{
		KeyStore: store,
		Events:   NewEventBus(),
		Failures: NewRedisFailureSink(store, prefix),
		Factory:  NewFactory(),
		Stats:    NewStatCounter(store, prefix),
		Status:   NewStatusTracker(store, prefix),
		Logger:   NewSlogLogger(nil),
		Prefix:   prefix,
	}
}

// JobContext is the per-job scratch space handed to a JobHandler: the
// application Context plus the envelope under execution and a free-form data
// bag read and written through Get/Set.
type JobContext struct {
	*Context
	Job  *Envelope
	Args Args

	data map[string]interface{}
}

func newJobContext(appCtx *Context, job *Envelope) *JobContext {
	return &JobContext{
		Context: appCtx,
		Job:     job,
		Args:    job.argsValue(),
		data:    make(map[string]interface{}),
	}
}

// Get returns a previously Set value, or nil.
func (c *JobContext) Get(key string) interface{} { return c.data[key] }

// Set stashes a value for the duration of this job's execution.
func (c *JobContext) Set(key string, value interface{}) { c.data[key] = value }
