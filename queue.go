package redjob

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// QueueEngine implements enqueue/dequeue over KeyStore.
type QueueEngine struct {
	ctx *Context
}

// NewQueueEngine returns a QueueEngine bound to ctx's KeyStore/Events/Prefix.
func NewQueueEngine(ctx *Context) *QueueEngine {
	return &QueueEngine{ctx: ctx}
}

// Push adds queue to the registry and appends env to its list, tail-ordered
// (append-at-tail, head = oldest).
func (q *QueueEngine) Push(queue string, env *Envelope) error {
	raw, err := env.Serialize()
	if err != nil {
		return errors.Wrap(err, "redjob: serialize envelope")
	}
	return q.pushRaw(queue, raw)
}

func (q *QueueEngine) pushRaw(queue string, raw []byte) error {
	if err := q.ctx.KeyStore.SAdd(keyQueues(q.ctx.Prefix), queue); err != nil {
		return err
	}
	return q.ctx.KeyStore.ListPushTail(keyQueue(q.ctx.Prefix, queue), raw)
}

// Pop removes and returns the head envelope of queue, or ok=false if empty.
func (q *QueueEngine) Pop(queue string) (*Envelope, bool, error) {
	if paused, err := q.isPaused(queue); err != nil {
		return nil, false, err
	} else if paused {
		return nil, false, nil
	}

	raw, ok, err := q.ctx.KeyStore.ListPopHead(keyQueue(q.ctx.Prefix, queue))
	if err != nil || !ok {
		return nil, false, err
	}
	env, err := ParseEnvelope(raw)
	if err != nil {
		return nil, false, errors.Wrap(err, "redjob: parse envelope")
	}
	return env, true, nil
}

// BlockingPop blocks up to timeout across queues, returning the first
// available envelope and the queue it came from. Per-queue FIFO is
// preserved; the server's leftmost-ready policy governs cross-queue ties.
// Zero queues returns immediately with ok=false.
func (q *QueueEngine) BlockingPop(queues []string, timeout time.Duration) (string, *Envelope, bool, error) {
	if len(queues) == 0 {
		return "", nil, false, nil
	}

	keys := make([]string, 0, len(queues))
	byKey := make(map[string]string, len(queues))
	for _, name := range queues {
		paused, err := q.isPaused(name)
		if err != nil {
			return "", nil, false, err
		}
		if paused {
			continue
		}
		k := keyQueue(q.ctx.Prefix, name)
		keys = append(keys, k)
		byKey[k] = name
	}
	if len(keys) == 0 {
		return "", nil, false, nil
	}

	key, raw, ok, err := q.ctx.KeyStore.ListBlockingPopHead(keys, timeout)
	if err != nil || !ok {
		return "", nil, false, err
	}
	env, err := ParseEnvelope(raw)
	if err != nil {
		return "", nil, false, errors.Wrap(err, "redjob: parse envelope")
	}
	return byKey[key], env, true, nil
}

// Size returns the number of envelopes waiting on queue.
func (q *QueueEngine) Size(queue string) (int64, error) {
	return q.ctx.KeyStore.ListLen(keyQueue(q.ctx.Prefix, queue))
}

// PeekHead returns the oldest envelope waiting on queue without removing it,
// or ok=false if the queue is empty.
func (q *QueueEngine) PeekHead(queue string) (*Envelope, bool, error) {
	rows, err := q.ctx.KeyStore.ListRange(keyQueue(q.ctx.Prefix, queue), 0, 0)
	if err != nil || len(rows) == 0 {
		return nil, false, err
	}
	env, err := ParseEnvelope(rows[0])
	if err != nil {
		return nil, false, errors.Wrap(err, "redjob: parse envelope")
	}
	return env, true, nil
}

// Queues returns the set of known queue names.
func (q *QueueEngine) Queues() ([]string, error) {
	return q.ctx.KeyStore.SMembers(keyQueues(q.ctx.Prefix))
}

// Pause stops Pop/BlockingPop from returning jobs from queue without
// stopping the worker or dropping its backlog.
func (q *QueueEngine) Pause(queue string) error {
	return q.ctx.KeyStore.Set(keyQueuePaused(q.ctx.Prefix, queue), "1", 0)
}

// Unpause reverses Pause.
func (q *QueueEngine) Unpause(queue string) error {
	return q.ctx.KeyStore.Del(keyQueuePaused(q.ctx.Prefix, queue))
}

func (q *QueueEngine) isPaused(queue string) (bool, error) {
	_, ok, err := q.ctx.KeyStore.Get(keyQueuePaused(q.ctx.Prefix, queue))
	return ok, err
}

// Enqueue assigns an id if absent, fires beforeEnqueue (any veto aborts with
// ok=false and no side effects), pushes the envelope, optionally creates a
// Status record, then fires afterEnqueue.
func (q *QueueEngine) Enqueue(queue, className string, args Args, trackStatus bool, id string) (string, bool, error) {
	if queue == "" {
		return "", false, &ConfigError{Msg: "queue name must not be empty"}
	}
	if className == "" {
		return "", false, &ConfigError{Msg: "class name must not be empty"}
	}

	if id == "" {
		id = makeIdentifier()
	}

	if v := q.ctx.Events.Emit(EventBeforeEnqueue, queue, className, args, id); v != VetoNone {
		return "", false, nil
	}

	env := NewEnvelope(className, args, id, q.ctx.Prefix)
	if err := q.Push(queue, env); err != nil {
		return "", false, err
	}

	if trackStatus {
		if err := q.ctx.Status.Create(id); err != nil {
			return "", false, err
		}
	}

	q.ctx.Events.Emit(EventAfterEnqueue, queue, className, args, id)
	return id, true, nil
}

// EnqueueUnique behaves like Enqueue but refuses to push a duplicate
// (className, args) pair onto queue, guarded by a SETNX marker with a 24h
// TTL (spec's supplemented uniqueness feature). The marker is not cleared
// when the job runs, fails, or its enqueue is vetoed, so a duplicate stays
// refused until the TTL expires.
func (q *QueueEngine) EnqueueUnique(queue, className string, args Args, trackStatus bool) (string, bool, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "", false, err
	}

	lockKey := keyUniqueJob(q.ctx.Prefix, queue, className, argsJSON)
	acquired, err := q.ctx.KeyStore.SetNX(lockKey, "1", 24*time.Hour)
	if err != nil {
		return "", false, err
	}
	if !acquired {
		return "", false, nil
	}

	return q.Enqueue(queue, className, args, trackStatus, "")
}
