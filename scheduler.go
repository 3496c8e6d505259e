package redjob

import (
	"math/rand"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// DelayedScheduler is the time-indexed secondary queue and promotion engine
//. The sorted set keyDelayedSchedule maps a unix-second
// timestamp to itself; keyDelayedAt(ts) holds the envelopes due at ts. The
// invariant "the sorted set contains ts iff delayed:<ts> is non-empty" is
// restored after every removal by cleanupTimestamp.
type DelayedScheduler struct {
	ctx   *Context
	queue *QueueEngine
}

// NewDelayedScheduler returns a scheduler bound to ctx, pushing promoted
// envelopes through the given QueueEngine.
func NewDelayedScheduler(ctx *Context, queue *QueueEngine) *DelayedScheduler {
	return &DelayedScheduler{ctx: ctx, queue: queue}
}

// EnqueueAt schedules className/args to run on queue at the given time.
func (s *DelayedScheduler) EnqueueAt(at time.Time, queue, className string, args Args) error {
	if queue == "" {
		return &ConfigError{Msg: "queue name must not be empty"}
	}
	if className == "" {
		return &ConfigError{Msg: "class name must not be empty"}
	}

	ts := at.Unix()
	env := NewDelayedEnvelope(queue, className, args)
	raw, err := env.Serialize()
	if err != nil {
		return errors.Wrap(err, "redjob: serialize delayed envelope")
	}

	if v := s.ctx.Events.Emit(EventBeforeSchedule, ts, queue, className, args); v != VetoNone {
		return nil
	}

	if err := s.ctx.KeyStore.ListPushTail(keyDelayedAt(s.ctx.Prefix, ts), raw); err != nil {
		return err
	}
	if err := s.ctx.KeyStore.ZAdd(keyDelayedSchedule(s.ctx.Prefix), float64(ts), formatTimestamp(ts)); err != nil {
		return err
	}

	s.ctx.Events.Emit(EventAfterSchedule, ts, queue, className, args)
	return nil
}

// EnqueueIn is EnqueueAt(now+d, ...).
func (s *DelayedScheduler) EnqueueIn(d time.Duration, queue, className string, args Args) error {
	return s.EnqueueAt(time.Unix(nowEpoch(), 0).Add(d), queue, className, args)
}

// RemoveDelayed scans every delayed:* list and removes every element
// byte-equal to the canonical envelope JSON for (queue, className, args),
// returning the total removed. It does not prune empty lists from the
// sorted set immediately; a subsequent NextItemForTimestamp or
// cleanupTimestamp restores the invariant.
func (s *DelayedScheduler) RemoveDelayed(queue, className string, args Args) (int, error) {
	target, err := NewDelayedEnvelope(queue, className, args).Serialize()
	if err != nil {
		return 0, err
	}

	timestamps, err := s.ctx.KeyStore.ZRangeByScore(keyDelayedSchedule(s.ctx.Prefix), negInf, posInf, 0, 1<<30)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, tsStr := range timestamps {
		ts, err := parseTimestamp(tsStr)
		if err != nil {
			continue
		}
		n, err := s.removeFromList(ts, target)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// RemoveDelayedJobFromTimestamp removes matching entries only from
// delayed:<ts>, then prunes ts from the sorted set if the list became empty.
func (s *DelayedScheduler) RemoveDelayedJobFromTimestamp(ts int64, queue, className string, args Args) (int, error) {
	target, err := NewDelayedEnvelope(queue, className, args).Serialize()
	if err != nil {
		return 0, err
	}
	n, err := s.removeFromList(ts, target)
	if err != nil {
		return n, err
	}
	if err := s.cleanupTimestamp(ts); err != nil {
		return n, err
	}
	return n, nil
}

func (s *DelayedScheduler) removeFromList(ts int64, target []byte) (int, error) {
	n, err := s.ctx.KeyStore.ListRemove(keyDelayedAt(s.ctx.Prefix, ts), target, 0)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// NextDelayedTimestamp returns the smallest score in the sorted set that is
// <= at, or ok=false if none exists. This is the promotion loop's "heart":
// any past-due timestamp is eventually observed regardless of when the
// scheduler last ran.
func (s *DelayedScheduler) NextDelayedTimestamp(at time.Time) (int64, bool, error) {
	members, err := s.ctx.KeyStore.ZRangeByScore(keyDelayedSchedule(s.ctx.Prefix), negInf, float64(at.Unix()), 0, 1)
	if err != nil {
		return 0, false, err
	}
	if len(members) == 0 {
		return 0, false, nil
	}
	ts, err := parseTimestamp(members[0])
	if err != nil {
		return 0, false, err
	}
	return ts, true, nil
}

// NextItemForTimestamp head-pops delayed:<ts>, pruning ts from the sorted
// set if the list becomes empty as a result.
func (s *DelayedScheduler) NextItemForTimestamp(ts int64) (*DelayedEnvelope, []byte, bool, error) {
	raw, ok, err := s.ctx.KeyStore.ListPopHead(keyDelayedAt(s.ctx.Prefix, ts))
	if err != nil || !ok {
		return nil, nil, false, err
	}
	if err := s.cleanupTimestamp(ts); err != nil {
		return nil, nil, false, err
	}
	env, err := ParseDelayedEnvelope(raw)
	if err != nil {
		return nil, nil, false, errors.Wrap(err, "redjob: parse delayed envelope")
	}
	return env, raw, true, nil
}

// cleanupTimestamp prunes ts from the sorted set iff delayed:<ts> is empty,
// restoring the sorted-set/list invariant.
func (s *DelayedScheduler) cleanupTimestamp(ts int64) error {
	n, err := s.ctx.KeyStore.ListLen(keyDelayedAt(s.ctx.Prefix, ts))
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err = s.ctx.KeyStore.ZRem(keyDelayedSchedule(s.ctx.Prefix), formatTimestamp(ts))
	return err
}

// DelayedScheduleSize returns the number of distinct due-timestamps pending.
func (s *DelayedScheduler) DelayedScheduleSize() (int64, error) {
	return s.ctx.KeyStore.ZCard(keyDelayedSchedule(s.ctx.Prefix))
}

// SizeAtTimestamp returns the number of envelopes waiting at ts.
func (s *DelayedScheduler) SizeAtTimestamp(ts int64) (int64, error) {
	return s.ctx.KeyStore.ListLen(keyDelayedAt(s.ctx.Prefix, ts))
}

// promote runs one full sweep of the promotion protocol: drain
// every due timestamp, and within each timestamp every envelope, pushing
// each onto its destination primary queue.
//
// Failure semantics: this implementation is at-least-once. If Push fails
// after NextItemForTimestamp already popped the envelope, the envelope is
// reinserted at the same timestamp (and the timestamp re-added to the
// sorted set) before the error is returned, so the next sweep retries it.
// The spec's simpler at-most-once alternative would skip this reinsertion.
func (s *DelayedScheduler) promote(at time.Time) (int, error) {
	promoted := 0
	for {
		ts, ok, err := s.NextDelayedTimestamp(at)
		if err != nil {
			return promoted, err
		}
		if !ok {
			return promoted, nil
		}

		for {
			env, raw, ok, err := s.NextItemForTimestamp(ts)
			if err != nil {
				return promoted, err
			}
			if !ok {
				break
			}

			if err := s.queue.pushRaw(env.Queue, raw); err != nil {
				if reinsertErr := s.reinsert(ts, raw); reinsertErr != nil {
					s.ctx.Logger.Error("scheduler: reinsert after failed promotion also failed",
						"timestamp", ts, "error", reinsertErr)
				}
				return promoted, err
			}
			promoted++
		}
	}
}

func (s *DelayedScheduler) reinsert(ts int64, raw []byte) error {
	if err := s.ctx.KeyStore.ListPushTail(keyDelayedAt(s.ctx.Prefix, ts), raw); err != nil {
		return err
	}
	return s.ctx.KeyStore.ZAdd(keyDelayedSchedule(s.ctx.Prefix), float64(ts), formatTimestamp(ts))
}

// RunPromotionLoop runs the promotion protocol until stop is closed,
// sleeping sleepInterval plus a random jitter of up to a quarter of it
// between empty sweeps. The loop is stateless between iterations: every
// promotion is a durable Redis operation, so a crash mid-sweep loses at
// most the in-flight envelope (the reinsertion above covers a failed push,
// not a crash between pop and push).
func (s *DelayedScheduler) RunPromotionLoop(stop <-chan struct{}, sleepInterval time.Duration) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := s.promote(time.Unix(nowEpoch(), 0))
		if err != nil {
			s.ctx.Logger.Error("scheduler: promotion sweep failed", "error", err)
		}
		if n > 0 {
			continue
		}

		select {
		case <-stop:
			return
		case <-time.After(jitter(sleepInterval)):
		}
	}
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

const (
	negInf = -1 << 53
	posInf = 1 << 53
)

func formatTimestamp(ts int64) string {
	return strconv.FormatInt(ts, 10)
}

func parseTimestamp(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
