package redjob

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// PeriodicScheduler enqueues a fixed job on a cron schedule. It is built on
// robfig/cron/v3 with seconds enabled, matching the six-field
// "s m h dom month dow" shape CronSpec emits.
type PeriodicScheduler struct {
	ctx   *Context
	queue *QueueEngine
	cron  *cron.Cron
}

// NewPeriodicScheduler returns an empty scheduler bound to ctx and queue.
func NewPeriodicScheduler(ctx *Context, queue *QueueEngine) *PeriodicScheduler {
	return &PeriodicScheduler{
		ctx:   ctx,
		queue: queue,
		cron:  cron.New(cron.WithSeconds()),
	}
}

// Register adds a periodic enqueue of className/args onto queue, running on
// spec (a six-field cron expression, see CronSpec). A per-tick marker key
// with a short TTL de-duplicates double-enqueues when more than one process
// runs the same schedule, the same hazard resque-scheduler's locking
// addresses for its own periodic jobs.
func (s *PeriodicScheduler) Register(key, spec, queue, className string, args Args) error {
	_, err := s.cron.AddFunc(spec, func() {
		tick := formatTimestamp(nowEpoch())
		marker := keyLastPeriodicEnqueue(s.ctx.Prefix, key) + ":" + tick
		acquired, err := s.ctx.KeyStore.SetNX(marker, tick, 55*time.Second)
		if err != nil {
			s.ctx.Logger.Error("periodic: dedup check failed", "key", key, "error", err)
			return
		}
		if !acquired {
			return
		}
		if _, _, err := s.queue.Enqueue(queue, className, args, false, ""); err != nil {
			s.ctx.Logger.Error("periodic: enqueue failed", "key", key, "error", err)
		}
	})
	if err != nil {
		return errors.Wrapf(err, "redjob: register periodic job %q", key)
	}
	return nil
}

// Start begins running registered periodic jobs in a background goroutine.
func (s *PeriodicScheduler) Start() { s.cron.Start() }

// Stop halts the scheduler, waiting for any in-flight tick to finish.
func (s *PeriodicScheduler) Stop() { <-s.cron.Stop().Done() }

// cronSpecParser shares the same "seconds enabled" field layout as the
// *cron.Cron PeriodicScheduler runs on, so a CronSpec can be validated
// against the exact grammar it will eventually be scheduled with, rather
// than against hand-rolled regexes that drift from what robfig/cron accepts.
var cronSpecParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronSpec is a fluent builder for the six-field "s m h dom month dow" cron
// expressions PeriodicScheduler.Register expects. Each field is held as its
// already-formatted cron token (a literal, "*", or an "n/interval" step) so
// String just joins them; Build goes one step further and hands the
// assembled expression to robfig/cron's own parser, catching anything a
// caller's Raw expression gets wrong before it ever reaches Register.
type CronSpec struct {
	second, minute, hour, dayOfMonth, month, dayOfWeek string
	err                                                error
	raw                                                 string
}

// WeekDay names a day of week for CronSpec.Weekly.
type WeekDay int

const (
	Sunday WeekDay = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

// NewCronSpec returns a spec matching every tick ("* * * * * *") until a
// builder method narrows it.
func NewCronSpec() *CronSpec {
	s := &CronSpec{}
	s.reset()
	return s
}

func (s *CronSpec) reset() {
	s.second, s.minute, s.hour, s.dayOfMonth, s.month, s.dayOfWeek = "*", "*", "*", "*", "*", "*"
	s.err = nil
	s.raw = ""
}

func (s *CronSpec) fail(format string, a ...interface{}) *CronSpec {
	s.err = errors.Errorf(format, a...)
	return s
}

// clockFields splits a colon-separated clock string into n integer
// components, validating each against max (a per-component ceiling: 23 for
// an hour component, 59 for minute/second) rather than matching the whole
// string against a fixed-width regex.
func clockFields(clock string, max ...int) ([]int, error) {
	parts := strings.Split(clock, ":")
	if len(parts) != len(max) {
		return nil, errors.Errorf("want %d colon-separated fields, got %q", len(max), clock)
	}
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > max[i] {
			return nil, errors.Errorf("field %q out of range 0-%d", p, max[i])
		}
		out[i] = n
	}
	return out, nil
}

// Minutely runs once a minute at second ss.
func (s *CronSpec) Minutely(ss string) *CronSpec {
	parts, err := clockFields(ss, 59)
	if err != nil {
		return s.fail("redjob: invalid minutely spec %q: %s", ss, err)
	}
	s.reset()
	s.second = strconv.Itoa(parts[0])
	return s
}

// Hourly runs once an hour at mm:ss.
func (s *CronSpec) Hourly(mmss string) *CronSpec {
	parts, err := clockFields(mmss, 59, 59)
	if err != nil {
		return s.fail("redjob: invalid hourly spec %q: %s", mmss, err)
	}
	s.reset()
	s.minute = strconv.Itoa(parts[0])
	s.second = strconv.Itoa(parts[1])
	return s
}

// Daily runs once a day at hh:mm:ss.
func (s *CronSpec) Daily(hhmmss string) *CronSpec {
	parts, err := clockFields(hhmmss, 23, 59, 59)
	if err != nil {
		return s.fail("redjob: invalid daily spec %q: %s", hhmmss, err)
	}
	s.reset()
	s.hour = strconv.Itoa(parts[0])
	s.minute = strconv.Itoa(parts[1])
	s.second = strconv.Itoa(parts[2])
	return s
}

// Weekly runs once a week, on day, at hh:mm:ss (default midnight).
func (s *CronSpec) Weekly(hhmmss string, day WeekDay) *CronSpec {
	if hhmmss == "" {
		hhmmss = "00:00:00"
	}
	s.Daily(hhmmss)
	if s.err != nil {
		return s
	}
	s.dayOfWeek = strconv.Itoa(int(day))
	return s
}

// Monthly runs once a month, on the given day (0-27), at hh:mm:ss.
func (s *CronSpec) Monthly(hhmmss string, day int) *CronSpec {
	if day < 0 || day > 27 {
		return s.fail("redjob: invalid day of month %d, want 0-27", day)
	}
	if hhmmss == "" {
		hhmmss = "00:00:00"
	}
	s.Daily(hhmmss)
	if s.err != nil {
		return s
	}
	s.dayOfMonth = strconv.Itoa(day)
	return s
}

// EverySeconds runs every n seconds.
func (s *CronSpec) EverySeconds(n int) *CronSpec {
	s.reset()
	s.second = stepToken(n)
	return s
}

// EveryMinutes runs every n minutes, at the second of the minute at which
// EveryMinutes is called.
func (s *CronSpec) EveryMinutes(n int) *CronSpec {
	s.reset()
	s.second = strconv.Itoa(time.Now().Second())
	s.minute = stepToken(n)
	return s
}

// EveryHours runs every n hours, anchored to the current minute:second.
func (s *CronSpec) EveryHours(n int) *CronSpec {
	s.reset()
	now := time.Now()
	s.second = strconv.Itoa(now.Second())
	s.minute = strconv.Itoa(now.Minute())
	s.hour = stepToken(n)
	return s
}

func stepToken(n int) string {
	if n <= 0 {
		return "*"
	}
	return fmt.Sprintf("*/%d", n)
}

// Raw bypasses the builder and uses expr verbatim as the six-field spec.
func (s *CronSpec) Raw(expr string) *CronSpec {
	s.reset()
	s.raw = expr
	return s
}

// String renders the spec as a six-field cron expression, or the empty
// string if the builder recorded an error (check Err first).
func (s *CronSpec) String() string {
	if s.err != nil {
		return ""
	}
	if s.raw != "" {
		return s.raw
	}
	return strings.Join([]string{s.second, s.minute, s.hour, s.dayOfMonth, s.month, s.dayOfWeek}, " ")
}

// Err returns the first validation error recorded by a builder method.
func (s *CronSpec) Err() error { return s.err }

// Build parses the assembled expression with robfig/cron's own parser,
// surfacing anything it rejects (an out-of-range step, a malformed Raw
// expression) before PeriodicScheduler.Register would otherwise discover it
// only when the schedule is actually added.
func (s *CronSpec) Build() (cron.Schedule, error) {
	if s.err != nil {
		return nil, s.err
	}
	expr := s.String()
	sched, err := cronSpecParser.Parse(expr)
	if err != nil {
		return nil, errors.Wrapf(err, "redjob: invalid cron expression %q", expr)
	}
	return sched, nil
}
