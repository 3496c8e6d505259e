package redjob

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Client is a read-only introspection handle over queues, workers, pool
// heartbeats, delayed jobs, and failures.
type Client struct {
	ctx   *Context
	queue *QueueEngine
}

// NewClient returns an introspection Client sharing ctx's KeyStore.
func NewClient(ctx *Context, queue *QueueEngine) *Client {
	return &Client{ctx: ctx, queue: queue}
}

// QueueInfo is one row of Queues(): a queue's name, backlog size, and the
// age of its oldest waiting job (zero if the queue is empty).
type QueueInfo struct {
	Name          string
	Size          int64
	OldestWaitFor time.Duration
}

// Queues lists every known queue with its current backlog and head-of-queue
// latency, sorted by name.
func (c *Client) Queues() ([]QueueInfo, error) {
	names, err := c.queue.Queues()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]QueueInfo, 0, len(names))
	for _, name := range names {
		size, err := c.queue.Size(name)
		if err != nil {
			return nil, err
		}
		info := QueueInfo{Name: name, Size: size}
		if head, ok, err := c.queue.PeekHead(name); err != nil {
			return nil, err
		} else if ok {
			info.OldestWaitFor = time.Duration(nowEpochSeconds()-head.QueueTime) * time.Second
		}
		out = append(out, info)
	}
	return out, nil
}

// Workers lists every worker currently registered under keyWorkers.
func (c *Client) Workers() ([]string, error) {
	ids, err := c.ctx.KeyStore.SMembers(keyWorkers(c.ctx.Prefix))
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// WorkerObservation is a snapshot of one registered worker: when it started,
// which queues it watches, and whether it is currently busy on a job.
type WorkerObservation struct {
	WorkerID     string
	Queues       []string
	StartedAt    int64
	Busy         bool
	Queue        string
	Job          *Envelope
	JobStartedAt int64
}

// WorkerObservations lists every registered worker along with its current
// busy/idle state and in-flight job, read from each worker's "working on"
// record (worker:<id>).
func (c *Client) WorkerObservations() ([]WorkerObservation, error) {
	ids, err := c.ctx.KeyStore.SMembers(keyWorkers(c.ctx.Prefix))
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	out := make([]WorkerObservation, 0, len(ids))
	for _, id := range ids {
		obs := WorkerObservation{WorkerID: id}
		if _, _, queues, ok := parseWorkerIdentity(id); ok {
			obs.Queues = queues
		}
		if raw, ok, err := c.ctx.KeyStore.Get(keyWorkerStarted(c.ctx.Prefix, id)); err == nil && ok {
			obs.StartedAt, _ = parseTimestamp(raw)
		}

		fields, err := c.ctx.KeyStore.HGetAll(keyWorker(c.ctx.Prefix, id))
		if err != nil {
			return nil, err
		}
		if payload, ok := fields["payload"]; ok && payload != "" {
			if env, perr := ParseEnvelope([]byte(payload)); perr == nil {
				obs.Busy = true
				obs.Queue = fields["queue"]
				obs.Job = env
				if started, ok := fields["started_at"]; ok {
					obs.JobStartedAt, _ = parseTimestamp(started)
				}
			}
		}
		out = append(out, obs)
	}
	return out, nil
}

// PoolHeartbeat is a worker pool's last-seen liveness record.
type PoolHeartbeat struct {
	PoolID      string
	HeartbeatAt int64
	WorkerCount int
	Queues      []string
	WorkerIDs   []string
}

// PoolHeartbeats lists every worker pool registered under keyWorkerPools,
// along with its most recent heartbeat fields.
func (c *Client) PoolHeartbeats() ([]PoolHeartbeat, error) {
	poolIDs, err := c.ctx.KeyStore.SMembers(keyWorkerPools(c.ctx.Prefix))
	if err != nil {
		return nil, err
	}
	sort.Strings(poolIDs)

	out := make([]PoolHeartbeat, 0, len(poolIDs))
	for _, id := range poolIDs {
		fields, err := c.ctx.KeyStore.HGetAll(keyWorkerPoolHeartbeat(c.ctx.Prefix, id))
		if err != nil {
			return nil, err
		}
		hb := PoolHeartbeat{PoolID: id}
		if v, ok := fields["heartbeat_at"]; ok {
			hb.HeartbeatAt, _ = strconv.ParseInt(v, 10, 64)
		}
		if v, ok := fields["worker_count"]; ok {
			n, _ := strconv.ParseInt(v, 10, 64)
			hb.WorkerCount = int(n)
		}
		if v, ok := fields["queues"]; ok && v != "" {
			hb.Queues = strings.Split(v, ",")
		}
		if v, ok := fields["worker_ids"]; ok && v != "" {
			hb.WorkerIDs = strings.Split(v, ",")
		}
		out = append(out, hb)
	}
	return out, nil
}

// DelayedJobs returns every (timestamp, envelope) pair still pending in the
// delayed schedule, ordered by timestamp then insertion order.
func (c *Client) DelayedJobs() ([]struct {
	Timestamp int64
	Job       *DelayedEnvelope
}, error) {
	timestamps, err := c.ctx.KeyStore.ZRangeByScore(keyDelayedSchedule(c.ctx.Prefix), negInf, posInf, 0, 1<<30)
	if err != nil {
		return nil, err
	}

	var out []struct {
		Timestamp int64
		Job       *DelayedEnvelope
	}
	for _, tsStr := range timestamps {
		ts, err := parseTimestamp(tsStr)
		if err != nil {
			continue
		}
		rows, err := c.ctx.KeyStore.ListRange(keyDelayedAt(c.ctx.Prefix, ts), 0, -1)
		if err != nil {
			return nil, err
		}
		for _, raw := range rows {
			env, err := ParseDelayedEnvelope(raw)
			if err != nil {
				continue
			}
			out = append(out, struct {
				Timestamp int64
				Job       *DelayedEnvelope
			}{Timestamp: ts, Job: env})
		}
	}
	return out, nil
}

// FailedJobs returns every failureRecord currently in the failed list, most
// recently appended last.
func (c *Client) FailedJobs() ([][]byte, error) {
	return c.ctx.KeyStore.ListRange(keyFailed(c.ctx.Prefix), 0, -1)
}
