package redjob

import (
	"context"
	"encoding/json"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	heartbeatInterval = 5 * time.Second
	heartbeatTTL      = 60 * time.Second
	deadPoolTimeout   = 2 * heartbeatInterval
	reapPeriod        = 10 * time.Minute
	reapJitter        = 30 * time.Second
)

// Pool runs a fixed number of Workers concurrently against the same queue
// list, and maintains the pool-level heartbeat and dead-pool reaper that
// track which pools are alive and clean up after ones that vanish
// uncleanly.
type Pool struct {
	ctx   *Context
	queue *QueueEngine

	id     string
	queues []string
	count  int

	pollInterval time.Duration

	workers []*Worker

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPool returns a Pool that will run count Workers against queues.
func NewPool(ctx *Context, queue *QueueEngine, queues []string, count int, pollInterval time.Duration) *Pool {
	return &Pool{
		ctx:          ctx,
		queue:        queue,
		id:           makeIdentifier(),
		queues:       queues,
		count:        count,
		pollInterval: pollInterval,
		stopChan:     make(chan struct{}),
	}
}

// ID returns this pool's identity, used as the heartbeat and dead-pool key.
func (p *Pool) ID() string { return p.id }

// Run starts count Workers plus the pool heartbeat and dead-pool reaper,
// blocking until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	for i := 0; i < p.count; i++ {
		w, err := NewWorker(p.ctx, p.queue, p.queues, p.pollInterval)
		if err != nil {
			return err
		}
		p.workers = append(p.workers, w)
	}

	p.wg.Add(len(p.workers))
	for _, w := range p.workers {
		w := w
		go func() {
			defer p.wg.Done()
			if err := w.Run(ctx); err != nil {
				p.ctx.Logger.Error("pool: worker exited with error", "pool", p.id, "worker", w.ID(), "error", err)
			}
		}()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.heartbeatLoop(ctx)
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reapLoop(ctx)
	}()

	<-ctx.Done()
	p.wg.Wait()
	p.removeHeartbeat()
	return nil
}

// Stop requests every worker to finish its current job and exit.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.Stop()
	}
}

func (p *Pool) heartbeatLoop(ctx context.Context) {
	p.heartbeat()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.heartbeat()
		}
	}
}

func (p *Pool) heartbeat() {
	jobNames := p.workerIDs()
	sort.Strings(jobNames)

	if err := p.ctx.KeyStore.SAdd(keyWorkerPools(p.ctx.Prefix), p.id); err != nil {
		p.ctx.Logger.Error("pool: heartbeat sadd failed", "pool", p.id, "error", err)
	}

	key := keyWorkerPoolHeartbeat(p.ctx.Prefix, p.id)
	if err := p.ctx.KeyStore.HSet(key, "heartbeat_at", formatTimestamp(nowEpoch())); err != nil {
		p.ctx.Logger.Error("pool: heartbeat hset failed", "pool", p.id, "error", err)
		return
	}
	_ = p.ctx.KeyStore.HSet(key, "worker_count", formatTimestamp(int64(p.count)))
	_ = p.ctx.KeyStore.HSet(key, "queues", strings.Join(p.queues, ","))
	_ = p.ctx.KeyStore.HSet(key, "worker_ids", strings.Join(jobNames, ","))
	if err := p.ctx.KeyStore.Expire(key, heartbeatTTL); err != nil {
		p.ctx.Logger.Error("pool: heartbeat expire failed", "pool", p.id, "error", err)
	}
}

func (p *Pool) removeHeartbeat() {
	if err := p.ctx.KeyStore.SRem(keyWorkerPools(p.ctx.Prefix), p.id); err != nil {
		p.ctx.Logger.Error("pool: remove heartbeat srem failed", "pool", p.id, "error", err)
	}
	if err := p.ctx.KeyStore.Del(keyWorkerPoolHeartbeat(p.ctx.Prefix, p.id)); err != nil {
		p.ctx.Logger.Error("pool: remove heartbeat del failed", "pool", p.id, "error", err)
	}
}

func (p *Pool) workerIDs() []string {
	ids := make([]string, 0, len(p.workers))
	for _, w := range p.workers {
		ids = append(ids, w.ID())
	}
	return ids
}

// reapLoop periodically clears worker-pool registrations whose heartbeat
// has gone stale (the pool crashed without deregistering), guarded by a
// SETNX lock so only one reaper in a fleet runs at a time, mirroring the
// teacher's deadPoolReaper.
func (p *Pool) reapLoop(ctx context.Context) {
	timer := time.NewTimer(deadPoolTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			timer.Reset(reapPeriod + time.Duration(rand.Int63n(int64(reapJitter))))
			if err := p.reap(); err != nil {
				p.ctx.Logger.Error("pool: reap failed", "pool", p.id, "error", err)
			}
		}
	}
}

func (p *Pool) reap() error {
	lockKey := keyReaperLock(p.ctx.Prefix)
	acquired, err := p.ctx.KeyStore.SetNX(lockKey, p.id, reapPeriod)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer func() {
		if err := p.ctx.KeyStore.Del(lockKey); err != nil {
			p.ctx.Logger.Error("pool: release reaper lock failed", "pool", p.id, "error", err)
		}
	}()

	poolIDs, err := p.ctx.KeyStore.SMembers(keyWorkerPools(p.ctx.Prefix))
	if err != nil {
		return err
	}

	for _, poolID := range poolIDs {
		fields, err := p.ctx.KeyStore.HGetAll(keyWorkerPoolHeartbeat(p.ctx.Prefix, poolID))
		if err != nil {
			return err
		}
		if len(fields) > 0 {
			continue // heartbeat key still present and unexpired: pool is alive
		}
		if err := p.ctx.KeyStore.SRem(keyWorkerPools(p.ctx.Prefix), poolID); err != nil {
			return err
		}
	}

	return p.reapOrphanedJobs()
}

// reapOrphanedJobs finds job:<id>:pid keys whose pid no longer answers to a
// signal 0 liveness probe: the worker that started that job died (or its
// child was killed out from under it) without clearing the key itself. Such
// a job's status is left RUNNING forever and never reaches the Failure sink
// unless something notices, so the reaper routes it through Failures.Record
// and the failed-job stat counter and drops the stale pid key.
func (p *Pool) reapOrphanedJobs() error {
	keys, err := p.ctx.KeyStore.Keys(keyJobPID(p.ctx.Prefix, "*"))
	if err != nil {
		return err
	}

	for _, key := range keys {
		raw, ok, err := p.ctx.KeyStore.Get(key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		var rec jobPIDRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		if processAlive(rec.PID) {
			continue
		}

		id := jobIDFromPIDKey(p.ctx.Prefix, key)
		if id != "" {
			env := NewEnvelope("", nil, id, p.ctx.Prefix)
			failErr := &DirtyExitError{ExitCode: -1}
			if err := p.ctx.Failures.Record(env, failErr, rec.WorkerID, rec.Queue); err != nil {
				p.ctx.Logger.Error("pool: record orphaned job failure failed", "pool", p.id, "error", err)
			}
			if rec.WorkerID != "" {
				if err := p.ctx.Stats.IncrFailed(rec.WorkerID); err != nil {
					p.ctx.Logger.Error("pool: incr failed stat failed", "pool", p.id, "error", err)
				}
			}
			_ = p.ctx.Status.Update(id, StateFailed, nil)
		}
		if err := p.ctx.KeyStore.Del(key); err != nil {
			return err
		}
	}
	return nil
}

// processAlive probes pid with signal 0, which delivers no signal but still
// reports ESRCH if the process doesn't exist.
func processAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

func jobIDFromPIDKey(prefix, key string) string {
	p := keyPrefix(prefix) + "job:"
	suffix := ":pid"
	if !strings.HasPrefix(key, p) || !strings.HasSuffix(key, suffix) {
		return ""
	}
	return key[len(p) : len(key)-len(suffix)]
}
