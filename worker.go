package redjob

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// jobPIDRecord is the value stored at job:<id>:pid while a job's child is
// alive, so a reaper can attribute an orphaned job back to the worker and
// queue that started it.
type jobPIDRecord struct {
	PID      int    `json:"pid"`
	WorkerID string `json:"worker_id"`
	Queue    string `json:"queue"`
}

// Worker reserves jobs from a fixed queue list and runs each one in a
// freshly spawned child process. One Worker owns exactly one
// such child at a time; Pool is what runs several Workers concurrently.
type Worker struct {
	ctx   *Context
	queue *QueueEngine
	id    string

	queues       []string
	pollInterval time.Duration

	runner *childRunner

	mu           sync.Mutex
	currentEnv   *Envelope
	currentQueue string

	stopChan chan struct{}
	doneChan chan struct{}
	paused   atomic.Bool
}

// NewWorker returns a Worker that reserves from queues, polling with
// BlockingPop at pollInterval when idle.
func NewWorker(ctx *Context, queue *QueueEngine, queues []string, pollInterval time.Duration) (*Worker, error) {
	runner, err := newChildRunner()
	if err != nil {
		return nil, err
	}
	return &Worker{
		ctx:          ctx,
		queue:        queue,
		id:           workerIdentity(queues),
		queues:       queues,
		pollInterval: pollInterval,
		runner:       runner,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}, nil
}

// ID returns this worker's registry identity (host:pid:queues).
func (w *Worker) ID() string { return w.id }

// Run registers the worker, installs the signal handling, prunes any
// orphaned workers left behind on this host, and blocks in the reservation
// loop until ctx is cancelled or Stop is called.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.register(); err != nil {
		return err
	}
	defer w.unregister()

	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh,
		syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT,
		syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGCONT,
	)
	defer signal.Stop(sigCh)

	go w.handleSignals(sigCh)

	if err := w.pruneOrphans(); err != nil {
		w.ctx.Logger.Error("worker: prune orphans failed", "worker", w.id, "error", err)
	}
	w.ctx.Events.Emit(EventBeforeFirstFork, w.queues)

	defer close(w.doneChan)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stopChan:
			return nil
		default:
		}

		if w.paused.Load() {
			select {
			case <-ctx.Done():
				return nil
			case <-w.stopChan:
				return nil
			case <-time.After(w.pollInterval):
			}
			continue
		}

		w.ctx.Events.Emit(EventBeforeReserve, w.queues)
		queue, env, ok, err := w.queue.BlockingPop(w.queues, w.pollInterval)
		w.ctx.Events.Emit(EventAfterReserve, w.queues, ok)
		if err != nil {
			w.ctx.Logger.Error("worker: reserve failed", "worker", w.id, "error", err)
			continue
		}
		if !ok {
			continue
		}

		w.performAndRecord(queue, env)
	}
}

// Stop requests a graceful shutdown: the loop finishes its current job (if
// any) and returns from Run.
func (w *Worker) Stop() {
	close(w.stopChan)
	<-w.doneChan
}

// Pause stops reservation without exiting the loop; Unpause resumes it,
// matching USR2/CONT in the signal table.
func (w *Worker) Pause()   { w.paused.Store(true) }
func (w *Worker) Unpause() { w.paused.Store(false) }

func (w *Worker) handleSignals(sigCh <-chan os.Signal) {
	for sig := range sigCh {
		switch sig {
		case syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT:
			w.ctx.Logger.Info("worker: shutdown signal received", "worker", w.id, "signal", sig.String())
			select {
			case <-w.stopChan:
			default:
				close(w.stopChan)
			}
			return
		case syscall.SIGUSR2:
			w.ctx.Logger.Info("worker: pausing", "worker", w.id)
			w.Pause()
		case syscall.SIGCONT:
			w.ctx.Logger.Info("worker: resuming", "worker", w.id)
			w.Unpause()
		case syscall.SIGUSR1:
			if w.runner.kill() {
				w.ctx.Logger.Warn("worker: USR1 received, force-killed current child", "worker", w.id)
			} else {
				w.ctx.Logger.Warn("worker: USR1 received, no child currently running", "worker", w.id)
			}
		}
	}
}

func (w *Worker) performAndRecord(queue string, env *Envelope) {
	if v := w.ctx.Events.Emit(EventBeforePerform, env, queue); v != VetoNone {
		return
	}

	if env.ID != "" {
		_ = w.ctx.Status.Update(env.ID, StateRunning, nil)
	}

	if err := w.setWorkingOn(env, queue); err != nil {
		w.ctx.Logger.Error("worker: set working-on record failed", "worker", w.id, "error", err)
	}
	w.setCurrent(env, queue)

	w.ctx.Events.Emit(EventBeforeFork, env, queue)
	failErr := w.perform(env, queue)
	w.ctx.Events.Emit(EventAfterFork, env, queue)

	w.clearCurrent()
	if err := w.clearWorkingOn(); err != nil {
		w.ctx.Logger.Error("worker: clear working-on record failed", "worker", w.id, "error", err)
	}

	w.ctx.Events.Emit(EventAfterPerform, env, queue, failErr)

	if failErr != nil {
		w.ctx.Events.Emit(EventOnFailure, env, queue, failErr)
		if err := w.ctx.Failures.Record(env, failErr, w.id, queue); err != nil {
			w.ctx.Logger.Error("worker: failure sink record failed", "worker", w.id, "error", err)
		}
		if err := w.ctx.Stats.IncrFailed(w.id); err != nil {
			w.ctx.Logger.Error("worker: stat incr failed", "worker", w.id, "error", err)
		}
		if env.ID != "" {
			_ = w.ctx.Status.Update(env.ID, StateFailed, nil)
		}
		return
	}

	if err := w.ctx.Stats.IncrProcessed(w.id); err != nil {
		w.ctx.Logger.Error("worker: stat incr failed", "worker", w.id, "error", err)
	}
	if env.ID != "" {
		_ = w.ctx.Status.Update(env.ID, StateComplete, nil)
	}
}

func (w *Worker) setCurrent(env *Envelope, queue string) {
	w.mu.Lock()
	w.currentEnv = env
	w.currentQueue = queue
	w.mu.Unlock()
}

func (w *Worker) clearCurrent() {
	w.mu.Lock()
	w.currentEnv = nil
	w.currentQueue = ""
	w.mu.Unlock()
}

// perform runs one job to completion in a child process, recording
// job:<id>:pid while the child is alive so a reaper can detect orphaned
// jobs left behind by a worker that died mid-job.
func (w *Worker) perform(env *Envelope, queue string) error {
	var pidKey string
	if env.ID != "" {
		pidKey = keyJobPID(w.ctx.Prefix, env.ID)
	}

	err := w.runner.perform(env, queue, func(pid int) {
		if pidKey == "" {
			return
		}
		raw, merr := json.Marshal(&jobPIDRecord{PID: pid, WorkerID: w.id, Queue: queue})
		if merr != nil {
			w.ctx.Logger.Error("worker: marshal job pid record failed", "worker", w.id, "error", merr)
			return
		}
		if err := w.ctx.KeyStore.Set(pidKey, string(raw), 10*time.Minute); err != nil {
			w.ctx.Logger.Error("worker: record job pid failed", "worker", w.id, "error", err)
		}
	})

	if pidKey != "" {
		if derr := w.ctx.KeyStore.Del(pidKey); derr != nil {
			w.ctx.Logger.Error("worker: clear job pid failed", "worker", w.id, "error", derr)
		}
	}
	return err
}

// setWorkingOn records queue/payload/started-at for the job now in flight,
// so an orphan pruning pass can attribute a dead worker's abandoned job.
func (w *Worker) setWorkingOn(env *Envelope, queue string) error {
	raw, err := env.Serialize()
	if err != nil {
		return err
	}
	key := keyWorker(w.ctx.Prefix, w.id)
	if err := w.ctx.KeyStore.HSet(key, "queue", queue); err != nil {
		return err
	}
	if err := w.ctx.KeyStore.HSet(key, "payload", string(raw)); err != nil {
		return err
	}
	return w.ctx.KeyStore.HSet(key, "started_at", formatTimestamp(nowEpoch()))
}

func (w *Worker) clearWorkingOn() error {
	return w.ctx.KeyStore.Del(keyWorker(w.ctx.Prefix, w.id))
}

func (w *Worker) register() error {
	if err := w.ctx.KeyStore.SAdd(keyWorkers(w.ctx.Prefix), w.id); err != nil {
		return err
	}
	return w.ctx.KeyStore.Set(keyWorkerStarted(w.ctx.Prefix, w.id), formatTimestamp(nowEpoch()), 0)
}

func (w *Worker) unregister() {
	if err := w.ctx.KeyStore.SRem(keyWorkers(w.ctx.Prefix), w.id); err != nil {
		w.ctx.Logger.Error("worker: unregister failed", "worker", w.id, "error", err)
	}
	if err := w.ctx.KeyStore.Del(keyWorkerStarted(w.ctx.Prefix, w.id)); err != nil {
		w.ctx.Logger.Error("worker: clear start time failed", "worker", w.id, "error", err)
	}
	if err := w.clearWorkingOn(); err != nil {
		w.ctx.Logger.Error("worker: clear working-on record failed", "worker", w.id, "error", err)
	}
}

// pruneOrphans scans the worker registry for entries on this host whose pid
// is no longer alive, routes any "working on" job they left behind to the
// Failure sink as a DirtyExitError, and unregisters them. Only same-host
// entries are examined since pid liveness can only be checked locally.
func (w *Worker) pruneOrphans() error {
	host := currentHost()

	ids, err := w.ctx.KeyStore.SMembers(keyWorkers(w.ctx.Prefix))
	if err != nil {
		return err
	}

	for _, id := range ids {
		if id == w.id {
			continue
		}
		otherHost, pid, _, ok := parseWorkerIdentity(id)
		if !ok || otherHost != host || processAlive(pid) {
			continue
		}

		fields, err := w.ctx.KeyStore.HGetAll(keyWorker(w.ctx.Prefix, id))
		if err != nil {
			return err
		}
		if payload, ok := fields["payload"]; ok && payload != "" {
			if env, perr := ParseEnvelope([]byte(payload)); perr == nil {
				failErr := &DirtyExitError{ExitCode: -1}
				if err := w.ctx.Failures.Record(env, failErr, id, fields["queue"]); err != nil {
					w.ctx.Logger.Error("worker: record orphaned job failure failed", "worker", w.id, "error", err)
				}
				if err := w.ctx.Stats.IncrFailed(id); err != nil {
					w.ctx.Logger.Error("worker: incr failed stat failed", "worker", w.id, "error", err)
				}
				if env.ID != "" {
					_ = w.ctx.Status.Update(env.ID, StateFailed, nil)
				}
			}
		}

		if err := w.ctx.KeyStore.Del(keyWorker(w.ctx.Prefix, id)); err != nil {
			w.ctx.Logger.Error("worker: clear orphan working-on record failed", "worker", w.id, "error", err)
		}
		if err := w.ctx.KeyStore.SRem(keyWorkers(w.ctx.Prefix), id); err != nil {
			w.ctx.Logger.Error("worker: unregister orphan failed", "worker", w.id, "error", err)
		}
		if err := w.ctx.KeyStore.Del(keyWorkerStarted(w.ctx.Prefix, id)); err != nil {
			w.ctx.Logger.Error("worker: clear orphan start time failed", "worker", w.id, "error", err)
		}
	}
	return nil
}
