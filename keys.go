package redjob

import "fmt"

// keyPrefix normalizes a configured prefix so callers can append a bare
// key name, similar to redisNamespacePrefix.
func keyPrefix(prefix string) string {
	if prefix == "" {
		return ""
	}
	if prefix[len(prefix)-1] != ':' {
		return prefix + ":"
	}
	return prefix
}

func keyQueues(prefix string) string {
	return keyPrefix(prefix) + "queues"
}

func keyQueue(prefix, queue string) string {
	return keyPrefix(prefix) + "queue:" + queue
}

func keyQueuePaused(prefix, queue string) string {
	return keyQueue(prefix, queue) + ":paused"
}

func keyDelayedSchedule(prefix string) string {
	return keyPrefix(prefix) + "delayed_queue_schedule"
}

func keyDelayedAt(prefix string, ts int64) string {
	return fmt.Sprintf("%sdelayed:%d", keyPrefix(prefix), ts)
}

func keyWorkers(prefix string) string {
	return keyPrefix(prefix) + "workers"
}

func keyWorker(prefix, workerID string) string {
	return keyPrefix(prefix) + "worker:" + workerID
}

func keyWorkerStarted(prefix, workerID string) string {
	return keyWorker(prefix, workerID) + ":started"
}

func keyWorkerPoolHeartbeat(prefix, poolID string) string {
	return keyPrefix(prefix) + "pool:" + poolID
}

func keyWorkerPools(prefix string) string {
	return keyPrefix(prefix) + "pools"
}

func keyJobStatus(prefix, id string) string {
	return fmt.Sprintf("%sjob:%s:status", keyPrefix(prefix), id)
}

func keyJobPID(prefix, id string) string {
	return fmt.Sprintf("%sjob:%s:pid", keyPrefix(prefix), id)
}

func keyStat(prefix, name string) string {
	return keyPrefix(prefix) + "stat:" + name
}

func keyFailed(prefix string) string {
	return keyPrefix(prefix) + "failed"
}

func keyUniqueJob(prefix, queue, class string, argsJSON []byte) string {
	return fmt.Sprintf("%sunique:%s:%s:%s", keyPrefix(prefix), queue, class, argsJSON)
}

func keyReaperLock(prefix string) string {
	return keyPrefix(prefix) + "reaper_lock"
}

func keyLastPeriodicEnqueue(prefix, cronKey string) string {
	return keyPrefix(prefix) + "periodic:" + cronKey
}
