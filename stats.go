package redjob

import "strconv"

// StatCounter maintains monotone integer counters keyed by name, backed by
// KeyStore.
type StatCounter struct {
	store  KeyStore
	prefix string
	sink   MetricsSink // optional, see metrics.go
}

// NewStatCounter returns a counter backed by store.
func NewStatCounter(store KeyStore, prefix string) *StatCounter {
	return &StatCounter{store: store, prefix: prefix}
}

// Incr increments stat:<name> and returns the new value.
func (c *StatCounter) Incr(name string) (int64, error) {
	n, err := c.store.Incr(keyStat(c.prefix, name))
	if err != nil {
		return 0, err
	}
	if c.sink != nil {
		c.sink.Gauge(name, float64(n))
	}
	return n, nil
}

// Get reads the current value of stat:<name>, or 0 if unset.
func (c *StatCounter) Get(name string) (int64, error) {
	v, ok, err := c.store.Get(keyStat(c.prefix, name))
	if err != nil || !ok {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

// IncrProcessed increments both the global and per-worker processed counters.
func (c *StatCounter) IncrProcessed(workerID string) error {
	if _, err := c.Incr("processed"); err != nil {
		return err
	}
	_, err := c.Incr("processed:" + workerID)
	return err
}

// IncrFailed increments both the global and per-worker failed counters. The
// per-worker key uses the stable worker-id string as the "worker" in
// stat:failed:<worker>.
func (c *StatCounter) IncrFailed(workerID string) error {
	if _, err := c.Incr("failed"); err != nil {
		return err
	}
	_, err := c.Incr("failed:" + workerID)
	return err
}
