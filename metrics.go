package redjob

import (
	"fmt"
	"time"

	"github.com/gocraft/health"
)

// MetricsSink is the optional metrics capability StatCounter reports
// through, backed by gocraft/health.
type MetricsSink interface {
	Gauge(name string, value float64)
}

// HealthMetricsSink adapts a *health.Stream job into a MetricsSink,
// similar to health/queue.go QueueReporter.
type HealthMetricsSink struct {
	job *health.Job
}

// NewHealthMetricsSink wraps a health.Stream's job-scoped reporter.
func NewHealthMetricsSink(stream *health.Stream, jobName string) *HealthMetricsSink {
	return &HealthMetricsSink{job: stream.NewJob(jobName)}
}

func (s *HealthMetricsSink) Gauge(name string, value float64) {
	s.job.Gauge(name, value)
}

// SetSink attaches a MetricsSink to c; subsequent Incr calls also report a
// gauge through it.
func (c *StatCounter) SetSink(sink MetricsSink) {
	c.sink = sink
}

// QueueLatencyReporter periodically reports per-queue backlog size and
// head-of-queue latency through a job on a health.Stream, the redjob
// analogue of the teacher's health.QueueReporter.
type QueueLatencyReporter struct {
	client *Client
	stream *health.Stream
	job    *health.Job

	stopChan chan struct{}
}

// NewQueueLatencyReporter returns a reporter that reports to stream; Start
// sets its tick interval.
func NewQueueLatencyReporter(client *Client, stream *health.Stream) *QueueLatencyReporter {
	return &QueueLatencyReporter{
		client:   client,
		stream:   stream,
		job:      stream.NewJob("redjob.queue_reporter"),
		stopChan: make(chan struct{}),
	}
}

// Start begins the report loop in a background goroutine.
func (r *QueueLatencyReporter) Start(interval time.Duration) {
	go func() {
		for {
			select {
			case <-r.stopChan:
				return
			case <-time.After(interval):
				r.report()
			}
		}
	}()
}

// Stop ends the report loop.
func (r *QueueLatencyReporter) Stop() { close(r.stopChan) }

func (r *QueueLatencyReporter) report() {
	r.job.EventKv("queue_report", health.Kvs{})
	queues, err := r.client.Queues()
	if err != nil {
		r.job.EventErr("queue_report.list", err)
		return
	}
	for _, q := range queues {
		r.job.Gauge(fmt.Sprintf("redjob.queue.%s.size", q.Name), float64(q.Size))
		r.job.Timing(fmt.Sprintf("redjob.queue.%s.latency", q.Name), q.OldestWaitFor.Nanoseconds())
	}
}
