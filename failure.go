package redjob

import (
	"encoding/json"
)

// FailureSink records failed-job envelopes. It is pluggable;
// the concrete backend is process-wide configuration and gets one
// instantiation per failure at the call site that needs it.
type FailureSink interface {
	Record(payload *Envelope, failErr error, workerID, queue string) error
}

// failureRecord is the JSON envelope written to the failed list.
type failureRecord struct {
	Payload  *Envelope `json:"payload"`
	ErrKind  string    `json:"error_kind"`
	ErrMsg   string    `json:"error_message"`
	Backtrace []string `json:"backtrace,omitempty"`
	WorkerID string    `json:"worker_id"`
	Queue    string    `json:"queue"`
	FailedAt int64     `json:"failed_at"`
}

// RedisFailureSink is the default backend: one JSON envelope per failure,
// appended to the `failed` list.
type RedisFailureSink struct {
	store  KeyStore
	prefix string
}

// NewRedisFailureSink returns the default Redis-list-backed FailureSink.
func NewRedisFailureSink(store KeyStore, prefix string) *RedisFailureSink {
	return &RedisFailureSink{store: store, prefix: prefix}
}

func (s *RedisFailureSink) Record(payload *Envelope, failErr error, workerID, queue string) error {
	rec := failureRecord{
		Payload:  payload,
		ErrKind:  errorKind(failErr),
		ErrMsg:   failErr.Error(),
		WorkerID: workerID,
		Queue:    queue,
		FailedAt: nowEpoch(),
	}
	if he, ok := failErr.(*HandlerError); ok {
		for _, fr := range he.Stack {
			rec.Backtrace = append(rec.Backtrace, fr.Method)
		}
	}

	raw, err := json.Marshal(&rec)
	if err != nil {
		return err
	}
	return s.store.ListPushTail(keyFailed(s.prefix), raw)
}

// errorKind labels a failure by its error type for the failure record.
// Panics and errors returned by SetUp/Perform/TearDown both arrive as a
// HandlerError and get the same label; a child that exited without
// reporting is labelled DirtyExit.
func errorKind(err error) string {
	switch err.(type) {
	case *DirtyExitError:
		return "DirtyExit"
	case *HandlerError:
		return "HandlerError"
	case *JobResolutionError:
		return "JobResolutionError"
	default:
		return "Error"
	}
}

