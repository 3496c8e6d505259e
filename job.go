package redjob

import "encoding/json"

// Args is the optional named-argument mapping carried by a job envelope.
// A nil Args marshals as JSON null.
type Args map[string]interface{}

// Envelope is the job descriptor pushed onto a primary queue list.
// Field order matches the field listing below and is also what makes
// encoding/json's struct marshaling deterministic, which the delayed
// scheduler relies on for byte-equality removal of the narrower
// DelayedEnvelope shape below.
type Envelope struct {
	Args      [1]Args `json:"args"`
	Class     string  `json:"class"`
	ID        string  `json:"id,omitempty"`
	Prefix    string  `json:"prefix,omitempty"`
	QueueTime float64 `json:"queue_time,omitempty"`
}

// NewEnvelope builds an Envelope with queue_time stamped at the current
// clock value.
func NewEnvelope(class string, args Args, id, prefix string) *Envelope {
	return &Envelope{
		Args:      [1]Args{args},
		Class:     class,
		ID:        id,
		Prefix:    prefix,
		QueueTime: nowEpochSeconds(),
	}
}

// Serialize renders the canonical JSON used both to store the envelope and,
// for a DelayedEnvelope, to compare it byte-for-byte during removal.
func (e *Envelope) Serialize() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEnvelope decodes a raw queue entry.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// DelayedEnvelope is the shape stored in delayed:<ts> lists and used for
// removeDelayed's byte-equality matching. Field order (args, class, queue)
// is exactly the struct's declaration order.
type DelayedEnvelope struct {
	Args  [1]Args `json:"args"`
	Class string  `json:"class"`
	Queue string  `json:"queue"`
}

// NewDelayedEnvelope builds the canonical delayed-entry shape for
// (queue, class, args), used both to enqueue and to match for removal.
func NewDelayedEnvelope(queue, class string, args Args) *DelayedEnvelope {
	return &DelayedEnvelope{
		Args:  [1]Args{args},
		Class: class,
		Queue: queue,
	}
}

func (e *DelayedEnvelope) Serialize() ([]byte, error) {
	return json.Marshal(e)
}

// ParseDelayedEnvelope decodes a raw delayed:<ts> list entry.
func ParseDelayedEnvelope(raw []byte) (*DelayedEnvelope, error) {
	var e DelayedEnvelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// argsValue returns the envelope's argument mapping, or nil if it was null.
func (e *Envelope) argsValue() Args { return e.Args[0] }
