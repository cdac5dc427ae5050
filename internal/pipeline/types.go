// Package pipeline defines core types shared across subsystems.
package pipeline

import (
	"errors"
	"time"
)

// WorkItem is a unit of pending work pulled from the shared store.
type WorkItem struct {
	Key        string `json:"key"`
	RetryCount int    `json:"retry_count"`
}

// Record is a dynamically shaped product payload produced by the
// processing step. Field sets differ per retailer, so records stay
// schemaless here; the sanitizer owns field-level validation.
type Record map[string]any

// IdentityFunc extracts the dedup identity of a record. An empty
// return value marks the record as structurally invalid.
type IdentityFunc func(Record) string

// URLIdentity returns the product_url field, the identity used by the
// production seen-set.
func URLIdentity(r Record) string {
	v, ok := r["product_url"].(string)
	if !ok {
		return ""
	}
	return v
}

// Outcome is the per-item result of one processing attempt.
type Outcome int

// Processing outcomes decided by the worker state machine.
const (
	OutcomeSuccess Outcome = iota
	OutcomeRequeue
	OutcomeDeadLetter
)

// String returns the metrics label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRequeue:
		return "requeue"
	case OutcomeDeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// RequeueStats reports what Requeue did with a batch.
type RequeueStats struct {
	Requeued     int
	DeadLettered int
}

// FlushStatus is the terminal state of one Flush call.
type FlushStatus int

// Flush states. FlushNone means Add did not trigger a flush.
const (
	FlushNone FlushStatus = iota
	FlushSuccess
	FlushAbandoned
)

// String returns the metrics label for the flush status.
func (s FlushStatus) String() string {
	switch s {
	case FlushSuccess:
		return "success"
	case FlushAbandoned:
		return "abandoned"
	default:
		return "none"
	}
}

// FlushResult summarizes one flush, including how many records landed
// in each dedup partition and how many sink attempts were spent.
type FlushResult struct {
	Status      FlushStatus
	FirstSeen   int
	AlreadySeen int
	Attempts    int
}

// PartitionKind names the dedup partition a payload belongs to.
type PartitionKind string

// Partition kinds used for sink object naming.
const (
	PartitionFirstSeen   PartitionKind = "first_seen"
	PartitionAlreadySeen PartitionKind = "already_seen"
)

// NameFunc builds a sink object name for one partition payload. It must
// be a pure function of its inputs so an abandoned flush retries the
// same content under a deterministic scheme.
type NameFunc func(kind PartitionKind, now time.Time, contentHash string) string

// ErrBufferFull is returned by Add once the record buffer reaches its
// soft cap during a sustained sink outage. Callers should requeue the
// source item rather than drop the record.
var ErrBufferFull = errors.New("record buffer is full")

// FetchRequest captures everything needed to fetch a product page.
type FetchRequest struct {
	URL     string
	Headers map[string]string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}
