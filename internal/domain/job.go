package domain

import "github.com/google/uuid"

// JobKind distinguishes the two job variants the matching engine consumes
// (spec.md §3).
type JobKind string

const (
	JobSubmit JobKind = "submit"
	JobCancel JobKind = "cancel"
)

// Job is a durable, FIFO-consumed unit of work for the matching engine.
// Submit carries the full persisted order snapshot; Cancel carries only
// the order id.
type Job struct {
	Kind    JobKind   `json:"kind"`
	Order   *Order    `json:"order,omitempty"`
	OrderID uuid.UUID `json:"order_id,omitempty"`
}
