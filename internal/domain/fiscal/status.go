package fiscal

import "slices"

// Status is the lifecycle state of a fiscal document.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusAuthorized Status = "authorized"
	StatusRejected   Status = "rejected"
	StatusCancelled  Status = "cancelled"
)

// transitions lists every legal move. pending -> pending re-queues a document
// after a failed contingency retransmission.
var transitions = map[Status][]Status{
	StatusPending:    {StatusPending, StatusProcessing, StatusAuthorized, StatusRejected},
	StatusProcessing: {StatusAuthorized, StatusRejected},
	StatusAuthorized: {StatusCancelled},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusAuthorized, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCancelled
}

// CanTransition reports whether a document may move from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}
