package coordinator

import (
	"time"

	"github.com/google/uuid"

	"github.com/umbral-exchange/umbral/pkg/mpc"
)

// Status is the lifecycle state of one tracked computation.
type Status string

const (
	// StatusQueued means the request is waiting for the pair's
	// computation slot (fifo queue policy only).
	StatusQueued Status = "queued"
	// StatusRequested means the request was dispatched to the cluster
	// and the finalize callback is outstanding.
	StatusRequested Status = "requested"
	// StatusApplied means the result was applied to public state.
	StatusApplied Status = "applied"
	// StatusRejected means the cluster reported a domain failure; no
	// state changed.
	StatusRejected Status = "rejected"
	// StatusTimedOut means no result arrived before the deadline. The
	// correlation id is burned: a late result for it is discarded.
	StatusTimedOut Status = "timed_out"
)

// Pending tracks one computation from request to terminal state.
type Pending struct {
	ID     uuid.UUID
	PairID uint64
	Kind   mpc.Kind
	Status Status
	Reason string // rejection or timeout detail

	RequestedAt time.Time
	Deadline    time.Time
	FinalizedAt time.Time
}

func (p *Pending) terminal() bool {
	switch p.Status {
	case StatusApplied, StatusRejected, StatusTimedOut:
		return true
	}
	return false
}
