package redemption

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicate is reported by stores when a non-superseded record already
// exists for the (credential, holder) pair. The store, not the protocol, is
// the authority on this invariant.
var ErrDuplicate = errors.New("attendance already recorded for credential and holder")

// Record statuses.
const (
	RecordStatusPresent    = "present"
	RecordStatusSuperseded = "superseded"
)

// Record is the attendance record created on successful redemption.
type Record struct {
	ID             uuid.UUID
	CredentialID   string
	Holder         string
	DistanceMeters float64
	RecordedAt     time.Time
	Status         string
}

// Store persists attendance records. Append must be safe to retry: at most
// one non-superseded record may exist per (credential_id, holder) pair, and
// a duplicate attempt reports ErrDuplicate rather than inserting.
type Store interface {
	Append(ctx context.Context, record Record) (Record, error)
	ListByCredential(ctx context.Context, credentialID string) ([]Record, error)
}
