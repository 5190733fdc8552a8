// Package recorder captures the transactions a harness run submits, and
// enriches them with confirmed chain detail in the background.
package recorder

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/veilpay-labs/veilpay-harness/pkg/pointer"
)

var (
	ErrNotFound = errors.New("record not found")
)

type Status uint8

const (
	// StatusSubmitted is a record for a confirmed submission that hasn't
	// been enriched with chain detail yet.
	StatusSubmitted Status = iota

	// StatusEnriched is a record whose chain detail has been filled in.
	StatusEnriched

	// StatusFailed is a record for a submission that failed. Failed records
	// are never enriched.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSubmitted:
		return "submitted"
	case StatusEnriched:
		return "enriched"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Record is a single submitted transaction observed during a run.
type Record struct {
	ID uuid.UUID

	Step      string
	Signature *string
	Status    Status

	// Relayer marks a submission made on the identity's behalf by a third
	// party.
	Relayer bool

	// Chain detail, populated by enrichment.
	Slot      *uint64
	Fee       *uint64
	BlockTime *time.Time

	// Failure detail, for failed submissions.
	FailureReason *string

	CreatedAt time.Time
}

type Store interface {
	// Put saves a new record.
	Put(ctx context.Context, record *Record) error

	// Update replaces the stored record with the same id.
	//
	// Returns ErrNotFound if no record exists.
	Update(ctx context.Context, record *Record) error

	// GetAll returns every record, ordered by creation time.
	GetAll(ctx context.Context) ([]*Record, error)

	// GetBySignature finds the record for a transaction signature.
	//
	// Returns ErrNotFound if no record exists.
	GetBySignature(ctx context.Context, signature string) (*Record, error)

	// GetPendingEnrichment returns up to limit records awaiting chain
	// detail.
	GetPendingEnrichment(ctx context.Context, limit int) ([]*Record, error)

	// Reset deletes all records.
	Reset(ctx context.Context) error
}

// Validate checks a record is well formed ahead of storage.
func (r *Record) Validate() error {
	if r == nil {
		return errors.New("record is nil")
	}
	if r.ID == uuid.Nil {
		return errors.New("id is required")
	}
	if len(r.Step) == 0 {
		return errors.New("step is required")
	}
	if r.Status != StatusFailed && (r.Signature == nil || len(*r.Signature) == 0) {
		return errors.New("signature is required")
	}
	return nil
}

// Clone returns a deep copy.
func (r *Record) Clone() Record {
	return Record{
		ID:            r.ID,
		Step:          r.Step,
		Signature:     pointer.StringCopy(r.Signature),
		Status:        r.Status,
		Relayer:       r.Relayer,
		Slot:          pointer.Uint64Copy(r.Slot),
		Fee:           pointer.Uint64Copy(r.Fee),
		BlockTime:     pointer.TimeCopy(r.BlockTime),
		FailureReason: pointer.StringCopy(r.FailureReason),
		CreatedAt:     r.CreatedAt,
	}
}

func (r *Record) CopyTo(dst *Record) {
	dst.ID = r.ID
	dst.Step = r.Step
	dst.Signature = pointer.StringCopy(r.Signature)
	dst.Status = r.Status
	dst.Relayer = r.Relayer
	dst.Slot = pointer.Uint64Copy(r.Slot)
	dst.Fee = pointer.Uint64Copy(r.Fee)
	dst.BlockTime = pointer.TimeCopy(r.BlockTime)
	dst.FailureReason = pointer.StringCopy(r.FailureReason)
	dst.CreatedAt = r.CreatedAt
}
