package identity

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("identity not found")
)

// Record is a stored identity keypair.
type Record struct {
	Label      string
	PrivateKey string // base58

	CreatedAt time.Time
}

type Store interface {
	// Put saves an identity record, replacing any existing record with the
	// same label.
	Put(ctx context.Context, record *Record) error

	// Get finds the record for a label.
	//
	// Returns ErrNotFound if no record exists.
	Get(ctx context.Context, label string) (*Record, error)

	// Reset deletes all records.
	Reset(ctx context.Context) error
}

// Validate checks a record is well formed ahead of storage.
func (r *Record) Validate() error {
	if r == nil {
		return errors.New("record is nil")
	}
	if len(r.Label) == 0 {
		return errors.New("label is required")
	}
	if len(r.PrivateKey) == 0 {
		return errors.New("private key is required")
	}
	return nil
}

// Clone returns a deep copy.
func (r *Record) Clone() Record {
	return Record{
		Label:      r.Label,
		PrivateKey: r.PrivateKey,
		CreatedAt:  r.CreatedAt,
	}
}

func (r *Record) CopyTo(dst *Record) {
	dst.Label = r.Label
	dst.PrivateKey = r.PrivateKey
	dst.CreatedAt = r.CreatedAt
}
