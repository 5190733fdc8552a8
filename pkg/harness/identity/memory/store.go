package memory

import (
	"context"
	"sync"
	"time"

	"github.com/veilpay-labs/veilpay-harness/pkg/harness/identity"
)

type store struct {
	mu      sync.Mutex
	records []*identity.Record
}

// New returns a new in memory identity.Store
func New() identity.Store {
	return &store{}
}

// Put implements identity.Store.Put
func (s *store) Put(_ context.Context, data *identity.Record) error {
	if err := data.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item := s.find(data.Label); item != nil {
		data.CopyTo(item)
		return nil
	}

	cloned := data.Clone()
	cloned.CreatedAt = time.Now()
	s.records = append(s.records, &cloned)

	return nil
}

// Get implements identity.Store.Get
func (s *store) Get(_ context.Context, label string) (*identity.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item := s.find(label); item != nil {
		cloned := item.Clone()
		return &cloned, nil
	}

	return nil, identity.ErrNotFound
}

// Reset implements identity.Store.Reset
func (s *store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil

	return nil
}

func (s *store) find(label string) *identity.Record {
	for _, item := range s.records {
		if item.Label == label {
			return item
		}
	}
	return nil
}
