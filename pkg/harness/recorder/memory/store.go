package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/veilpay-labs/veilpay-harness/pkg/harness/recorder"
)

type store struct {
	mu      sync.Mutex
	records []*recorder.Record
}

// New returns a new in memory recorder.Store
func New() recorder.Store {
	return &store{}
}

// Put implements recorder.Store.Put
func (s *store) Put(_ context.Context, data *recorder.Record) error {
	if err := data.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cloned := data.Clone()
	if cloned.CreatedAt.IsZero() {
		cloned.CreatedAt = time.Now()
	}
	s.records = append(s.records, &cloned)

	return nil
}

// Update implements recorder.Store.Update
func (s *store) Update(_ context.Context, data *recorder.Record) error {
	if err := data.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range s.records {
		if item.ID == data.ID {
			data.CopyTo(item)
			return nil
		}
	}

	return recorder.ErrNotFound
}

// GetAll implements recorder.Store.GetAll
func (s *store) GetAll(_ context.Context) ([]*recorder.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]*recorder.Record, 0, len(s.records))
	for _, item := range s.records {
		cloned := item.Clone()
		res = append(res, &cloned)
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})

	return res, nil
}

// GetBySignature implements recorder.Store.GetBySignature
func (s *store) GetBySignature(_ context.Context, signature string) (*recorder.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range s.records {
		if item.Signature != nil && *item.Signature == signature {
			cloned := item.Clone()
			return &cloned, nil
		}
	}

	return nil, recorder.ErrNotFound
}

// GetPendingEnrichment implements recorder.Store.GetPendingEnrichment
func (s *store) GetPendingEnrichment(_ context.Context, limit int) ([]*recorder.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []*recorder.Record
	for _, item := range s.records {
		if item.Status != recorder.StatusSubmitted {
			continue
		}

		cloned := item.Clone()
		res = append(res, &cloned)

		if len(res) >= limit {
			break
		}
	}

	return res, nil
}

// Reset implements recorder.Store.Reset
func (s *store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil

	return nil
}
