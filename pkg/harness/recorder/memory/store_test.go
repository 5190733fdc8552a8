package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilpay-labs/veilpay-harness/pkg/harness/recorder"
	"github.com/veilpay-labs/veilpay-harness/pkg/pointer"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	store := New()

	first := &recorder.Record{
		ID:        uuid.New(),
		Step:      "deposit",
		Signature: pointer.String("sig1"),
		Status:    recorder.StatusSubmitted,
		CreatedAt: time.Now().Add(-time.Minute),
	}
	second := &recorder.Record{
		ID:        uuid.New(),
		Step:      "withdraw",
		Signature: pointer.String("sig2"),
		Status:    recorder.StatusSubmitted,
	}
	require.NoError(t, store.Put(ctx, first))
	require.NoError(t, store.Put(ctx, second))

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)

	bySig, err := store.GetBySignature(ctx, "sig2")
	require.NoError(t, err)
	assert.Equal(t, second.ID, bySig.ID)

	_, err = store.GetBySignature(ctx, "unknown")
	assert.Equal(t, recorder.ErrNotFound, err)
}

func TestStore_Update(t *testing.T) {
	ctx := context.Background()
	store := New()

	record := &recorder.Record{
		ID:        uuid.New(),
		Step:      "deposit",
		Signature: pointer.String("sig1"),
		Status:    recorder.StatusSubmitted,
	}
	require.NoError(t, store.Put(ctx, record))

	record.Status = recorder.StatusEnriched
	record.Slot = pointer.Uint64(100)
	require.NoError(t, store.Update(ctx, record))

	actual, err := store.GetBySignature(ctx, "sig1")
	require.NoError(t, err)
	assert.Equal(t, recorder.StatusEnriched, actual.Status)
	require.NotNil(t, actual.Slot)
	assert.EqualValues(t, 100, *actual.Slot)

	missing := &recorder.Record{
		ID:        uuid.New(),
		Step:      "deposit",
		Signature: pointer.String("sig3"),
	}
	assert.Equal(t, recorder.ErrNotFound, store.Update(ctx, missing))
}

func TestStore_GetPendingEnrichment(t *testing.T) {
	ctx := context.Background()
	store := New()

	for i, status := range []recorder.Status{
		recorder.StatusSubmitted,
		recorder.StatusEnriched,
		recorder.StatusSubmitted,
		recorder.StatusFailed,
	} {
		record := &recorder.Record{
			ID:        uuid.New(),
			Step:      "deposit",
			Signature: pointer.String(string(rune('a' + i))),
			Status:    status,
		}
		require.NoError(t, store.Put(ctx, record))
	}

	pending, err := store.GetPendingEnrichment(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, item := range pending {
		assert.Equal(t, recorder.StatusSubmitted, item.Status)
	}

	limited, err := store.GetPendingEnrichment(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStore_Validation(t *testing.T) {
	ctx := context.Background()
	store := New()

	// Missing signature on a non-failed record.
	assert.Error(t, store.Put(ctx, &recorder.Record{
		ID:   uuid.New(),
		Step: "deposit",
	}))

	// Failed records don't need one.
	assert.NoError(t, store.Put(ctx, &recorder.Record{
		ID:            uuid.New(),
		Step:          "deposit",
		Status:        recorder.StatusFailed,
		FailureReason: pointer.String("boom"),
	}))
}

func TestStore_Reset(t *testing.T) {
	ctx := context.Background()
	store := New()

	require.NoError(t, store.Put(ctx, &recorder.Record{
		ID:        uuid.New(),
		Step:      "deposit",
		Signature: pointer.String("sig1"),
	}))
	require.NoError(t, store.Reset(ctx))

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
