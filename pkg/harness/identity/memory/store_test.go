package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilpay-labs/veilpay-harness/pkg/harness/identity"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	store := New()

	_, err := store.Get(ctx, identity.LabelA)
	assert.Equal(t, identity.ErrNotFound, err)

	record := &identity.Record{
		Label:      identity.LabelA,
		PrivateKey: "key1",
	}
	require.NoError(t, store.Put(ctx, record))

	actual, err := store.Get(ctx, identity.LabelA)
	require.NoError(t, err)
	assert.Equal(t, "key1", actual.PrivateKey)
	assert.False(t, actual.CreatedAt.IsZero())

	// Put replaces an existing record for the same label.
	record.PrivateKey = "key2"
	require.NoError(t, store.Put(ctx, record))

	actual, err = store.Get(ctx, identity.LabelA)
	require.NoError(t, err)
	assert.Equal(t, "key2", actual.PrivateKey)

	// Mutating a fetched record doesn't leak into the store.
	actual.PrivateKey = "mutated"
	unchanged, err := store.Get(ctx, identity.LabelA)
	require.NoError(t, err)
	assert.Equal(t, "key2", unchanged.PrivateKey)

	require.NoError(t, store.Reset(ctx))
	_, err = store.Get(ctx, identity.LabelA)
	assert.Equal(t, identity.ErrNotFound, err)
}

func TestStore_Validation(t *testing.T) {
	ctx := context.Background()
	store := New()

	assert.Error(t, store.Put(ctx, &identity.Record{Label: identity.LabelA}))
	assert.Error(t, store.Put(ctx, &identity.Record{PrivateKey: "key"}))
}
