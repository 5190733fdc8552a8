package identity_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilpay-labs/veilpay-harness/pkg/common"
	"github.com/veilpay-labs/veilpay-harness/pkg/harness/identity"
	"github.com/veilpay-labs/veilpay-harness/pkg/harness/identity/memory"
	"github.com/veilpay-labs/veilpay-harness/pkg/testutil"
)

func TestNewIdentity_DeterministicViewKey(t *testing.T) {
	owner := testutil.NewRandomAccount(t)

	a, err := identity.NewIdentity(identity.LabelA, owner)
	require.NoError(t, err)

	b, err := identity.NewIdentity(identity.LabelA, owner)
	require.NoError(t, err)

	// The view key is a pure function of the signing key.
	assert.Equal(t, a.ViewKey, b.ViewKey)

	other, err := identity.NewIdentity(identity.LabelB, testutil.NewRandomAccount(t))
	require.NoError(t, err)
	assert.NotEqual(t, a.ViewKey, other.ViewKey)
}

func TestNewIdentity_RequiresPrivateKey(t *testing.T) {
	owner, err := common.NewAccountFromPublicKey(testutil.NewRandomAccount(t).PublicKey())
	require.NoError(t, err)

	_, err = identity.NewIdentity(identity.LabelA, owner)
	assert.Error(t, err)
}

func TestManager_GenerateAndRestore(t *testing.T) {
	ctx := context.Background()
	manager := identity.NewManager(memory.New())

	generated, err := manager.Generate(ctx)
	require.NoError(t, err)
	require.Len(t, generated, len(identity.AllLabels))
	for i, label := range identity.AllLabels {
		assert.Equal(t, label, generated[i].Label)
	}

	// Restore yields the same accounts and view keys.
	restored, err := manager.Restore(ctx)
	require.NoError(t, err)
	require.Len(t, restored, len(identity.AllLabels))
	for i := range generated {
		assert.Equal(t, generated[i].Owner.PublicKey().ToBase58(), restored[i].Owner.PublicKey().ToBase58())
		assert.Equal(t, generated[i].ViewKey, restored[i].ViewKey)
	}

}

func TestManager_GenerateOverwrites(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	manager := identity.NewManager(store)

	previous := testutil.NewRandomAccount(t)
	require.NoError(t, store.Put(ctx, &identity.Record{
		Label:      identity.LabelB,
		PrivateKey: previous.PrivateKey().ToBase58(),
	}))

	first, err := manager.Generate(ctx)
	require.NoError(t, err)
	require.Len(t, first, len(identity.AllLabels))

	// The persisted record is replaced, not reused.
	assert.NotEqual(t, previous.PublicKey().ToBase58(), first[1].Owner.PublicKey().ToBase58())

	// Every call mints an entirely fresh set.
	second, err := manager.Generate(ctx)
	require.NoError(t, err)
	for i := range first {
		assert.NotEqual(t, first[i].Owner.PublicKey().ToBase58(), second[i].Owner.PublicKey().ToBase58())
	}

	// The store holds the latest set.
	restored, err := manager.Restore(ctx)
	require.NoError(t, err)
	require.Len(t, restored, len(identity.AllLabels))
	for i := range second {
		assert.Equal(t, second[i].Owner.PublicKey().ToBase58(), restored[i].Owner.PublicKey().ToBase58())
	}
}

func TestManager_RestorePartial(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	manager := identity.NewManager(store)

	account := testutil.NewRandomAccount(t)
	require.NoError(t, store.Put(ctx, &identity.Record{
		Label:      identity.LabelC,
		PrivateKey: account.PrivateKey().ToBase58(),
	}))

	restored, err := manager.Restore(ctx)
	require.NoError(t, err)
	require.Len(t, restored, 1)
	assert.Equal(t, identity.LabelC, restored[0].Label)
}

func TestManager_Reset(t *testing.T) {
	ctx := context.Background()
	manager := identity.NewManager(memory.New())

	_, err := manager.Generate(ctx)
	require.NoError(t, err)

	require.NoError(t, manager.Reset(ctx))

	restored, err := manager.Restore(ctx)
	require.NoError(t, err)
	assert.Empty(t, restored)
}
