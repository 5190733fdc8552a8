package veilpay

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilpay-labs/veilpay-harness/pkg/common"
	"github.com/veilpay-labs/veilpay-harness/pkg/solana"
	"github.com/veilpay-labs/veilpay-harness/pkg/testutil"
)

type fakeGateway struct {
	mu          sync.Mutex
	submissions []solana.Instruction
	failNext    bool
}

func (g *fakeGateway) SubmitAndConfirm(_ context.Context, _ *common.Account, _ []*common.Account, instructions ...solana.Instruction) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failNext {
		g.failNext = false
		return "", errors.New("submission rejected")
	}

	g.submissions = append(g.submissions, instructions...)
	return fmt.Sprintf("sig%d", len(g.submissions)), nil
}

func (g *fakeGateway) GetTokenBalance(context.Context, *common.Account, *common.Account) (uint64, error) {
	return 0, nil
}

func (g *fakeGateway) GetNativeBalance(context.Context, *common.Account) (uint64, error) {
	return 0, nil
}

func (g *fakeGateway) EnsureTokenAccount(_ context.Context, _, owner, mint *common.Account) (*common.Account, error) {
	return owner.ToAssociatedTokenAccount(mint)
}

func (g *fakeGateway) HasTokenAccount(context.Context, *common.Account, *common.Account) (bool, error) {
	return false, nil
}

func (g *fakeGateway) RequestAirdrop(context.Context, *common.Account, uint64) (string, error) {
	return "airdrop", nil
}

func (g *fakeGateway) GetTransactionMeta(context.Context, string) (*solana.TransactionMeta, error) {
	return &solana.TransactionMeta{}, nil
}

func (g *fakeGateway) EstimatedFee() uint64 {
	return 5_000
}

func newTestClient(t *testing.T, gateway *fakeGateway) Flows {
	conf := ClientConfig{
		Mint:            testutil.NewRandomAccount(t),
		VerifierProgram: testutil.NewRandomAccount(t).PublicKey().ToBytes(),
		VerifierKey:     testutil.NewRandomAccount(t).PublicKey().ToBytes(),
		CircuitID:       1,
	}

	flows, err := NewClient(conf, gateway, NewLocalProver())
	require.NoError(t, err)
	return flows
}

func TestClient_RelayerFeeRequiresAccount(t *testing.T) {
	conf := ClientConfig{
		Mint:          testutil.NewRandomAccount(t),
		RelayerFeeBps: 50,
	}
	_, err := NewClient(conf, &fakeGateway{}, NewLocalProver())
	assert.Error(t, err)
}

func TestClient_RelayerFeeBpsBounded(t *testing.T) {
	conf := ClientConfig{
		Mint:          testutil.NewRandomAccount(t),
		RelayerFeeBps: 10_000,
		RelayerFeeAta: testutil.NewRandomAccount(t),
	}
	_, err := NewClient(conf, &fakeGateway{}, NewLocalProver())
	assert.Error(t, err)
}

func TestSplitRelayerFee(t *testing.T) {
	assert.EqualValues(t, 0, splitRelayerFee(0, 50))
	assert.EqualValues(t, 50, splitRelayerFee(10_000, 50))
	assert.EqualValues(t, 0, splitRelayerFee(100, 50))

	// Amounts near the uint64 limit must not wrap in the product.
	assert.EqualValues(t, uint64(92233720368547758), splitRelayerFee(math.MaxUint64, 50))
	assert.EqualValues(t, uint64(18444899399302180659), splitRelayerFee(math.MaxUint64, 9_999))

	// The fee is always strictly below a non-zero amount.
	assert.Less(t, splitRelayerFee(math.MaxUint64, 9_999), uint64(math.MaxUint64))
	assert.Less(t, splitRelayerFee(1, 9_999), uint64(1))
}

func TestClient_DepositAdvancesState(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{}
	flows := newTestClient(t, gateway)

	user := testutil.NewRandomAccount(t)
	var view ViewKey
	view[0] = 1

	state := InitialFlowState()
	result, err := flows.Deposit(ctx, user, view, 1_000, state)
	require.NoError(t, err)

	assert.NotEmpty(t, result.Signature)
	assert.NotEqual(t, ZeroRoot, result.NewState.Root)
	assert.EqualValues(t, 1, result.NewState.NextNullifier)

	// Replaying the pre-deposit snapshot is rejected.
	_, err = flows.Deposit(ctx, user, view, 1_000, state)
	assert.True(t, errors.Is(err, ErrStaleFlowState))

	// The successor state chains cleanly.
	next, err := flows.Deposit(ctx, user, view, 1_000, result.NewState)
	require.NoError(t, err)
	assert.NotEqual(t, result.NewState.Root, next.NewState.Root)
	assert.EqualValues(t, 2, next.NewState.NextNullifier)
}

func TestClient_FailedSubmissionLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{failNext: true}
	flows := newTestClient(t, gateway)

	user := testutil.NewRandomAccount(t)
	var view ViewKey

	state := InitialFlowState()
	_, err := flows.Deposit(ctx, user, view, 1_000, state)
	require.Error(t, err)

	// The original snapshot is still the live state.
	result, err := flows.Deposit(ctx, user, view, 1_000, state)
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.NewState.NextNullifier)
}

func TestClient_InternalTransferChainsRoot(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{}
	flows := newTestClient(t, gateway)

	payer := testutil.NewRandomAccount(t)
	var sender, recipient ViewKey
	sender[0], recipient[0] = 1, 2

	deposit, err := flows.Deposit(ctx, payer, sender, 1_000, InitialFlowState())
	require.NoError(t, err)

	transfer, err := flows.InternalTransfer(ctx, payer, sender, recipient, 400, deposit.NewState)
	require.NoError(t, err)

	assert.NotEqual(t, deposit.NewState.Root, transfer.NewState.Root)
	assert.EqualValues(t, 2, transfer.NewState.NextNullifier)
}

func TestClient_UnshieldKeepsRoot(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{}
	flows := newTestClient(t, gateway)

	payer := testutil.NewRandomAccount(t)
	recipient := testutil.NewRandomAccount(t)
	var sender ViewKey
	sender[0] = 1

	deposit, err := flows.Deposit(ctx, payer, sender, 1_000, InitialFlowState())
	require.NoError(t, err)

	withdraw, err := flows.Withdraw(ctx, payer, sender, recipient, 500, deposit.NewState)
	require.NoError(t, err)

	// No change note is produced, so only the counter advances.
	assert.Equal(t, deposit.NewState.Root, withdraw.NewState.Root)
	assert.EqualValues(t, 2, withdraw.NewState.NextNullifier)

	external, err := flows.ExternalTransfer(ctx, payer, sender, recipient, 100, withdraw.NewState)
	require.NoError(t, err)
	assert.Equal(t, withdraw.NewState.Root, external.NewState.Root)
	assert.EqualValues(t, 3, external.NewState.NextNullifier)
}

func TestClient_RelayedFlagTracksFeeSplit(t *testing.T) {
	ctx := context.Background()

	conf := ClientConfig{
		Mint:            testutil.NewRandomAccount(t),
		VerifierProgram: testutil.NewRandomAccount(t).PublicKey().ToBytes(),
		VerifierKey:     testutil.NewRandomAccount(t).PublicKey().ToBytes(),
		CircuitID:       1,
		RelayerFeeBps:   50,
		RelayerFeeAta:   testutil.NewRandomAccount(t),
	}
	flows, err := NewClient(conf, &fakeGateway{}, NewLocalProver())
	require.NoError(t, err)

	payer := testutil.NewRandomAccount(t)
	recipient := testutil.NewRandomAccount(t)
	var sender ViewKey
	sender[0] = 1

	deposit, err := flows.Deposit(ctx, payer, sender, 1_000, InitialFlowState())
	require.NoError(t, err)
	assert.False(t, deposit.Relayed)

	withdraw, err := flows.Withdraw(ctx, payer, sender, recipient, 500, deposit.NewState)
	require.NoError(t, err)
	assert.True(t, withdraw.Relayed)

	external, err := flows.ExternalTransfer(ctx, payer, sender, recipient, 100, withdraw.NewState)
	require.NoError(t, err)
	assert.True(t, external.Relayed)

	// Without a fee split configured, unshields are submitted directly.
	direct := newTestClient(t, &fakeGateway{})
	deposit, err = direct.Deposit(ctx, payer, sender, 1_000, InitialFlowState())
	require.NoError(t, err)
	withdraw, err = direct.Withdraw(ctx, payer, sender, recipient, 500, deposit.NewState)
	require.NoError(t, err)
	assert.False(t, withdraw.Relayed)
}

func TestClient_ZeroAmountRejected(t *testing.T) {
	ctx := context.Background()
	flows := newTestClient(t, &fakeGateway{})

	user := testutil.NewRandomAccount(t)
	var view ViewKey

	_, err := flows.Deposit(ctx, user, view, 0, InitialFlowState())
	assert.Error(t, err)

	_, err = flows.InternalTransfer(ctx, user, view, view, 0, InitialFlowState())
	assert.Error(t, err)
}

func TestClient_RegisterIdentity(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{}
	flows := newTestClient(t, gateway)

	payer := testutil.NewRandomAccount(t)
	var view ViewKey
	view[0] = 1

	sig, err := flows.RegisterIdentity(ctx, payer, view)
	require.NoError(t, err)
	assert.NotEmpty(t, sig)

	require.Len(t, gateway.submissions, 1)
	assert.Equal(t, registerIdentityDiscriminator, gateway.submissions[0].Data[:8])
}
