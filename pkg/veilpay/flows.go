package veilpay

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"math/bits"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/veilpay-labs/veilpay-harness/pkg/accumulator"
	"github.com/veilpay-labs/veilpay-harness/pkg/amount"
	"github.com/veilpay-labs/veilpay-harness/pkg/common"
	"github.com/veilpay-labs/veilpay-harness/pkg/ledger"
)

const relayerFeeBpsDenominator = 10_000

var (
	// ErrStaleFlowState indicates a flow was handed protocol state that no
	// longer matches the pool. The caller must re-read the latest state and
	// retry, rather than replaying a snapshot.
	ErrStaleFlowState = errors.New("flow state is stale")
)

// Flows drives the shielded pool protocol operations. Every state-mutating
// flow consumes the latest FlowState and yields the successor state in its
// result; results from failed flows must be discarded.
type Flows interface {
	// RegisterIdentity appends the identity commitment for a view key to
	// the on-chain registry, making the identity eligible to spend.
	RegisterIdentity(ctx context.Context, payer *common.Account, identity ViewKey) (string, error)

	// Deposit shields tokens from the user's token account into the pool,
	// creating a note for the recipient view key.
	Deposit(ctx context.Context, user *common.Account, recipient ViewKey, units uint64, state FlowState) (*FlowResult, error)

	// InternalTransfer moves shielded value from the sender's note to a new
	// note for the recipient, without touching the vault.
	InternalTransfer(ctx context.Context, payer *common.Account, sender, recipient ViewKey, units uint64, state FlowState) (*FlowResult, error)

	// Withdraw unshields the sender's value back to their own token
	// account.
	Withdraw(ctx context.Context, payer *common.Account, sender ViewKey, recipient *common.Account, units uint64, state FlowState) (*FlowResult, error)

	// ExternalTransfer unshields the sender's value directly to a
	// third-party token account.
	ExternalTransfer(ctx context.Context, payer *common.Account, sender ViewKey, destination *common.Account, units uint64, state FlowState) (*FlowResult, error)
}

// ClientConfig carries the static protocol parameters for a flow client.
type ClientConfig struct {
	Mint            *common.Account
	VerifierProgram ed25519.PublicKey
	VerifierKey     ed25519.PublicKey

	CircuitID uint32

	// RelayerFeeBps is the fee split applied to unshielding flows. The
	// RelayerFeeAta must be set when non-zero.
	RelayerFeeBps uint16
	RelayerFeeAta *common.Account
}

type client struct {
	log     *logrus.Entry
	conf    ClientConfig
	gateway ledger.Gateway
	prover  Prover

	stateMu      sync.Mutex
	pool         *accumulator.Accumulator
	identities   *accumulator.Accumulator
	identityRoot [32]byte
}

// NewClient returns a Flows implementation submitting real transactions
// through the gateway. The client mirrors the pool's commitment accumulator
// locally so it can compute the successor root each flow commits on-chain.
func NewClient(conf ClientConfig, gateway ledger.Gateway, prover Prover) (Flows, error) {
	if err := conf.Mint.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid mint")
	}
	if conf.RelayerFeeBps > 0 && conf.RelayerFeeAta == nil {
		return nil, errors.New("relayer fee requires a fee token account")
	}
	if conf.RelayerFeeBps >= relayerFeeBpsDenominator {
		return nil, errors.New("relayer fee must be less than the full amount")
	}

	pool, err := accumulator.New(accumulator.DefaultLevels, []byte("veilpay:pool"))
	if err != nil {
		return nil, err
	}
	identities, err := accumulator.New(accumulator.DefaultLevels, []byte("veilpay:identities"))
	if err != nil {
		return nil, err
	}

	c := &client{
		log:        logrus.StandardLogger().WithField("type", "veilpay/client"),
		conf:       conf,
		gateway:    gateway,
		prover:     prover,
		pool:       pool,
		identities: identities,
	}
	copy(c.identityRoot[:], identities.Root())

	return c, nil
}

func (c *client) RegisterIdentity(ctx context.Context, payer *common.Account, identity ViewKey) (string, error) {
	commitment := deriveIdentityCommitment(identity)

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	pending := c.identities.Clone()
	newRoot, err := pending.Add(commitment[:])
	if err != nil {
		return "", errors.Wrap(err, "error appending identity commitment")
	}

	instruction, err := RegisterIdentity(payer.PublicKey().ToBytes(), commitment[:], newRoot)
	if err != nil {
		return "", err
	}

	sig, err := c.gateway.SubmitAndConfirm(ctx, payer, nil, instruction)
	if err != nil {
		return "", err
	}

	c.identities = pending
	copy(c.identityRoot[:], newRoot)

	c.log.WithFields(logrus.Fields{
		"identity":  payer.PublicKey().ToBase58(),
		"signature": sig,
	}).Debug("identity registered")

	return sig, nil
}

func (c *client) Deposit(ctx context.Context, user *common.Account, recipient ViewKey, units uint64, state FlowState) (*FlowResult, error) {
	if units == 0 {
		return nil, errors.Wrap(amount.ErrInvalidAmount, "deposit amount is zero")
	}

	userAta, err := user.ToAssociatedTokenAccount(c.conf.Mint)
	if err != nil {
		return nil, err
	}

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if err := c.checkState(state); err != nil {
		return nil, err
	}

	counter := state.NextNullifier
	commitment := DeriveCommitment(recipient, units, counter)
	ciphertext := EncryptNote(recipient, units, counter)

	pending := c.pool.Clone()
	newRoot, err := pending.Add(commitment[:])
	if err != nil {
		return nil, errors.Wrap(err, "error appending note commitment")
	}

	instruction, err := Deposit(
		DepositAccounts{
			User:    user.PublicKey().ToBytes(),
			UserAta: userAta.PublicKey().ToBytes(),
			Mint:    c.conf.Mint.PublicKey().ToBytes(),
		},
		DepositArgs{
			Amount:     units,
			Ciphertext: ciphertext,
			Commitment: commitment[:],
			NewRoot:    newRoot,
		},
	)
	if err != nil {
		return nil, err
	}

	sig, err := c.gateway.SubmitAndConfirm(ctx, user, nil, instruction)
	if err != nil {
		return nil, err
	}

	c.pool = pending

	newState := FlowState{NextNullifier: counter + 1}
	copy(newState.Root[:], newRoot)

	return &FlowResult{Signature: sig, NewState: newState}, nil
}

func (c *client) InternalTransfer(ctx context.Context, payer *common.Account, sender, recipient ViewKey, units uint64, state FlowState) (*FlowResult, error) {
	if units == 0 {
		return nil, errors.Wrap(amount.ErrInvalidAmount, "transfer amount is zero")
	}

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if err := c.checkState(state); err != nil {
		return nil, err
	}

	counter := state.NextNullifier
	nullifier := DeriveNullifier(sender, counter)
	commitment := DeriveCommitment(recipient, units, counter)

	pending := c.pool.Clone()
	newRoot, err := pending.Add(commitment[:])
	if err != nil {
		return nil, errors.Wrap(err, "error appending note commitment")
	}

	inputs := PublicInputs{
		Root:              state.Root,
		IdentityRoot:      c.identityRoot,
		Nullifiers:        [][32]byte{nullifier},
		OutputCommitments: [][32]byte{commitment},
		CircuitID:         c.conf.CircuitID,
	}

	proof, marshalledInputs, err := c.prove(ctx, inputs)
	if err != nil {
		return nil, err
	}

	instruction, err := InternalTransfer(
		c.spendAccounts(nil),
		SpendArgs{
			Proof:        proof,
			PublicInputs: marshalledInputs,
			NewRoot:      newRoot,
		},
	)
	if err != nil {
		return nil, err
	}

	sig, err := c.gateway.SubmitAndConfirm(ctx, payer, nil, instruction)
	if err != nil {
		return nil, err
	}

	c.pool = pending

	newState := FlowState{NextNullifier: counter + 1}
	copy(newState.Root[:], newRoot)

	return &FlowResult{Signature: sig, NewState: newState}, nil
}

func (c *client) Withdraw(ctx context.Context, payer *common.Account, sender ViewKey, recipient *common.Account, units uint64, state FlowState) (*FlowResult, error) {
	recipientAta, err := recipient.ToAssociatedTokenAccount(c.conf.Mint)
	if err != nil {
		return nil, err
	}

	return c.unshield(ctx, withdrawDiscriminator, payer, sender, recipientAta, units, state)
}

func (c *client) ExternalTransfer(ctx context.Context, payer *common.Account, sender ViewKey, destination *common.Account, units uint64, state FlowState) (*FlowResult, error) {
	destinationAta, err := destination.ToAssociatedTokenAccount(c.conf.Mint)
	if err != nil {
		return nil, err
	}

	return c.unshield(ctx, externalTransferDiscriminator, payer, sender, destinationAta, units, state)
}

// unshield implements the shared portion of withdraw and external transfer.
// No change note is produced, so the pool root is unchanged and only the
// nullifier counter advances.
func (c *client) unshield(ctx context.Context, discriminator []byte, payer *common.Account, sender ViewKey, destinationAta *common.Account, units uint64, state FlowState) (*FlowResult, error) {
	if units == 0 {
		return nil, errors.Wrap(amount.ErrInvalidAmount, "unshield amount is zero")
	}

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if err := c.checkState(state); err != nil {
		return nil, err
	}

	counter := state.NextNullifier
	nullifier := DeriveNullifier(sender, counter)
	feeAmount := splitRelayerFee(units, c.conf.RelayerFeeBps)

	inputs := PublicInputs{
		Root:         state.Root,
		IdentityRoot: c.identityRoot,
		Nullifiers:   [][32]byte{nullifier},
		AmountOut:    units,
		FeeAmount:    feeAmount,
		CircuitID:    c.conf.CircuitID,
	}

	proof, marshalledInputs, err := c.prove(ctx, inputs)
	if err != nil {
		return nil, err
	}

	instruction, err := newSpendInstruction(
		discriminator,
		c.spendAccounts(destinationAta),
		SpendArgs{
			Amount:        units,
			Proof:         proof,
			PublicInputs:  marshalledInputs,
			RelayerFeeBps: c.conf.RelayerFeeBps,
			NewRoot:       state.Root[:],
		},
	)
	if err != nil {
		return nil, err
	}

	sig, err := c.gateway.SubmitAndConfirm(ctx, payer, nil, instruction)
	if err != nil {
		return nil, err
	}

	newState := state
	newState.NextNullifier = counter + 1

	return &FlowResult{
		Signature: sig,
		Relayed:   c.conf.RelayerFeeBps > 0,
		NewState:  newState,
	}, nil
}

func (c *client) prove(ctx context.Context, inputs PublicInputs) (proof, marshalled []byte, err error) {
	proof, err = c.prover.ProveSpend(ctx, inputs)
	if err != nil {
		return nil, nil, errors.Wrap(err, "error generating spend proof")
	}

	marshalled, err = inputs.Marshal()
	if err != nil {
		return nil, nil, err
	}

	return proof, marshalled, nil
}

func (c *client) spendAccounts(destinationAta *common.Account) SpendAccounts {
	accounts := SpendAccounts{
		Mint:            c.conf.Mint.PublicKey().ToBytes(),
		VerifierProgram: c.conf.VerifierProgram,
		VerifierKey:     c.conf.VerifierKey,
	}
	if destinationAta != nil {
		accounts.DestinationAta = destinationAta.PublicKey().ToBytes()
	}
	if c.conf.RelayerFeeAta != nil {
		accounts.RelayerFeeAta = c.conf.RelayerFeeAta.PublicKey().ToBytes()
	}
	return accounts
}

// checkState must be called with stateMu held.
func (c *client) checkState(state FlowState) error {
	current := c.pool.Root()
	if state.Root != ZeroRoot || c.pool.GetLeafCount() != 0 {
		var currentRoot [32]byte
		copy(currentRoot[:], current)
		if state.Root != currentRoot {
			return errors.Wrapf(ErrStaleFlowState, "have root %x, pool is at %x", state.Root, currentRoot)
		}
	}
	return nil
}

func deriveIdentityCommitment(identity ViewKey) [32]byte {
	h := sha256.New()
	h.Write([]byte("veilpay:identity:commitment"))
	h.Write(identity[:])

	var commitment [32]byte
	copy(commitment[:], h.Sum(nil))
	return commitment
}

// splitRelayerFee computes the relayer's share of an unshielded amount. The
// product is taken at 128 bits to match the program's checked math; feeBps is
// below the denominator, so the fee is always less than a non-zero amount.
func splitRelayerFee(units uint64, feeBps uint16) uint64 {
	hi, lo := bits.Mul64(units, uint64(feeBps))
	fee, _ := bits.Div64(hi, lo, relayerFeeBpsDenominator)
	return fee
}
