package veilpay

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilpay-labs/veilpay-harness/pkg/solana/token"
	"github.com/veilpay-labs/veilpay-harness/pkg/testutil"
)

func TestGetDiscriminator(t *testing.T) {
	for method, expected := range map[string][]byte{
		"deposit":           depositDiscriminator,
		"withdraw":          withdrawDiscriminator,
		"internal_transfer": internalTransferDiscriminator,
		"external_transfer": externalTransferDiscriminator,
		"register_identity": registerIdentityDiscriminator,
	} {
		assert.Equal(t, expected, GetDiscriminator(method), method)
	}
}

func TestProgramAddresses_Deterministic(t *testing.T) {
	mint := testutil.NewRandomAccount(t).PublicKey().ToBytes()

	config, err := GetConfigAddress()
	require.NoError(t, err)

	configAgain, err := GetConfigAddress()
	require.NoError(t, err)
	assert.Equal(t, []byte(config), []byte(configAgain))

	vault, err := GetVaultAddress(mint)
	require.NoError(t, err)

	shielded, err := GetShieldedStateAddress(mint)
	require.NoError(t, err)
	assert.NotEqual(t, []byte(vault), []byte(shielded))

	chunk0, err := GetNullifierSetAddress(mint, 0)
	require.NoError(t, err)

	chunk1, err := GetNullifierSetAddress(mint, 1)
	require.NoError(t, err)
	assert.NotEqual(t, []byte(chunk0), []byte(chunk1))
}

func TestDeposit_InstructionData(t *testing.T) {
	user := testutil.NewRandomAccount(t)
	mint := testutil.NewRandomAccount(t)

	userAta, err := user.ToAssociatedTokenAccount(mint)
	require.NoError(t, err)

	ciphertext := make([]byte, CiphertextSize)
	commitment := make([]byte, 32)
	newRoot := make([]byte, 32)
	for i := range newRoot {
		newRoot[i] = byte(i)
	}

	instruction, err := Deposit(
		DepositAccounts{
			User:    user.PublicKey().ToBytes(),
			UserAta: userAta.PublicKey().ToBytes(),
			Mint:    mint.PublicKey().ToBytes(),
		},
		DepositArgs{
			Amount:     123_456,
			Ciphertext: ciphertext,
			Commitment: commitment,
			NewRoot:    newRoot,
		},
	)
	require.NoError(t, err)

	assert.Equal(t, []byte(ProgramKey), []byte(instruction.Program))
	require.Len(t, instruction.Accounts, 8)

	// User is the only signer, in the position the program expects.
	assert.Equal(t, user.PublicKey().ToBytes(), []byte(instruction.Accounts[4].PublicKey))
	assert.True(t, instruction.Accounts[4].IsSigner)
	assert.Equal(t, []byte(token.ProgramKey), []byte(instruction.Accounts[7].PublicKey))

	data := instruction.Data
	assert.Equal(t, depositDiscriminator, data[:8])
	assert.EqualValues(t, 123_456, binary.LittleEndian.Uint64(data[8:16]))

	// Borsh byte vectors carry a u32 length prefix.
	assert.EqualValues(t, CiphertextSize, binary.LittleEndian.Uint32(data[16:20]))
	offset := 20 + CiphertextSize
	assert.EqualValues(t, 32, binary.LittleEndian.Uint32(data[offset:offset+4]))
	offset += 4 + 32
	assert.EqualValues(t, 32, binary.LittleEndian.Uint32(data[offset:offset+4]))
	assert.Equal(t, newRoot, data[offset+4:offset+4+32])
	assert.Len(t, data, offset+4+32)
}

func TestSpendInstructions_AccountLayout(t *testing.T) {
	mint := testutil.NewRandomAccount(t)
	destination := testutil.NewRandomAccount(t)
	verifierProgram := testutil.NewRandomAccount(t)
	verifierKey := testutil.NewRandomAccount(t)

	destinationAta, err := destination.ToAssociatedTokenAccount(mint)
	require.NoError(t, err)

	accounts := SpendAccounts{
		Mint:            mint.PublicKey().ToBytes(),
		VerifierProgram: verifierProgram.PublicKey().ToBytes(),
		VerifierKey:     verifierKey.PublicKey().ToBytes(),
		DestinationAta:  destinationAta.PublicKey().ToBytes(),
	}
	args := SpendArgs{
		Amount:       42,
		Proof:        make([]byte, proofSize),
		PublicInputs: make([]byte, PublicInputWords*32),
		NewRoot:      make([]byte, 32),
	}

	withdraw, err := Withdraw(accounts, args)
	require.NoError(t, err)
	require.Len(t, withdraw.Accounts, 12)
	assert.Equal(t, withdrawDiscriminator, withdraw.Data[:8])

	// An unset relayer fee account is encoded as the program id.
	assert.Equal(t, []byte(ProgramKey), []byte(withdraw.Accounts[7].PublicKey))

	external, err := ExternalTransfer(accounts, args)
	require.NoError(t, err)
	assert.Equal(t, externalTransferDiscriminator, external.Data[:8])

	// Withdraw and external transfer share everything but the method.
	assert.Equal(t, withdraw.Data[8:], external.Data[8:])

	internal, err := InternalTransfer(accounts, SpendArgs{
		Proof:        args.Proof,
		PublicInputs: args.PublicInputs,
		NewRoot:      args.NewRoot,
	})
	require.NoError(t, err)
	require.Len(t, internal.Accounts, 7)
	assert.Equal(t, internalTransferDiscriminator, internal.Data[:8])
}
