// Package veilpay provides client bindings for the veilpay shielded pool
// program, plus the protocol flows the harness drives through it.
package veilpay

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"

	"github.com/veilpay-labs/veilpay-harness/pkg/solana"
	"github.com/veilpay-labs/veilpay-harness/pkg/solana/token"
)

// ProgramKey is the address of the veilpay program.
//
// Current key: 4C6H1aqxks1AgjtsLPbNrDXFsb6DwQ6c1Jhw2ZugTLv2
var ProgramKey = ed25519.PublicKey{47, 106, 106, 81, 214, 244, 0, 0, 41, 55, 253, 245, 77, 228, 75, 93, 242, 189, 134, 24, 71, 209, 208, 207, 90, 9, 60, 108, 23, 64, 28, 47}

const (
	// CiphertextSize is the fixed note ciphertext length enforced on-chain.
	CiphertextSize = 128

	// PublicInputWords is the number of 32-byte words in a spend proof's
	// public input vector.
	PublicInputWords = 13

	maxSpendInputs  = 4
	maxSpendOutputs = 2
)

// Instruction method discriminators. Each is the first 8 bytes of
// sha256("global:<method>").
var (
	depositDiscriminator          = []byte{242, 35, 198, 137, 82, 225, 242, 182}
	withdrawDiscriminator         = []byte{183, 18, 70, 156, 148, 109, 161, 34}
	internalTransferDiscriminator = []byte{56, 217, 60, 137, 252, 221, 185, 114}
	externalTransferDiscriminator = []byte{11, 179, 85, 190, 61, 53, 105, 169}
	registerIdentityDiscriminator = []byte{164, 118, 227, 177, 47, 176, 187, 248}
)

// GetDiscriminator computes the 8-byte instruction discriminator for a
// program method name.
func GetDiscriminator(method string) []byte {
	sum := sha256.Sum256([]byte("global:" + method))
	return sum[:8]
}

// GetConfigAddress returns the program's global config PDA.
func GetConfigAddress() (ed25519.PublicKey, error) {
	return solana.FindProgramAddress(ProgramKey, []byte("config"), ProgramKey)
}

// GetVaultAddress returns the vault pool PDA for a mint.
func GetVaultAddress(mint ed25519.PublicKey) (ed25519.PublicKey, error) {
	return solana.FindProgramAddress(ProgramKey, []byte("vault"), mint)
}

// GetShieldedStateAddress returns the shielded pool state PDA for a mint.
func GetShieldedStateAddress(mint ed25519.PublicKey) (ed25519.PublicKey, error) {
	return solana.FindProgramAddress(ProgramKey, []byte("shielded"), mint)
}

// GetNullifierSetAddress returns the nullifier set PDA for a mint and chunk.
func GetNullifierSetAddress(mint ed25519.PublicKey, chunkIndex uint32) (ed25519.PublicKey, error) {
	var chunk [4]byte
	binary.LittleEndian.PutUint32(chunk[:], chunkIndex)
	return solana.FindProgramAddress(ProgramKey, []byte("nullifier_set"), mint, chunk[:])
}

// GetIdentityRegistryAddress returns the global identity registry PDA.
func GetIdentityRegistryAddress() (ed25519.PublicKey, error) {
	return solana.FindProgramAddress(ProgramKey, []byte("identity_registry"))
}

// DepositAccounts are the accounts required by the deposit instruction.
type DepositAccounts struct {
	User    ed25519.PublicKey
	UserAta ed25519.PublicKey
	Mint    ed25519.PublicKey
}

// DepositArgs are the arguments to the deposit instruction.
type DepositArgs struct {
	Amount     uint64
	Ciphertext []byte
	Commitment []byte
	NewRoot    []byte
}

// Deposit moves tokens from the user's token account into the pool vault and
// appends a note commitment to the shielded state.
func Deposit(accounts DepositAccounts, args DepositArgs) (solana.Instruction, error) {
	config, err := GetConfigAddress()
	if err != nil {
		return solana.Instruction{}, err
	}
	vault, err := GetVaultAddress(accounts.Mint)
	if err != nil {
		return solana.Instruction{}, err
	}
	vaultAta, err := token.GetAssociatedAccount(vault, accounts.Mint)
	if err != nil {
		return solana.Instruction{}, err
	}
	shielded, err := GetShieldedStateAddress(accounts.Mint)
	if err != nil {
		return solana.Instruction{}, err
	}

	data := newInstructionData(depositDiscriminator)
	data = appendUint64(data, args.Amount)
	data = appendByteVector(data, args.Ciphertext)
	data = appendByteVector(data, args.Commitment)
	data = appendByteVector(data, args.NewRoot)

	// Accounts expected by this instruction:
	//
	//   0. `[]` Config
	//   1. `[writable]` Vault pool
	//   2. `[writable]` Vault token account
	//   3. `[writable]` Shielded state
	//   4. `[signer]` User
	//   5. `[writable]` User token account
	//   6. `[]` Mint
	//   7. `[]` Token program
	return solana.NewInstruction(
		ProgramKey,
		data,
		solana.NewReadonlyAccountMeta(config, false),
		solana.NewAccountMeta(vault, false),
		solana.NewAccountMeta(vaultAta, false),
		solana.NewAccountMeta(shielded, false),
		solana.NewReadonlyAccountMeta(accounts.User, true),
		solana.NewAccountMeta(accounts.UserAta, false),
		solana.NewReadonlyAccountMeta(accounts.Mint, false),
		solana.NewReadonlyAccountMeta(token.ProgramKey, false),
	), nil
}

// SpendAccounts are the accounts shared by the proof-verified spend
// instructions (withdraw, internal_transfer, external_transfer).
type SpendAccounts struct {
	Mint            ed25519.PublicKey
	VerifierProgram ed25519.PublicKey
	VerifierKey     ed25519.PublicKey

	// NullifierChunkIndex selects the nullifier set account the spend's
	// nullifiers land in.
	NullifierChunkIndex uint32

	// DestinationAta receives unshielded tokens. Unused by internal
	// transfers.
	DestinationAta ed25519.PublicKey

	// RelayerFeeAta receives the relayer fee split, when set.
	RelayerFeeAta ed25519.PublicKey
}

// SpendArgs are the arguments shared by the proof-verified spend
// instructions.
type SpendArgs struct {
	// Amount leaving the pool. Unused by internal transfers.
	Amount uint64

	Proof         []byte
	PublicInputs  []byte
	RelayerFeeBps uint16
	NewRoot       []byte
}

// Withdraw unshields tokens from the pool vault to a recipient token account,
// consuming nullifiers under a verified proof.
func Withdraw(accounts SpendAccounts, args SpendArgs) (solana.Instruction, error) {
	return newSpendInstruction(withdrawDiscriminator, accounts, args)
}

// ExternalTransfer unshields tokens directly to a third-party destination
// token account, consuming nullifiers under a verified proof.
func ExternalTransfer(accounts SpendAccounts, args SpendArgs) (solana.Instruction, error) {
	return newSpendInstruction(externalTransferDiscriminator, accounts, args)
}

func newSpendInstruction(discriminator []byte, accounts SpendAccounts, args SpendArgs) (solana.Instruction, error) {
	config, err := GetConfigAddress()
	if err != nil {
		return solana.Instruction{}, err
	}
	vault, err := GetVaultAddress(accounts.Mint)
	if err != nil {
		return solana.Instruction{}, err
	}
	vaultAta, err := token.GetAssociatedAccount(vault, accounts.Mint)
	if err != nil {
		return solana.Instruction{}, err
	}
	shielded, err := GetShieldedStateAddress(accounts.Mint)
	if err != nil {
		return solana.Instruction{}, err
	}
	identityRegistry, err := GetIdentityRegistryAddress()
	if err != nil {
		return solana.Instruction{}, err
	}
	nullifierSet, err := GetNullifierSetAddress(accounts.Mint, accounts.NullifierChunkIndex)
	if err != nil {
		return solana.Instruction{}, err
	}

	// An absent relayer fee account is encoded as the program id.
	relayerFeeAta := accounts.RelayerFeeAta
	if relayerFeeAta == nil {
		relayerFeeAta = ProgramKey
	}

	data := newInstructionData(discriminator)
	data = appendUint64(data, args.Amount)
	data = appendByteVector(data, args.Proof)
	data = appendByteVector(data, args.PublicInputs)
	data = appendUint16(data, args.RelayerFeeBps)
	data = appendByteVector(data, args.NewRoot)

	// Accounts expected by this instruction:
	//
	//   0. `[]` Config
	//   1. `[writable]` Vault pool
	//   2. `[writable]` Vault token account
	//   3. `[]` Shielded state
	//   4. `[]` Identity registry
	//   5. `[writable]` Nullifier set
	//   6. `[writable]` Destination token account
	//   7. `[writable]` Relayer fee token account (program id when unset)
	//   8. `[]` Verifier program
	//   9. `[]` Verifier key
	//  10. `[]` Mint
	//  11. `[]` Token program
	return solana.NewInstruction(
		ProgramKey,
		data,
		solana.NewReadonlyAccountMeta(config, false),
		solana.NewAccountMeta(vault, false),
		solana.NewAccountMeta(vaultAta, false),
		solana.NewReadonlyAccountMeta(shielded, false),
		solana.NewReadonlyAccountMeta(identityRegistry, false),
		solana.NewAccountMeta(nullifierSet, false),
		solana.NewAccountMeta(accounts.DestinationAta, false),
		solana.NewAccountMeta(relayerFeeAta, false),
		solana.NewReadonlyAccountMeta(accounts.VerifierProgram, false),
		solana.NewReadonlyAccountMeta(accounts.VerifierKey, false),
		solana.NewReadonlyAccountMeta(accounts.Mint, false),
		solana.NewReadonlyAccountMeta(token.ProgramKey, false),
	), nil
}

// InternalTransfer moves shielded value between notes without touching the
// vault, consuming nullifiers and appending new commitments under a verified
// proof.
func InternalTransfer(accounts SpendAccounts, args SpendArgs) (solana.Instruction, error) {
	config, err := GetConfigAddress()
	if err != nil {
		return solana.Instruction{}, err
	}
	shielded, err := GetShieldedStateAddress(accounts.Mint)
	if err != nil {
		return solana.Instruction{}, err
	}
	identityRegistry, err := GetIdentityRegistryAddress()
	if err != nil {
		return solana.Instruction{}, err
	}
	nullifierSet, err := GetNullifierSetAddress(accounts.Mint, accounts.NullifierChunkIndex)
	if err != nil {
		return solana.Instruction{}, err
	}

	data := newInstructionData(internalTransferDiscriminator)
	data = appendByteVector(data, args.Proof)
	data = appendByteVector(data, args.PublicInputs)
	data = appendByteVector(data, args.NewRoot)

	// Accounts expected by this instruction:
	//
	//   0. `[]` Config
	//   1. `[writable]` Shielded state
	//   2. `[]` Identity registry
	//   3. `[writable]` Nullifier set
	//   4. `[]` Verifier program
	//   5. `[]` Verifier key
	//   6. `[]` Mint
	return solana.NewInstruction(
		ProgramKey,
		data,
		solana.NewReadonlyAccountMeta(config, false),
		solana.NewAccountMeta(shielded, false),
		solana.NewReadonlyAccountMeta(identityRegistry, false),
		solana.NewAccountMeta(nullifierSet, false),
		solana.NewReadonlyAccountMeta(accounts.VerifierProgram, false),
		solana.NewReadonlyAccountMeta(accounts.VerifierKey, false),
		solana.NewReadonlyAccountMeta(accounts.Mint, false),
	), nil
}

// RegisterIdentity appends an identity commitment to the global registry.
func RegisterIdentity(payer ed25519.PublicKey, commitment, newRoot []byte) (solana.Instruction, error) {
	identityRegistry, err := GetIdentityRegistryAddress()
	if err != nil {
		return solana.Instruction{}, err
	}

	data := newInstructionData(registerIdentityDiscriminator)
	data = appendByteVector(data, commitment)
	data = appendByteVector(data, newRoot)

	// Accounts expected by this instruction:
	//
	//   0. `[writable]` Identity registry
	//   1. `[writable, signer]` Payer
	return solana.NewInstruction(
		ProgramKey,
		data,
		solana.NewAccountMeta(identityRegistry, false),
		solana.NewAccountMeta(payer, true),
	), nil
}

func newInstructionData(discriminator []byte) []byte {
	data := make([]byte, 0, 256)
	return append(data, discriminator...)
}

func appendUint64(data []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(data, buf[:]...)
}

func appendUint16(data []byte, v uint16) []byte {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return append(data, buf[:]...)
}

// appendByteVector writes a borsh Vec<u8>: a u32 little-endian length prefix
// followed by the raw bytes.
func appendByteVector(data []byte, v []byte) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(len(v)))
	data = append(data, buf[:]...)
	return append(data, v...)
}
