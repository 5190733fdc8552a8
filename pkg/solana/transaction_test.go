package solana

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return pub, priv
}

func TestTransaction_PayerPlacement(t *testing.T) {
	payer, _ := generateKey(t)
	program, _ := generateKey(t)
	account, _ := generateKey(t)

	txn := NewTransaction(
		payer,
		NewInstruction(program, []byte{1, 2, 3}, NewAccountMeta(account, false)),
	)

	// The payer is always the first account and the only required signer.
	assert.Equal(t, []byte(payer), []byte(txn.Message.Accounts[0]))
	assert.EqualValues(t, 1, txn.Message.Header.NumSignatures)
	assert.Len(t, txn.Signatures, 1)

	// Programs sort last.
	assert.Equal(t, []byte(program), []byte(txn.Message.Accounts[len(txn.Message.Accounts)-1]))
}

func TestTransaction_DuplicateAccountsPromoted(t *testing.T) {
	payer, _ := generateKey(t)
	program, _ := generateKey(t)
	account, _ := generateKey(t)

	txn := NewTransaction(
		payer,
		NewInstruction(program, nil, NewReadonlyAccountMeta(account, false)),
		NewInstruction(program, nil, NewAccountMeta(account, true)),
	)

	// The duplicated account appears once, with the writable and signer
	// permissions merged.
	var count int
	for _, a := range txn.Message.Accounts {
		if bytes.Equal(a, account) {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.EqualValues(t, 2, txn.Message.Header.NumSignatures)
}

func TestTransaction_SignAndVerify(t *testing.T) {
	payer, payerPriv := generateKey(t)
	program, _ := generateKey(t)

	txn := NewTransaction(
		payer,
		NewInstruction(program, []byte{42}),
	)
	txn.SetBlockhash(Blockhash{1, 2, 3})

	require.NoError(t, txn.Sign(payerPriv))

	messageBytes := txn.Message.Marshal()
	assert.True(t, ed25519.Verify(payer, messageBytes, txn.Signatures[0][:]))
}

func TestTransaction_SignUnknownAccount(t *testing.T) {
	payer, _ := generateKey(t)
	program, _ := generateKey(t)
	_, otherPriv := generateKey(t)

	txn := NewTransaction(
		payer,
		NewInstruction(program, nil),
	)

	assert.Error(t, txn.Sign(otherPriv))
}

func TestTransaction_MarshalRoundTrip(t *testing.T) {
	payer, payerPriv := generateKey(t)
	program, _ := generateKey(t)
	account, _ := generateKey(t)

	txn := NewTransaction(
		payer,
		NewInstruction(program, []byte{1, 2, 3, 4}, NewAccountMeta(account, false)),
	)
	txn.SetBlockhash(Blockhash{9, 9, 9})
	require.NoError(t, txn.Sign(payerPriv))

	marshalled := txn.Marshal()
	require.True(t, len(marshalled) <= MaxTransactionSize)

	var decoded Transaction
	require.NoError(t, decoded.Unmarshal(marshalled))

	assert.Equal(t, txn.Signatures, decoded.Signatures)
	assert.Equal(t, txn.Message.Header, decoded.Message.Header)
	assert.Equal(t, txn.Message.RecentBlockhash, decoded.Message.RecentBlockhash)
	assert.Equal(t, len(txn.Message.Accounts), len(decoded.Message.Accounts))
	for i := range txn.Message.Accounts {
		assert.Equal(t, []byte(txn.Message.Accounts[i]), []byte(decoded.Message.Accounts[i]))
	}
	require.Equal(t, len(txn.Message.Instructions), len(decoded.Message.Instructions))
	assert.Equal(t, txn.Message.Instructions[0].ProgramIndex, decoded.Message.Instructions[0].ProgramIndex)
	assert.Equal(t, txn.Message.Instructions[0].Data, decoded.Message.Instructions[0].Data)
}

func TestSignature_Base58RoundTrip(t *testing.T) {
	var sig Signature
	for i := range sig {
		sig[i] = byte(i)
	}

	parsed, err := NewSignatureFromString(sig.ToBase58())
	require.NoError(t, err)
	assert.Equal(t, sig, parsed)

	_, err = NewSignatureFromString("tooshort")
	assert.Error(t, err)
}
