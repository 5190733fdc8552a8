package veilpay

import (
	"crypto/sha256"
	"encoding/binary"
)

// ViewKey is the 32-byte key under which a participant's notes are derived
// and encrypted.
type ViewKey [32]byte

// DeriveCommitment computes the note commitment binding an amount to a
// recipient's view key at a counter position.
func DeriveCommitment(recipient ViewKey, amount, counter uint64) [32]byte {
	h := sha256.New()
	h.Write([]byte("veilpay:note:commitment"))
	h.Write(recipient[:])

	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], amount)
	binary.LittleEndian.PutUint64(buf[8:], counter)
	h.Write(buf[:])

	var commitment [32]byte
	copy(commitment[:], h.Sum(nil))
	return commitment
}

// DeriveNullifier computes the spend marker for the note at a counter
// position. The counter never repeats within a run, so neither does the
// nullifier.
//
// The program routes a nullifier to its chunk account by the marker's first
// four bytes. Those bytes are zeroed so every spend lands in chunk zero and a
// run only needs a single nullifier set account.
func DeriveNullifier(owner ViewKey, counter uint64) [32]byte {
	h := sha256.New()
	h.Write([]byte("veilpay:note:nullifier"))
	h.Write(owner[:])

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], counter)
	h.Write(buf[:])

	var nullifier [32]byte
	copy(nullifier[:], h.Sum(nil))
	nullifier[0], nullifier[1], nullifier[2], nullifier[3] = 0, 0, 0, 0
	return nullifier
}

// EncryptNote produces the fixed-size note ciphertext for a recipient. The
// note payload is XORed with a keystream derived from the recipient's view
// key, so only the recipient can recover the amount.
func EncryptNote(recipient ViewKey, amount, counter uint64) []byte {
	payload := make([]byte, CiphertextSize)
	binary.LittleEndian.PutUint64(payload[0:], amount)
	binary.LittleEndian.PutUint64(payload[8:], counter)

	for block := 0; block*sha256.Size < CiphertextSize; block++ {
		h := sha256.New()
		h.Write([]byte("veilpay:note:keystream"))
		h.Write(recipient[:])

		var buf [16]byte
		binary.LittleEndian.PutUint64(buf[:8], counter)
		binary.LittleEndian.PutUint64(buf[8:], uint64(block))
		h.Write(buf[:])

		keystream := h.Sum(nil)
		for i, b := range keystream {
			payload[block*sha256.Size+i] ^= b
		}
	}

	return payload
}

// DecryptNote recovers the amount and counter from a note ciphertext. It is
// the inverse of EncryptNote; a ciphertext produced for a different view key
// decodes to garbage rather than an error.
func DecryptNote(recipient ViewKey, ciphertext []byte, counter uint64) (amount uint64, ok bool) {
	if len(ciphertext) != CiphertextSize {
		return 0, false
	}

	h := sha256.New()
	h.Write([]byte("veilpay:note:keystream"))
	h.Write(recipient[:])

	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], counter)
	h.Write(buf[:])

	keystream := h.Sum(nil)
	var amountBytes [8]byte
	for i := range amountBytes {
		amountBytes[i] = ciphertext[i] ^ keystream[i]
	}

	var counterBytes [8]byte
	for i := range counterBytes {
		counterBytes[i] = ciphertext[8+i] ^ keystream[8+i]
	}
	if binary.LittleEndian.Uint64(counterBytes[:]) != counter {
		return 0, false
	}

	return binary.LittleEndian.Uint64(amountBytes[:]), true
}
