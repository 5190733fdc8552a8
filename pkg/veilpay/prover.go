package veilpay

import (
	"context"
	"crypto/sha256"
)

const proofSize = 256

// Prover produces spend proofs for the verifier program.
type Prover interface {
	// ProveSpend generates a proof attesting to the provided public inputs.
	ProveSpend(ctx context.Context, inputs PublicInputs) ([]byte, error)
}

type localProver struct{}

// NewLocalProver returns a prover compatible with the development verifier,
// which accepts any well-formed proof. The proof bytes are derived from the
// public inputs so identical spends yield identical proofs.
func NewLocalProver() Prover {
	return &localProver{}
}

func (p *localProver) ProveSpend(_ context.Context, inputs PublicInputs) ([]byte, error) {
	marshalled, err := inputs.Marshal()
	if err != nil {
		return nil, err
	}

	proof := make([]byte, 0, proofSize)
	block := sha256.Sum256(marshalled)
	for len(proof) < proofSize {
		proof = append(proof, block[:]...)
		block = sha256.Sum256(block[:])
	}

	return proof[:proofSize], nil
}
