package veilpay

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

var ErrInvalidPublicInputs = errors.New("invalid public inputs")

// PublicInputs is the public component of a spend proof. It marshals to a
// fixed vector of 13 32-byte words, matching the layout the program parses:
// root, identity root, four nullifiers, two output commitments, two output
// enabled flags, amount out, fee amount, and circuit id.
type PublicInputs struct {
	Root         [32]byte
	IdentityRoot [32]byte

	// Nullifiers are the spend markers consumed by this proof. Zero-valued
	// entries are ignored by the program.
	Nullifiers [][32]byte

	// OutputCommitments are the new note commitments created by this proof.
	OutputCommitments [][32]byte

	AmountOut uint64
	FeeAmount uint64
	CircuitID uint32
}

// Marshal encodes the public inputs into the program's fixed word vector.
// Scalars occupy the trailing bytes of their word, big-endian.
func (p PublicInputs) Marshal() ([]byte, error) {
	if len(p.Nullifiers) > maxSpendInputs {
		return nil, errors.Wrap(ErrInvalidPublicInputs, "too many nullifiers")
	}
	if len(p.OutputCommitments) > maxSpendOutputs {
		return nil, errors.Wrap(ErrInvalidPublicInputs, "too many output commitments")
	}

	buf := make([]byte, PublicInputWords*32)

	copy(buf[0:], p.Root[:])
	copy(buf[32:], p.IdentityRoot[:])

	for i, nullifier := range p.Nullifiers {
		copy(buf[(2+i)*32:], nullifier[:])
	}
	for i, commitment := range p.OutputCommitments {
		copy(buf[(6+i)*32:], commitment[:])
		buf[(8+i)*32+31] = 1
	}

	binary.BigEndian.PutUint64(buf[10*32+24:], p.AmountOut)
	binary.BigEndian.PutUint64(buf[11*32+24:], p.FeeAmount)
	binary.BigEndian.PutUint32(buf[12*32+28:], p.CircuitID)

	return buf, nil
}
