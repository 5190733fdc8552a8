// Package accumulator provides the client-side commitment accumulator for the
// shielded pool. Every state-mutating protocol operation appends a commitment
// and yields a new root, which must match the root the program computes.
package accumulator

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"math"

	"github.com/pkg/errors"
)

type Hash []byte
type Leaf []byte

const (
	// DefaultLevels matches the shielded pool's on-chain tree depth.
	DefaultLevels = 20

	maxLevels = 63
)

var (
	ErrAccumulatorFull   = errors.New("accumulator is full")
	ErrInvalidLevelCount = errors.New("level count is invalid")
	ErrLeafNotFound      = errors.New("leaf not found")
)

// Accumulator is an incremental sha256 merkle tree. Only the filled subtrees
// are retained for appending, plus the raw leaves for proof construction.
type Accumulator struct {
	levels         uint8
	nextIndex      uint64
	root           Hash
	leaves         []Hash
	filledSubtrees []Hash
	zeroValues     []Hash
}

func New(levels uint8, seed []byte) (*Accumulator, error) {
	if levels < 1 || levels > maxLevels {
		return nil, ErrInvalidLevelCount
	}

	zeroValues := calculateZeroValues(levels, seed)
	filledSubtrees := calculateZeroValues(levels, seed)

	return &Accumulator{
		levels:         levels,
		nextIndex:      0,
		root:           zeroValues[len(zeroValues)-1],
		filledSubtrees: filledSubtrees,
		zeroValues:     zeroValues,
	}, nil
}

// Add appends a leaf and returns the new root.
func (t *Accumulator) Add(leaf Leaf) (Hash, error) {
	if t.nextIndex >= uint64(math.Pow(2, float64(t.levels))) {
		return nil, ErrAccumulatorFull
	}

	currentIndex := t.nextIndex
	currentLevelHash := hash(leaf)

	t.leaves = append(t.leaves, currentLevelHash)

	var left, right Hash
	for i := 0; i < int(t.levels); i++ {
		if currentIndex%2 == 0 {
			left = currentLevelHash
			right = t.zeroValues[i]
			t.filledSubtrees[i] = currentLevelHash
		} else {
			left = t.filledSubtrees[i]
			right = currentLevelHash
		}

		currentLevelHash = hashLeftRight(left, right)
		currentIndex = currentIndex / 2
	}

	t.root = currentLevelHash
	t.nextIndex++

	return t.Root(), nil
}

// Clone returns a deep copy. Callers use it to compute the root a pending
// append would produce without committing the append.
func (t *Accumulator) Clone() *Accumulator {
	cpy := &Accumulator{
		levels:         t.levels,
		nextIndex:      t.nextIndex,
		root:           t.Root(),
		leaves:         make([]Hash, len(t.leaves)),
		filledSubtrees: make([]Hash, len(t.filledSubtrees)),
		zeroValues:     make([]Hash, len(t.zeroValues)),
	}

	copy(cpy.leaves, t.leaves)
	copy(cpy.filledSubtrees, t.filledSubtrees)
	copy(cpy.zeroValues, t.zeroValues)

	return cpy
}

// Root returns a copy of the current root.
func (t *Accumulator) Root() Hash {
	var cpy Hash
	return append(cpy, t.root...)
}

func (t *Accumulator) GetLeafCount() uint64 {
	return uint64(len(t.leaves))
}

func (t *Accumulator) GetIndexForLeaf(leaf Leaf) (uint64, error) {
	hashed := hash(leaf)
	for i := 0; i < len(t.leaves); i++ {
		if bytes.Equal(hashed, t.leaves[i]) {
			return uint64(i), nil
		}
	}

	return 0, ErrLeafNotFound
}

// GetProofForLeafAtIndex generates a merkle inclusion proof for the leaf at
// forLeaf, against the tree state as of untilLeaf.
func (t *Accumulator) GetProofForLeafAtIndex(forLeaf, untilLeaf uint64) ([]Hash, error) {
	if forLeaf >= uint64(len(t.leaves)) {
		return nil, ErrLeafNotFound
	}
	if untilLeaf >= uint64(len(t.leaves)) {
		return nil, ErrLeafNotFound
	}

	if forLeaf > untilLeaf {
		return nil, errors.New("forLeaf is after untilLeaf")
	}

	layers := make([][]Hash, t.levels)
	currentLayer := t.leaves[:untilLeaf+1]
	for i := 0; i < int(t.levels); i++ {
		if len(currentLayer)%2 != 0 {
			currentLayer = appendToLayer(currentLayer, t.zeroValues[i])
		}

		layers[i] = currentLayer
		currentLayer = hashPairs(currentLayer)
	}

	proof := make([]Hash, t.levels)
	currentIndex := forLeaf

	for i := 0; i < int(t.levels); i++ {
		var sibling Hash
		if currentIndex%2 == 0 {
			sibling = layers[i][currentIndex+1]
		} else {
			sibling = layers[i][currentIndex-1]
		}
		proof[i] = sibling

		currentIndex = currentIndex / 2
	}

	return proof, nil
}

// Verify checks a merkle inclusion proof against a root.
func Verify(proof []Hash, root Hash, leaf Leaf) bool {
	computedHash := hash(leaf)
	for _, proofElement := range proof {
		computedHash = hashLeftRight(computedHash, proofElement)
	}
	return bytes.Equal(computedHash, root)
}

func calculateZeroValues(levels uint8, seed []byte) []Hash {
	zeros := make([]Hash, 0)

	current := hash(seed)
	for i := 0; i < int(levels); i++ {
		current = hashLeftRight(current, current)
		zeros = append(zeros, current)
	}
	return zeros
}

func hashLeftRight(left, right Hash) Hash {
	var combined []byte
	if bytes.Compare(left, right) < 0 {
		combined = append(append(combined, left...), right...)
	} else {
		combined = append(append(combined, right...), left...)
	}
	return hash(combined)
}

func hash(value []byte) Hash {
	hasher := sha256.New()
	hasher.Write(value)
	return hasher.Sum(nil)
}

func hashPairs(layer []Hash) []Hash {
	var res []Hash
	for i := 0; i < len(layer); i += 2 {
		hashed := hashLeftRight(layer[i], layer[i+1])
		res = append(res, hashed)
	}
	return res
}

func appendToLayer(slice []Hash, hashes ...Hash) []Hash {
	var res []Hash
	res = append(res, slice...)
	res = append(res, hashes...)
	return res
}

func (h Hash) String() string {
	return hex.EncodeToString(h)
}
