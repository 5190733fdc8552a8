package accumulator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulator_RootEvolution(t *testing.T) {
	a, err := New(4, []byte("seed"))
	require.NoError(t, err)

	initial := a.Root()

	// Roots are deterministic: a second tree fed the same leaves follows
	// the same root sequence.
	b, err := New(4, []byte("seed"))
	require.NoError(t, err)
	assert.Equal(t, initial, b.Root())

	var prev = initial
	for _, leaf := range []string{"one", "two", "three"} {
		rootA, err := a.Add([]byte(leaf))
		require.NoError(t, err)

		rootB, err := b.Add([]byte(leaf))
		require.NoError(t, err)

		assert.Equal(t, rootA, rootB)
		assert.NotEqual(t, prev, rootA)
		assert.Equal(t, rootA, a.Root())

		prev = rootA
	}

	assert.EqualValues(t, 3, a.GetLeafCount())
}

func TestAccumulator_DifferentSeedsDiverge(t *testing.T) {
	a, err := New(4, []byte("seed-a"))
	require.NoError(t, err)

	b, err := New(4, []byte("seed-b"))
	require.NoError(t, err)

	assert.NotEqual(t, a.Root(), b.Root())
}

func TestAccumulator_Full(t *testing.T) {
	a, err := New(1, []byte("seed"))
	require.NoError(t, err)

	_, err = a.Add([]byte("one"))
	require.NoError(t, err)
	_, err = a.Add([]byte("two"))
	require.NoError(t, err)

	_, err = a.Add([]byte("three"))
	assert.Equal(t, ErrAccumulatorFull, err)
}

func TestAccumulator_InvalidLevels(t *testing.T) {
	_, err := New(0, []byte("seed"))
	assert.Equal(t, ErrInvalidLevelCount, err)

	_, err = New(64, []byte("seed"))
	assert.Equal(t, ErrInvalidLevelCount, err)
}

func TestAccumulator_Proofs(t *testing.T) {
	a, err := New(4, []byte("seed"))
	require.NoError(t, err)

	leaves := []Leaf{
		[]byte("one"),
		[]byte("two"),
		[]byte("three"),
		[]byte("four"),
		[]byte("five"),
	}
	for _, leaf := range leaves {
		_, err := a.Add(leaf)
		require.NoError(t, err)
	}

	for i, leaf := range leaves {
		index, err := a.GetIndexForLeaf(leaf)
		require.NoError(t, err)
		assert.EqualValues(t, i, index)

		proof, err := a.GetProofForLeafAtIndex(index, a.GetLeafCount()-1)
		require.NoError(t, err)

		assert.True(t, Verify(proof, a.Root(), leaf))
		assert.False(t, Verify(proof, a.Root(), []byte("other")))
	}

	_, err = a.GetIndexForLeaf([]byte("other"))
	assert.Equal(t, ErrLeafNotFound, err)
}

func TestAccumulator_CloneIsIndependent(t *testing.T) {
	a, err := New(4, []byte("seed"))
	require.NoError(t, err)

	_, err = a.Add([]byte("one"))
	require.NoError(t, err)

	cloned := a.Clone()
	assert.Equal(t, a.Root(), cloned.Root())

	clonedRoot, err := cloned.Add([]byte("two"))
	require.NoError(t, err)

	// The original is untouched by the clone's append.
	assert.NotEqual(t, a.Root(), Hash(clonedRoot))
	assert.EqualValues(t, 1, a.GetLeafCount())
	assert.EqualValues(t, 2, cloned.GetLeafCount())

	// Applying the same append to the original converges.
	originalRoot, err := a.Add([]byte("two"))
	require.NoError(t, err)
	assert.Equal(t, Hash(originalRoot), Hash(clonedRoot))
}
