package shortvec

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortVec_Valid(t *testing.T) {
	for i := 0; i <= math.MaxUint16; i++ {
		buf := &bytes.Buffer{}

		n, err := EncodeLen(buf, i)
		require.NoError(t, err)
		require.Equal(t, n, buf.Len())

		actual, err := DecodeLen(buf)
		require.NoError(t, err)
		require.Equal(t, i, actual)
	}
}

func TestShortVec_EncodedSizes(t *testing.T) {
	for _, tc := range []struct {
		val  int
		size int
	}{
		{0, 1},
		{0x7f, 1},
		{0x80, 2},
		{0x3fff, 2},
		{0x4000, 3},
		{math.MaxUint16, 3},
	} {
		buf := &bytes.Buffer{}
		n, err := EncodeLen(buf, tc.val)
		require.NoError(t, err)
		assert.Equal(t, tc.size, n, tc.val)
	}
}

func TestShortVec_TooLarge(t *testing.T) {
	buf := &bytes.Buffer{}
	_, err := EncodeLen(buf, math.MaxUint16+1)
	assert.Error(t, err)
}

func TestShortVec_InvalidDecode(t *testing.T) {
	// Over three continuation bytes is out of range.
	buf := bytes.NewBuffer([]byte{0xff, 0xff, 0xff, 0x01})
	_, err := DecodeLen(buf)
	assert.Error(t, err)

	// Truncated input.
	buf = bytes.NewBuffer([]byte{0xff})
	_, err = DecodeLen(buf)
	assert.Error(t, err)
}
