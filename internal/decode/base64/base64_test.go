package base64

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKnownVector(t *testing.T) {
	got, err := Decode("VGhpcyBpcyDDoSB0ZXN0Lg==")
	require.NoError(t, err)
	want := []byte{
		0x54, 0x68, 0x69, 0x73, 0x20, 0x69, 0x73, 0x20,
		0xC3, 0xA1, 0x20, 0x74, 0x65, 0x73, 0x74, 0x2E,
	}
	assert.True(t, bytes.Equal(want, got))
}

func TestRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 4, 17, 255} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i * 7)
		}
		enc := Encode(data)
		dec, err := Decode(enc)
		require.NoError(t, err)
		assert.Equal(t, data, dec)
	}
}

func TestDecodeUnpadded(t *testing.T) {
	_, err := Decode("VGhpcyBpcyDDoSB0ZXN0Lg")
	require.NoError(t, err)
}
