package textcodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestASCIIRoundTrip(t *testing.T) {
	s, err := Decode(ASCII, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}

func TestISO8859_1RoundTrip(t *testing.T) {
	for cp := 0; cp < 256; cp++ {
		enc, err := Encode(ISO8859_1, string(rune(cp)))
		if err != nil {
			continue
		}
		dec, err := Decode(ISO8859_1, enc)
		require.NoError(t, err)
		assert.Equal(t, string(rune(cp)), dec)
	}
}

func TestUnsupportedMacCodePage(t *testing.T) {
	_, err := Decode(MacArabic, []byte{0x41})
	assert.Error(t, err)
}

func TestUTF16LERoundTrip(t *testing.T) {
	want := "keramics"
	enc, err := EncodeUTF16LE(want)
	require.NoError(t, err)
	got, err := DecodeUTF16LE(enc)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
