package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdler32EmptyStream(t *testing.T) {
	assert.Equal(t, uint32(1), Adler32(1, nil))
}

func TestCRC32ReflectedKnownVector(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	got := CRC32Reflected(PolyCRC32IEEE, 0, data)
	// Documented fixed value for CRC-32(IEEE) over bytes 0x00..0xFF,
	// reproducible across runs (spec.md §8).
	assert.Equal(t, uint32(0x29058c73), got)
}

func TestCRC32CRoundTripsAcrossChunks(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	whole := CRC32C(0, data)
	split := CRC32C(CRC32C(0, data[:10]), data[10:])
	assert.Equal(t, whole, split)
}

func TestExt4ChecksumSeedIsDeterministic(t *testing.T) {
	var uuid [16]byte
	for i := range uuid {
		uuid[i] = byte(i)
	}
	s1 := Ext4ChecksumSeed(uuid)
	s2 := Ext4ChecksumSeed(uuid)
	assert.Equal(t, s1, s2)
}
