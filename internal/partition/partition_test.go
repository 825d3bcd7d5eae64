package partition

import (
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
	"github.com/keramics/keramics/internal/decode/checksum"
	"github.com/keramics/keramics/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildMBR(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, 2048*512)
	entry := buf[446:462]
	entry[0] = 0x80
	entry[4] = 0x83 // linux
	binary.LittleEndian.PutUint32(entry[8:12], 2048)
	binary.LittleEndian.PutUint32(entry[12:16], 1000)
	buf[510], buf[511] = 0x55, 0xaa
	return buf
}

func TestReadMBRPrimaryPartition(t *testing.T) {
	data := buildMBR(t)
	entries, err := ReadMBR(stream.NewFake(data))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2048*512), entries[0].Offset)
	assert.Equal(t, int64(1000*512), entries[0].Size)
	assert.Equal(t, "linux", entries[0].TypeLabel)
	assert.True(t, entries[0].Bootable)
}

func TestReadMBRRejectsBadSignature(t *testing.T) {
	data := make([]byte, 512)
	_, err := ReadMBR(stream.NewFake(data))
	assert.Error(t, err)
}

func buildGPT(t *testing.T) []byte {
	t.Helper()
	const (
		headerSize  = 92
		entrySize   = 128
		numEntries  = 1
		entryLBA    = 2
	)
	buf := make([]byte, 4096*512)
	hdr := buf[512 : 512+512]
	copy(hdr[0:8], []byte("EFI PART"))
	binary.LittleEndian.PutUint32(hdr[12:16], headerSize)
	binary.LittleEndian.PutUint64(hdr[72:80], entryLBA)
	binary.LittleEndian.PutUint32(hdr[80:84], numEntries)
	binary.LittleEndian.PutUint32(hdr[84:88], entrySize)
	binary.LittleEndian.PutUint32(hdr[16:20], 0)
	crc := checksum.CRC32Reflected(checksum.PolyCRC32IEEE, 0, hdr[0:headerSize])
	binary.LittleEndian.PutUint32(hdr[16:20], crc)

	entry := buf[entryLBA*512 : entryLBA*512+128]
	typeGUID := uuid.MustParse("0FC63DAF-8483-4772-8E79-3D69D8477DE4") // Linux filesystem data
	copy(entry[0:16], beGUIDToLE(typeGUID))
	binary.LittleEndian.PutUint64(entry[32:40], 100)
	binary.LittleEndian.PutUint64(entry[40:48], 199)
	return buf
}

func beGUIDToLE(id uuid.UUID) []byte {
	b, _ := id.MarshalBinary()
	out := make([]byte, 16)
	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	out[4], out[5] = b[5], b[4]
	out[6], out[7] = b[7], b[6]
	copy(out[8:16], b[8:16])
	return out
}

func TestReadGPTSinglePartition(t *testing.T) {
	data := buildGPT(t)
	entries, err := ReadGPT(stream.NewFake(data))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(100*512), entries[0].Offset)
	assert.Equal(t, int64(100*512), entries[0].Size)
	assert.Equal(t, "0fc63daf-8483-4772-8e79-3d69d8477de4", entries[0].TypeLabel)
}

func TestReadGPTRejectsBadSignature(t *testing.T) {
	data := make([]byte, 2048)
	_, err := ReadGPT(stream.NewFake(data))
	assert.Error(t, err)
}

func buildAPM(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, 16*512)
	buf[0], buf[1] = 'E', 'R'

	entry1 := buf[512 : 512+512]
	entry1[0], entry1[1] = 'P', 'M'
	binary.BigEndian.PutUint32(entry1[4:8], 2) // map_entries
	binary.BigEndian.PutUint32(entry1[8:12], 1)
	binary.BigEndian.PutUint32(entry1[12:16], 10)
	copy(entry1[16:48], []byte("Apple"))
	copy(entry1[48:80], []byte("Apple_partition_map"))

	entry2 := buf[1024 : 1024+512]
	entry2[0], entry2[1] = 'P', 'M'
	binary.BigEndian.PutUint32(entry2[8:12], 20)
	binary.BigEndian.PutUint32(entry2[12:16], 100)
	copy(entry2[16:48], []byte("data"))
	copy(entry2[48:80], []byte("Apple_HFS"))
	return buf
}

func TestReadAPMEntries(t *testing.T) {
	data := buildAPM(t)
	entries, err := ReadAPM(stream.NewFake(data))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Apple_partition_map", entries[0].TypeLabel)
	assert.Equal(t, int64(20*512), entries[1].Offset)
	assert.Equal(t, "Apple_HFS", entries[1].TypeLabel)
}

func TestReadAPMRejectsBadSignature(t *testing.T) {
	data := make([]byte, 1024)
	_, err := ReadAPM(stream.NewFake(data))
	assert.Error(t, err)
}
