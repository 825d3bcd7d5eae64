package fat

import (
	"encoding/binary"
	"testing"

	"github.com/keramics/keramics/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putShortEntry(rec []byte, name83 string, attr byte, startCluster int64, size uint32) {
	copy(rec[0:11], []byte(name83))
	rec[11] = attr
	binary.LittleEndian.PutUint16(rec[20:22], uint16(startCluster>>16))
	binary.LittleEndian.PutUint16(rec[26:28], uint16(startCluster&0xffff))
	binary.LittleEndian.PutUint32(rec[28:32], size)
}

func putLongEntry(rec []byte, ordinal byte, last bool, chars string) {
	o := ordinal
	if last {
		o |= 0x40
	}
	rec[0] = o
	rec[11] = attrLongName

	u16 := make([]uint16, 13)
	for i := range u16 {
		u16[i] = 0xffff
	}
	for i, r := range chars {
		u16[i] = uint16(r)
	}
	if len(chars) < 13 {
		u16[len(chars)] = 0
	}
	putU16 := func(off int, v uint16) { binary.LittleEndian.PutUint16(rec[off:off+2], v) }
	for i := 0; i < 5; i++ {
		putU16(1+i*2, u16[i])
	}
	for i := 0; i < 6; i++ {
		putU16(14+i*2, u16[5+i])
	}
	for i := 0; i < 2; i++ {
		putU16(28+i*2, u16[11+i])
	}
}

// buildImage lays out a minimal FAT12 volume: root directory with a
// plain short-name file "HELLO.TXT" and a VFAT long-named file
// "longfilename.txt", each a single data cluster.
func buildImage(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, 4096)

	binary.LittleEndian.PutUint16(buf[11:13], 512)
	buf[13] = 1 // sectors per cluster
	binary.LittleEndian.PutUint16(buf[14:16], 1) // reserved sectors
	buf[16] = 1                                   // num FATs
	binary.LittleEndian.PutUint16(buf[17:19], 16) // root dir entries
	binary.LittleEndian.PutUint16(buf[19:21], 64) // total sectors
	binary.LittleEndian.PutUint16(buf[22:24], 1)  // FAT size (sectors)
	buf[510], buf[511] = 0x55, 0xaa

	const fatBase = 512 // reservedSectors(1) * bytesPerSector(512)
	binary.LittleEndian.PutUint16(buf[fatBase+2+1:fatBase+2+1+2], 0xffff) // cluster 2 terminator
	binary.LittleEndian.PutUint16(buf[fatBase+4+2:fatBase+4+2+2], 0xffff) // cluster 4 terminator

	const rootDirOffset = 1024 // rootDirSector(2) * 512
	root := buf[rootDirOffset : rootDirOffset+512]
	putLongEntry(root[0:32], 2, true, "txt")
	putLongEntry(root[32:64], 1, false, "longfilename.")
	putShortEntry(root[64:96], "LONGFI~1TXT", 0x20, 4, 5)
	putShortEntry(root[96:128], "HELLO   TXT", 0x20, 2, 2)

	copy(buf[3*512:], "hi")   // cluster 2 data
	copy(buf[5*512:], "world") // cluster 4 data

	return buf
}

func TestOpenInfersFAT12(t *testing.T) {
	data := buildImage(t)
	fs, err := Open(stream.NewFake(data))
	require.NoError(t, err)
	assert.Equal(t, Type12, fs.boot.Type)
}

func TestReadFileShortName(t *testing.T) {
	data := buildImage(t)
	fs, err := Open(stream.NewFake(data))
	require.NoError(t, err)

	got, err := fs.ReadFile("/HELLO.TXT")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got))
}

func TestReadFileLongName(t *testing.T) {
	data := buildImage(t)
	fs, err := Open(stream.NewFake(data))
	require.NoError(t, err)

	entries, err := fs.ListDir(nil, false)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var longEntry *DirEntry
	for i := range entries {
		if entries[i].Name == "longfilename.txt" {
			longEntry = &entries[i]
		}
	}
	require.NotNil(t, longEntry, "expected assembled VFAT long name")

	got, err := fs.ReadFile("/longfilename.txt")
	require.NoError(t, err)
	assert.Equal(t, "world", string(got))
}

func TestOpenRejectsBadSignature(t *testing.T) {
	data := make([]byte, 512)
	_, err := Open(stream.NewFake(data))
	assert.Error(t, err)
}
