package scanner

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keramics/keramics/internal/kerr"
	"github.com/keramics/keramics/internal/stream"
	"github.com/keramics/keramics/internal/vfs"
)

func TestDetectQcow(t *testing.T) {
	buf := make([]byte, 1024)
	copy(buf, []byte{'Q', 'F', 'I', 0xfb})
	f, err := Detect(stream.NewFake(buf))
	require.NoError(t, err)
	assert.Equal(t, FormatQcow, f)
}

func TestDetectVhdx(t *testing.T) {
	buf := make([]byte, 1024)
	copy(buf, []byte("vhdxfile"))
	f, err := Detect(stream.NewFake(buf))
	require.NoError(t, err)
	assert.Equal(t, FormatVhdx, f)
}

func TestDetectNtfs(t *testing.T) {
	buf := make([]byte, 512)
	copy(buf[3:], []byte("NTFS    "))
	f, err := Detect(stream.NewFake(buf))
	require.NoError(t, err)
	assert.Equal(t, FormatNtfs, f)
}

func TestDetectExt4(t *testing.T) {
	buf := make([]byte, 2048)
	binary.LittleEndian.PutUint16(buf[1024+56:], 0xef53)
	f, err := Detect(stream.NewFake(buf))
	require.NoError(t, err)
	assert.Equal(t, FormatExt, f)
}

func TestDetectFATDistinguishedFromMBR(t *testing.T) {
	buf := make([]byte, 512)
	binary.LittleEndian.PutUint16(buf[11:], 512) // bytes per sector
	buf[13] = 1                                  // sectors per cluster
	buf[510], buf[511] = 0x55, 0xaa
	f, err := Detect(stream.NewFake(buf))
	require.NoError(t, err)
	assert.Equal(t, FormatFat, f)
}

func TestDetectPlainMBR(t *testing.T) {
	buf := make([]byte, 512)
	// bytes-per-sector/sectors-per-cluster fields left zero, so the
	// FAT heuristic rejects it and it falls through to MBR.
	buf[510], buf[511] = 0x55, 0xaa
	f, err := Detect(stream.NewFake(buf))
	require.NoError(t, err)
	assert.Equal(t, FormatMbr, f)
}

func TestDetectMBRAndGPTNotAmbiguous(t *testing.T) {
	buf := make([]byte, 1024)
	buf[510], buf[511] = 0x55, 0xaa
	copy(buf[512:], []byte("EFI PART"))
	f, err := Detect(stream.NewFake(buf))
	require.NoError(t, err)
	assert.Equal(t, FormatGpt, f)
}

func TestDetectUdifTrailer(t *testing.T) {
	buf := make([]byte, 4096)
	copy(buf[len(buf)-512:], []byte("koly"))
	f, err := Detect(stream.NewFake(buf))
	require.NoError(t, err)
	assert.Equal(t, FormatUdif, f)
}

func TestDetectNotFound(t *testing.T) {
	buf := make([]byte, 512)
	_, err := Detect(stream.NewFake(buf))
	assert.True(t, kerr.Of(err, kerr.ErrNotFound))
}

func TestDetectAmbiguousTwoUnrelatedSignatures(t *testing.T) {
	buf := make([]byte, 1024)
	copy(buf[0:], []byte{'Q', 'F', 'I', 0xfb})
	copy(buf[512:520], []byte("EFI PART"))
	_, err := Detect(stream.NewFake(buf))
	assert.True(t, kerr.Of(err, kerr.ErrAmbiguousSignature))
}

// putMBRPartition writes a single primary partition entry (slot 0)
// spanning [lbaStart, lbaStart+sectors) into a 512-byte boot sector.
func putMBRBootSector(typ byte, lbaStart, sectors uint32) []byte {
	buf := make([]byte, 512)
	raw := buf[446:462]
	raw[4] = typ
	binary.LittleEndian.PutUint32(raw[8:12], lbaStart)
	binary.LittleEndian.PutUint32(raw[12:16], sectors)
	buf[510], buf[511] = 0x55, 0xaa
	return buf
}

func TestScanMBRWithOneUnrecognizedPartition(t *testing.T) {
	const sectorSize = 512
	disk := make([]byte, 64*sectorSize)
	copy(disk[0:sectorSize], putMBRBootSector(0x83, 2, 10))
	// Partition payload is left as zero bytes: no recognizable format.

	dir := t.TempDir()
	path := filepath.Join(dir, "disk.raw")
	require.NoError(t, os.WriteFile(path, disk, 0o644))

	resolver := vfs.NewResolver()
	root := vfs.Location{{Type: vfs.Os, Path: path}}
	node, err := Scan(context.Background(), resolver, root)
	require.NoError(t, err)

	require.Equal(t, FormatMbr, node.Format)
	require.Len(t, node.SubNodes, 1)
	assert.Equal(t, FormatUnknown, node.SubNodes[0].Format)
	assert.Empty(t, node.SubNodes[0].SubNodes)
}

func TestScanPlainFileNoSignature(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0o644))

	resolver := vfs.NewResolver()
	root := vfs.Location{{Type: vfs.Os, Path: path}}
	node, err := Scan(context.Background(), resolver, root)
	require.NoError(t, err)
	assert.Equal(t, FormatUnknown, node.Format)
	assert.Nil(t, node.SubNodes)
}

func TestScanNestedMBRWithQcowPartition(t *testing.T) {
	const sectorSize = 512
	// Partition 1 holds bytes that announce QCOW but aren't a valid
	// QCOW header; qcow.Open should fail and Scan records it as a
	// soft error rather than aborting the whole scan.
	qcowish := make([]byte, 20*sectorSize)
	copy(qcowish, []byte{'Q', 'F', 'I', 0xfb})

	disk := make([]byte, 2*sectorSize+len(qcowish))
	copy(disk[0:sectorSize], putMBRBootSector(0x83, 2, uint32(len(qcowish)/sectorSize)))
	copy(disk[2*sectorSize:], qcowish)

	dir := t.TempDir()
	path := filepath.Join(dir, "disk.raw")
	require.NoError(t, os.WriteFile(path, disk, 0o644))

	resolver := vfs.NewResolver()
	root := vfs.Location{{Type: vfs.Os, Path: path}}
	node, err := Scan(context.Background(), resolver, root)
	require.NoError(t, err)

	require.Equal(t, FormatMbr, node.Format)
	require.Len(t, node.SubNodes, 1)
	child := node.SubNodes[0]
	assert.Equal(t, FormatQcow, child.Format)
	assert.NotEmpty(t, child.Errors)
}
