package ext4

import (
	"encoding/binary"
	"testing"

	"github.com/keramics/keramics/internal/kerr"
	"github.com/keramics/keramics/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildImage lays out a minimal one-block-group ext4 image with
// 1024-byte blocks: a root directory (classic indirect block) holding
// one regular file ("hello") whose content lives in a single extent.
func buildImage(t *testing.T) []byte {
	t.Helper()
	const (
		blockSize      = 1024
		inodesPerGroup = 8
		inodeSize      = 128
		rootIno        = 2
		fileIno        = 3

		blockBoot      = 0
		blockSuper     = 1
		blockGDT       = 2
		blockInodeTbl  = 3
		blockRootDir   = 4
		blockFileData  = 6
		totalBlocks    = 8
	)
	buf := make([]byte, totalBlocks*blockSize)

	sb := buf[blockSuper*blockSize : blockSuper*blockSize+1024]
	binary.LittleEndian.PutUint32(sb[4:8], totalBlocks)   // blocks_count_lo
	binary.LittleEndian.PutUint32(sb[24:28], 0)            // log_block_size -> 1024
	binary.LittleEndian.PutUint32(sb[32:36], 32768)        // blocks_per_group
	binary.LittleEndian.PutUint32(sb[40:44], inodesPerGroup)
	binary.LittleEndian.PutUint16(sb[56:58], ext4Magic)
	binary.LittleEndian.PutUint16(sb[88:90], inodeSize)

	gd := buf[blockGDT*blockSize : blockGDT*blockSize+32]
	binary.LittleEndian.PutUint32(gd[8:12], blockInodeTbl)

	writeInode := func(ino uint32, mode uint16, flags uint32, size uint32, iBlock []byte) {
		localIndex := int64(ino-1) % inodesPerGroup
		off := blockInodeTbl*blockSize + int(localIndex)*inodeSize
		in := buf[off : off+inodeSize]
		binary.LittleEndian.PutUint16(in[0:2], mode)
		binary.LittleEndian.PutUint32(in[4:8], size)
		binary.LittleEndian.PutUint32(in[32:36], flags)
		copy(in[40:100], iBlock)
	}

	// Root directory inode: classic indirect block pointing at blockRootDir.
	rootBlock := make([]byte, 60)
	binary.LittleEndian.PutUint32(rootBlock[0:4], blockRootDir)
	writeInode(rootIno, 0x4000|0o755, 0, blockSize, rootBlock)

	// Root directory data: one entry "hello" -> fileIno, spanning the
	// whole block.
	dirData := buf[blockRootDir*blockSize : blockRootDir*blockSize+blockSize]
	binary.LittleEndian.PutUint32(dirData[0:4], fileIno)
	binary.LittleEndian.PutUint16(dirData[4:6], blockSize)
	dirData[6] = 5 // name_len
	dirData[7] = 1 // file_type: regular
	copy(dirData[8:13], []byte("hello"))

	// File inode: EXTENTS flag, one leaf extent pointing at blockFileData.
	content := []byte("hello world")
	fileIBlock := make([]byte, 60)
	binary.LittleEndian.PutUint16(fileIBlock[0:2], extentHeaderMagic)
	binary.LittleEndian.PutUint16(fileIBlock[2:4], 1) // entries
	binary.LittleEndian.PutUint16(fileIBlock[4:6], 4) // max
	binary.LittleEndian.PutUint16(fileIBlock[6:8], 0) // depth
	leaf := fileIBlock[12:24]
	binary.LittleEndian.PutUint32(leaf[0:4], 0) // logical block
	binary.LittleEndian.PutUint16(leaf[4:6], 1) // length
	binary.LittleEndian.PutUint16(leaf[6:8], 0) // start_hi
	binary.LittleEndian.PutUint32(leaf[8:12], blockFileData)
	writeInode(fileIno, 0x8000|0o644, inodeFlagExtents, uint32(len(content)), fileIBlock)

	copy(buf[blockFileData*blockSize:], content)

	return buf
}

func TestOpenAndReadFile(t *testing.T) {
	data := buildImage(t)
	fs, err := Open(stream.NewFake(data))
	require.NoError(t, err)

	got, err := fs.ReadFile("/hello")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestResolveNotFound(t *testing.T) {
	data := buildImage(t)
	fs, err := Open(stream.NewFake(data))
	require.NoError(t, err)

	_, err = fs.Resolve("/missing")
	assert.Error(t, err)
}

func TestOpenRejectsBadMagic(t *testing.T) {
	data := make([]byte, 2048)
	_, err := Open(stream.NewFake(data))
	assert.Error(t, err)
}

// buildSymlinkImage lays out a root directory holding "hello" (a
// regular file), "link" (a fast symlink to "/hello"), and "loop" (a
// fast symlink to itself, "/loop").
func buildSymlinkImage(t *testing.T) []byte {
	t.Helper()
	const (
		blockSize      = 1024
		inodesPerGroup = 8
		inodeSize      = 128
		rootIno        = 2
		fileIno        = 3
		linkIno        = 4
		loopIno        = 5

		blockSuper    = 1
		blockGDT      = 2
		blockInodeTbl = 3
		blockRootDir  = 4
		blockFileData = 6
		totalBlocks   = 8
	)
	buf := make([]byte, totalBlocks*blockSize)

	sb := buf[blockSuper*blockSize : blockSuper*blockSize+1024]
	binary.LittleEndian.PutUint32(sb[4:8], totalBlocks)
	binary.LittleEndian.PutUint32(sb[24:28], 0)
	binary.LittleEndian.PutUint32(sb[32:36], 32768)
	binary.LittleEndian.PutUint32(sb[40:44], inodesPerGroup)
	binary.LittleEndian.PutUint16(sb[56:58], ext4Magic)
	binary.LittleEndian.PutUint16(sb[88:90], inodeSize)

	gd := buf[blockGDT*blockSize : blockGDT*blockSize+32]
	binary.LittleEndian.PutUint32(gd[8:12], blockInodeTbl)

	writeInode := func(ino uint32, mode uint16, flags uint32, size uint32, iBlock []byte) {
		localIndex := int64(ino-1) % inodesPerGroup
		off := blockInodeTbl*blockSize + int(localIndex)*inodeSize
		in := buf[off : off+inodeSize]
		binary.LittleEndian.PutUint16(in[0:2], mode)
		binary.LittleEndian.PutUint32(in[4:8], size)
		binary.LittleEndian.PutUint32(in[32:36], flags)
		copy(in[40:100], iBlock)
	}

	rootBlock := make([]byte, 60)
	binary.LittleEndian.PutUint32(rootBlock[0:4], blockRootDir)
	writeInode(rootIno, 0x4000|0o755, 0, blockSize, rootBlock)

	dirData := buf[blockRootDir*blockSize : blockRootDir*blockSize+blockSize]
	writeDirent := func(off int, ino uint32, recLen uint16, fileType byte, name string) {
		binary.LittleEndian.PutUint32(dirData[off:off+4], ino)
		binary.LittleEndian.PutUint16(dirData[off+4:off+6], recLen)
		dirData[off+6] = byte(len(name))
		dirData[off+7] = fileType
		copy(dirData[off+8:off+8+len(name)], name)
	}
	writeDirent(0, fileIno, 16, 1, "hello")
	writeDirent(16, linkIno, 12, 7, "link")
	writeDirent(28, loopIno, uint16(blockSize-28), 7, "loop")

	content := []byte("hello world")
	fileIBlock := make([]byte, 60)
	binary.LittleEndian.PutUint16(fileIBlock[0:2], extentHeaderMagic)
	binary.LittleEndian.PutUint16(fileIBlock[2:4], 1)
	binary.LittleEndian.PutUint16(fileIBlock[4:6], 4)
	binary.LittleEndian.PutUint16(fileIBlock[6:8], 0)
	leaf := fileIBlock[12:24]
	binary.LittleEndian.PutUint32(leaf[0:4], 0)
	binary.LittleEndian.PutUint16(leaf[4:6], 1)
	binary.LittleEndian.PutUint16(leaf[6:8], 0)
	binary.LittleEndian.PutUint32(leaf[8:12], blockFileData)
	writeInode(fileIno, 0x8000|0o644, inodeFlagExtents, uint32(len(content)), fileIBlock)
	copy(buf[blockFileData*blockSize:], content)

	linkTarget := "/hello"
	linkIBlock := make([]byte, 60)
	copy(linkIBlock, linkTarget)
	writeInode(linkIno, 0xa000|0o777, 0, uint32(len(linkTarget)), linkIBlock)

	loopTarget := "/loop"
	loopIBlock := make([]byte, 60)
	copy(loopIBlock, loopTarget)
	writeInode(loopIno, 0xa000|0o777, 0, uint32(len(loopTarget)), loopIBlock)

	return buf
}

func TestResolveSymlink(t *testing.T) {
	data := buildSymlinkImage(t)
	fs, err := Open(stream.NewFake(data))
	require.NoError(t, err)

	got, err := fs.ReadFile("/link")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestResolveSymlinkLoop(t *testing.T) {
	data := buildSymlinkImage(t)
	fs, err := Open(stream.NewFake(data))
	require.NoError(t, err)

	_, err = fs.Resolve("/loop")
	require.Error(t, err)
	assert.ErrorIs(t, err, kerr.ErrSymlinkLoop)
}
