package ext4

import (
	"encoding/binary"
	"testing"

	"github.com/keramics/keramics/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildXattrBlock lays out a one-block external attribute block with a
// single "user.myxattr" entry, matching the byte shapes used by the
// original implementation's own xattr entry fixture.
func buildXattrBlock(blockSize int64) []byte {
	buf := make([]byte, blockSize)
	copy(buf[0:4], xattrBlockMagic[:])

	entry := buf[32:]
	name := "myxattr"
	value := []byte("hello")
	valueOffset := int(blockSize) - 8 // value stored at the end of the block, clear of the entry table's zero terminator
	entry[0] = byte(len(name))
	entry[1] = 1 // name_index: "user."
	binary.LittleEndian.PutUint16(entry[2:4], uint16(valueOffset))
	binary.LittleEndian.PutUint32(entry[8:12], uint32(len(value)))
	copy(entry[xattrEntryHeaderSize:xattrEntryHeaderSize+len(name)], name)
	copy(buf[valueOffset:valueOffset+len(value)], value)
	return buf
}

func TestListXattr(t *testing.T) {
	const blockSize = 1024
	const xattrBlockNum = 1

	sb := &Superblock{LogBlockSize: 0} // 1024-byte blocks
	buf := make([]byte, 2*blockSize)
	copy(buf[xattrBlockNum*blockSize:], buildXattrBlock(blockSize))

	in := &Inode{FileACL: xattrBlockNum}
	got, err := ListXattr(stream.NewFake(buf), sb, in)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "user.myxattr", got[0].Name)
	assert.Equal(t, "hello", string(got[0].Value))

	value, err := GetXattr(stream.NewFake(buf), sb, in, "user.myxattr")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(value))
}

func TestListXattrNoACL(t *testing.T) {
	sb := &Superblock{LogBlockSize: 0}
	in := &Inode{FileACL: 0}
	got, err := ListXattr(stream.NewFake(make([]byte, 1024)), sb, in)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetXattrNotFound(t *testing.T) {
	const blockSize = 1024
	sb := &Superblock{LogBlockSize: 0}
	buf := make([]byte, 2*blockSize)
	copy(buf[blockSize:], buildXattrBlock(blockSize))
	in := &Inode{FileACL: 1}
	_, err := GetXattr(stream.NewFake(buf), sb, in, "user.missing")
	assert.Error(t, err)
}
