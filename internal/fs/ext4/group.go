package ext4

import (
	"encoding/binary"

	"github.com/keramics/keramics/internal/kerr"
	"github.com/keramics/keramics/internal/stream"
)

type groupDescriptor struct {
	inodeTableBlock int64
}

// readGroupDescriptor reads group descriptor index from the group
// descriptor table, which immediately follows the superblock's block.
func readGroupDescriptor(s stream.Stream, sb *Superblock, index int64) (groupDescriptor, error) {
	gdtBlock := int64(1)
	if sb.BlockSize() > 1024 {
		gdtBlock = 1
	} else {
		gdtBlock = 2
	}
	descSize := sb.GroupDescSize()
	off := gdtBlock*sb.BlockSize() + index*descSize
	buf := make([]byte, descSize)
	if err := s.ReadExactAt(off, buf); err != nil {
		return groupDescriptor{}, kerr.Frame(kerr.ErrIO, "ext4: read group descriptor %d", index)
	}
	lo := binary.LittleEndian.Uint32(buf[8:12])
	var hi uint32
	if descSize >= 64 {
		hi = binary.LittleEndian.Uint32(buf[40:44])
	}
	return groupDescriptor{inodeTableBlock: int64(lo) | int64(hi)<<32}, nil
}

// inodeOffset locates the byte offset of inode number ino (1-based) on
// the underlying stream.
func inodeOffset(s stream.Stream, sb *Superblock, ino uint32) (int64, error) {
	index := int64(ino-1) / int64(sb.InodesPerGroup)
	localIndex := int64(ino-1) % int64(sb.InodesPerGroup)
	gd, err := readGroupDescriptor(s, sb, index)
	if err != nil {
		return 0, err
	}
	return gd.inodeTableBlock*sb.BlockSize() + localIndex*int64(sb.InodeSize), nil
}
