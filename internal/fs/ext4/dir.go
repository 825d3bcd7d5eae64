package ext4

import (
	"encoding/binary"

	"github.com/keramics/keramics/internal/kerr"
	"github.com/keramics/keramics/internal/stream"
)

// DirEntry is one decoded directory entry.
type DirEntry struct {
	Inode    uint32
	Name     string
	FileType uint8
}

// ReadDir returns every entry in the directory represented by inode
// dirInode, walked linearly block by block. Per spec.md §4.4, a linear
// walk produces correct results even when DIR_INDEX (HTREE) is set,
// since HTREE is purely a lookup-acceleration structure layered over
// the same leaf blocks. "." and ".." are included; callers wanting a
// directory listing filter them out themselves.
func ReadDir(s stream.Stream, sb *Superblock, dirInode *Inode) ([]DirEntry, error) {
	data, err := ReadData(s, sb, dirInode)
	if err != nil {
		return nil, err
	}

	var entries []DirEntry
	blockSize := int(sb.BlockSize())
	for blockStart := 0; blockStart+blockSize <= len(data); blockStart += blockSize {
		block := data[blockStart : blockStart+blockSize]
		pos := 0
		for pos+8 <= len(block) {
			ino := binary.LittleEndian.Uint32(block[pos : pos+4])
			recLen := int(binary.LittleEndian.Uint16(block[pos+4 : pos+6]))
			if recLen < 8 {
				break
			}
			nameLen := int(block[pos+6])
			fileType := block[pos+7]
			if ino != 0 && pos+8+nameLen <= len(block) {
				name := string(block[pos+8 : pos+8+nameLen])
				entries = append(entries, DirEntry{Inode: ino, Name: name, FileType: fileType})
			}
			pos += recLen
		}
	}
	return entries, nil
}

// Lookup resolves one path component within a directory, returning
// kerr.ErrNotFound if absent.
func Lookup(s stream.Stream, sb *Superblock, dirInode *Inode, name string) (uint32, error) {
	entries, err := ReadDir(s, sb, dirInode)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e.Inode, nil
		}
	}
	return 0, kerr.Frame(kerr.ErrNotFound, "ext4: %q not found", name)
}
