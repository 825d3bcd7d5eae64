package ext4

import (
	"encoding/binary"

	"github.com/keramics/keramics/internal/kerr"
	"github.com/keramics/keramics/internal/stream"
)

var xattrBlockMagic = [4]byte{0x02, 0x00, 0x02, 0xea} // little-endian 0xEA020000

const xattrEntryHeaderSize = 16

// xattrNamePrefixes maps an entry's name_index to the namespace prefix
// prepended to its stored (suffix-only) name, per the ext attribute
// entry layout.
var xattrNamePrefixes = map[byte]string{
	0: "",
	1: "user.",
	2: "system.posix_acl_access",
	3: "system.posix_acl_default",
	4: "trusted.",
	6: "security.",
	7: "system.",
	8: "system.richacl",
}

// Xattr is one decoded extended attribute name/value pair.
type Xattr struct {
	Name  string
	Value []byte
}

// ListXattr decodes every extended attribute stored in in's external
// attribute block (i_file_acl). In-inode attributes (stored past the
// fixed inode fields when i_extra_isize leaves room) are not decoded;
// only the common external-block form is.
func ListXattr(s stream.Stream, sb *Superblock, in *Inode) ([]Xattr, error) {
	if in.FileACL == 0 {
		return nil, nil
	}
	blockSize := sb.BlockSize()
	buf := make([]byte, blockSize)
	if err := s.ReadExactAt(int64(in.FileACL)*blockSize, buf); err != nil {
		return nil, kerr.Frame(kerr.ErrIO, "ext4: read xattr block %d", in.FileACL)
	}
	if buf[0] != xattrBlockMagic[0] || buf[1] != xattrBlockMagic[1] || buf[2] != xattrBlockMagic[2] || buf[3] != xattrBlockMagic[3] {
		return nil, kerr.Frame(kerr.ErrInvalidSignature, "ext4: bad xattr block magic")
	}

	var out []Xattr
	offset := 32 // ext4_xattr_header is 32 bytes
	for offset+xattrEntryHeaderSize <= len(buf) {
		entry := buf[offset:]
		nameSize := int(entry[0])
		if nameSize == 0 && entry[1] == 0 && binary.LittleEndian.Uint32(entry[4:8]) == 0 {
			break // terminator entry
		}
		nameIndex := entry[1]
		valueOffset := int(binary.LittleEndian.Uint16(entry[2:4]))
		valueSize := int(binary.LittleEndian.Uint32(entry[8:12]))

		nameStart := offset + xattrEntryHeaderSize
		nameEnd := nameStart + nameSize
		if nameEnd > len(buf) || valueOffset+valueSize > len(buf) {
			return nil, kerr.Frame(kerr.ErrInvalidMetadata, "ext4: xattr entry out of bounds")
		}
		prefix, ok := xattrNamePrefixes[nameIndex]
		if !ok {
			return nil, kerr.Frame(kerr.ErrUnsupportedFeature, "ext4: unsupported xattr name index %d", nameIndex)
		}
		name := prefix + string(buf[nameStart:nameEnd])
		value := append([]byte(nil), buf[valueOffset:valueOffset+valueSize]...)
		out = append(out, Xattr{Name: name, Value: value})

		// Entries are 4-byte aligned.
		offset = nameEnd
		if rem := offset % 4; rem != 0 {
			offset += 4 - rem
		}
	}
	return out, nil
}

// GetXattr returns the named attribute's value, or ErrNotFound.
func GetXattr(s stream.Stream, sb *Superblock, in *Inode, name string) ([]byte, error) {
	all, err := ListXattr(s, sb, in)
	if err != nil {
		return nil, err
	}
	for _, x := range all {
		if x.Name == name {
			return x.Value, nil
		}
	}
	return nil, kerr.Frame(kerr.ErrNotFound, "ext4: no xattr %q", name)
}
