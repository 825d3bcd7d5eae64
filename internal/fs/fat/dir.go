package fat

import (
	"strings"

	"github.com/keramics/keramics/internal/decode/textcodec"
)

const (
	attrVolumeID  = 0x08
	attrDirectory = 0x10
	attrLongName  = 0x0f
	attrLongMask  = 0x3f

	entryFree    = 0x00
	entryDeleted = 0xe5
)

// DirEntry is one decoded short-name directory entry, with its VFAT
// long name (if any) already assembled.
type DirEntry struct {
	Name         string
	Attribute    byte
	StartCluster int64
	Size         uint32
	Deleted      bool
}

func (e *DirEntry) IsDirectory() bool { return e.Attribute&attrDirectory != 0 }
func (e *DirEntry) IsVolumeLabel() bool { return e.Attribute&attrVolumeID != 0 }

// parseDirEntries decodes the 32-byte directory entry records in data,
// assembling VFAT long-name fragments (spec.md §4.6: concatenated in
// descending ordinal order) ahead of the short-name entry they
// describe. includeDeleted controls whether entries whose first byte
// is 0xE5 are returned.
func parseDirEntries(data []byte, includeDeleted bool) []DirEntry {
	var out []DirEntry
	var longFragments []string // accumulated in descending ordinal order as encountered

	flushLong := func() string {
		if len(longFragments) == 0 {
			return ""
		}
		var sb strings.Builder
		for i := len(longFragments) - 1; i >= 0; i-- {
			sb.WriteString(longFragments[i])
		}
		longFragments = nil
		name := sb.String()
		if idx := strings.IndexByte(name, 0); idx >= 0 {
			name = name[:idx]
		}
		return name
	}

	for pos := 0; pos+32 <= len(data); pos += 32 {
		rec := data[pos : pos+32]
		first := rec[0]
		if first == entryFree {
			break
		}
		attr := rec[11]
		if attr&attrLongMask == attrLongName {
			longFragments = append(longFragments, decodeLongNameFragment(rec))
			continue
		}

		deleted := first == entryDeleted
		if deleted && !includeDeleted {
			longFragments = nil
			continue
		}
		if attr&attrVolumeID != 0 {
			longFragments = nil
			continue
		}

		longName := flushLong()
		name := longName
		if name == "" {
			name = shortName(rec)
		}

		startHi := uint16(rec[20]) | uint16(rec[21])<<8
		startLo := uint16(rec[26]) | uint16(rec[27])<<8
		size := uint32(rec[28]) | uint32(rec[29])<<8 | uint32(rec[30])<<16 | uint32(rec[31])<<24

		out = append(out, DirEntry{
			Name:         name,
			Attribute:    attr,
			StartCluster: int64(startHi)<<16 | int64(startLo),
			Size:         size,
			Deleted:      deleted,
		})
	}
	return out
}

// decodeLongNameFragment extracts the 13 UCS-2 characters of a single
// VFAT long-name entry (fragments at byte offsets 1,14 and 28).
func decodeLongNameFragment(rec []byte) string {
	var buf []byte
	buf = append(buf, rec[1:11]...)
	buf = append(buf, rec[14:26]...)
	buf = append(buf, rec[28:32]...)
	s, err := textcodec.DecodeUTF16LE(buf)
	if err != nil {
		return ""
	}
	return s
}

// shortName reconstructs the dotted 8.3 name from the fixed name[8]
// and extension[3] fields.
func shortName(rec []byte) string {
	base := strings.TrimRight(string(rec[0:8]), " ")
	ext := strings.TrimRight(string(rec[8:11]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}
