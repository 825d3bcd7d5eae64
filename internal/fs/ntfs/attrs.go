package ntfs

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/keramics/keramics/internal/decode/textcodec"
	"github.com/keramics/keramics/internal/kerr"
)

// Namespace values for $FILE_NAME attributes, ordered by the
// preference spec.md §4.5 assigns them: WIN32 and WIN32_AND_DOS names
// are preferred over POSIX, which is preferred over a pure DOS (8.3)
// name.
const (
	NamespacePosix       = 0
	NamespaceWin32       = 1
	NamespaceDOS         = 2
	NamespaceWin32AndDOS = 3
)

// FileNameAttr is a decoded $FILE_NAME (0x30) attribute value.
type FileNameAttr struct {
	ParentReference uint64
	AllocatedSize   int64
	DataSize        int64
	FileAttributes  uint32
	Namespace       uint8
	Name            string
}

func namespaceRank(ns uint8) int {
	switch ns {
	case NamespaceWin32, NamespaceWin32AndDOS:
		return 0
	case NamespacePosix:
		return 1
	default:
		return 2
	}
}

// ParseFileName decodes a resident $FILE_NAME attribute value.
func ParseFileName(v []byte) (*FileNameAttr, error) {
	if len(v) < 66 {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "ntfs: $FILE_NAME value too short")
	}
	nameLenChars := int(v[64])
	nameStart := 66
	nameEnd := nameStart + nameLenChars*2
	if nameEnd > len(v) {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "ntfs: $FILE_NAME name overruns value")
	}
	name, err := textcodec.DecodeUTF16LE(v[nameStart:nameEnd])
	if err != nil {
		return nil, err
	}
	return &FileNameAttr{
		ParentReference: binary.LittleEndian.Uint64(v[0:8]),
		AllocatedSize:   int64(binary.LittleEndian.Uint64(v[40:48])),
		DataSize:        int64(binary.LittleEndian.Uint64(v[48:56])),
		FileAttributes:  binary.LittleEndian.Uint32(v[56:60]),
		Namespace:       v[65],
		Name:            name,
	}, nil
}

// BestFileName returns the $FILE_NAME attribute an implementation
// should prefer to display, following the namespace preference order
// spec.md §4.5 documents.
func BestFileName(e *Entry) (*FileNameAttr, error) {
	var best *FileNameAttr
	for _, a := range e.Attributes {
		if a.Type != AttrFileName || a.NonResident {
			continue
		}
		fn, err := ParseFileName(a.Value)
		if err != nil {
			continue
		}
		if best == nil || namespaceRank(fn.Namespace) < namespaceRank(best.Namespace) {
			best = fn
		}
	}
	if best == nil {
		return nil, kerr.Frame(kerr.ErrNotFound, "ntfs: entry has no $FILE_NAME attribute")
	}
	return best, nil
}

// StandardInformation is a decoded $STANDARD_INFORMATION (0x10) value.
type StandardInformation struct {
	FileAttributes uint32
}

func ParseStandardInformation(v []byte) (*StandardInformation, error) {
	if len(v) < 36 {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "ntfs: $STANDARD_INFORMATION value too short")
	}
	return &StandardInformation{FileAttributes: binary.LittleEndian.Uint32(v[32:36])}, nil
}

// ObjectID is a decoded $OBJECT_ID (0x40) value: the 16-byte object
// identifier GUID every NTFS file may optionally carry, plus the three
// optional birth GUIDs present when the file has moved across volumes.
type ObjectID struct {
	ObjectID      uuid.UUID
	BirthVolumeID uuid.UUID
	BirthObjectID uuid.UUID
	DomainID      uuid.UUID
}

func ParseObjectID(v []byte) (*ObjectID, error) {
	if len(v) < 16 {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "ntfs: $OBJECT_ID value too short")
	}
	o := &ObjectID{}
	var err error
	if o.ObjectID, err = guidFromBytes(v[0:16]); err != nil {
		return nil, err
	}
	if len(v) >= 64 {
		if o.BirthVolumeID, err = guidFromBytes(v[16:32]); err != nil {
			return nil, err
		}
		if o.BirthObjectID, err = guidFromBytes(v[32:48]); err != nil {
			return nil, err
		}
		if o.DomainID, err = guidFromBytes(v[48:64]); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// guidFromBytes parses a 16-byte mixed-endian Microsoft GUID, matching
// the byte order the partition package's GPT reader uses for its own
// type/unique GUID fields.
func guidFromBytes(b []byte) (uuid.UUID, error) {
	be := make([]byte, 16)
	be[0], be[1], be[2], be[3] = b[3], b[2], b[1], b[0]
	be[4], be[5] = b[5], b[4]
	be[6], be[7] = b[7], b[6]
	copy(be[8:16], b[8:16])
	return uuid.FromBytes(be)
}

// VolumeInformation is a decoded $VOLUME_INFORMATION (0x70) value.
type VolumeInformation struct {
	MajorVersion uint8
	MinorVersion uint8
	Flags        uint16
}

func ParseVolumeInformation(v []byte) (*VolumeInformation, error) {
	if len(v) < 12 {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "ntfs: $VOLUME_INFORMATION value too short")
	}
	return &VolumeInformation{
		MajorVersion: v[8],
		MinorVersion: v[9],
		Flags:        binary.LittleEndian.Uint16(v[10:12]),
	}, nil
}

// Reparse tag values spec.md §4.5 names explicitly.
const (
	ReparseTagSymlink = 0xa000000c
	ReparseTagWOF     = 0x80000017
)

// ReparsePoint is a decoded $REPARSE_POINT (0xc0) value.
type ReparsePoint struct {
	Tag           uint32
	SubstituteName string
	PrintName      string
}

// ParseReparsePoint decodes a resident $REPARSE_POINT value. Only the
// Microsoft symbolic-link layout (ReparseTagSymlink) is interpreted;
// other tags, junctions included, are returned with empty name fields and the caller can still branch
// on Tag (e.g. the WOF compression reparse tag carries no path at all).
func ParseReparsePoint(v []byte) (*ReparsePoint, error) {
	if len(v) < 8 {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "ntfs: $REPARSE_POINT value too short")
	}
	rp := &ReparsePoint{Tag: binary.LittleEndian.Uint32(v[0:4])}
	if rp.Tag != ReparseTagSymlink || len(v) < 20 {
		return rp, nil
	}
	dataLen := int(binary.LittleEndian.Uint16(v[4:6]))
	if 8+dataLen > len(v) {
		return rp, nil
	}
	body := v[8 : 8+dataLen]
	if len(body) < 12 {
		return rp, nil
	}
	subOff := int(binary.LittleEndian.Uint16(body[0:2]))
	subLen := int(binary.LittleEndian.Uint16(body[2:4]))
	printOff := int(binary.LittleEndian.Uint16(body[4:6]))
	printLen := int(binary.LittleEndian.Uint16(body[6:8]))
	pathBuf := body[12:] // past the 4-byte symlink flags field
	if subOff+subLen <= len(pathBuf) {
		if s, err := textcodec.DecodeUTF16LE(pathBuf[subOff : subOff+subLen]); err == nil {
			rp.SubstituteName = s
		}
	}
	if printOff+printLen <= len(pathBuf) {
		if s, err := textcodec.DecodeUTF16LE(pathBuf[printOff : printOff+printLen]); err == nil {
			rp.PrintName = s
		}
	}
	return rp, nil
}

// Attr looks up the first attribute of the given type, or nil.
func (e *Entry) Attr(typ uint32) *Attribute {
	for i := range e.Attributes {
		if e.Attributes[i].Type == typ {
			return &e.Attributes[i]
		}
	}
	return nil
}
