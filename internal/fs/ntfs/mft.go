package ntfs

import (
	"encoding/binary"

	"github.com/keramics/keramics/internal/decode/textcodec"
	"github.com/keramics/keramics/internal/kerr"
)

var mftEntrySignature = []byte("FILE")

const attrTypeEndMarker = 0xffffffff

// Attribute types of interest (spec.md §4.5).
const (
	AttrStandardInformation = 0x10
	AttrAttributeList       = 0x20
	AttrFileName            = 0x30
	AttrObjectID            = 0x40
	AttrSecurityDescriptor  = 0x50
	AttrVolumeName          = 0x60
	AttrVolumeInformation   = 0x70
	AttrData                = 0x80
	AttrIndexRoot           = 0x90
	AttrIndexAllocation     = 0xa0
	AttrBitmap              = 0xb0
	AttrReparsePoint        = 0xc0
)

// Attribute is one decoded attribute from an MFT entry.
type Attribute struct {
	Type       uint32
	Name       string
	NonResident bool
	Flags      uint16

	// Resident
	Value []byte

	// Non-resident
	DataRuns      []Run
	DataSize      int64
	AllocatedSize int64
}

// Entry is a decoded MFT entry after fix-up application.
type Entry struct {
	SequenceNumber uint16
	Flags          uint16
	BaseReference  uint64
	Attributes     []Attribute
}

func (e *Entry) InUse() bool      { return e.Flags&0x0001 != 0 }
func (e *Entry) IsDirectory() bool { return e.Flags&0x0002 != 0 }

// ParseMFTEntry applies the update-sequence-array fix-up and decodes
// every attribute in a raw, entrySize-byte MFT entry buffer.
func ParseMFTEntry(buf []byte, bytesPerSector int64) (*Entry, error) {
	if len(buf) < 4 || string(buf[0:4]) != string(mftEntrySignature) {
		return nil, kerr.Frame(kerr.ErrInvalidSignature, "ntfs: bad MFT entry signature")
	}
	usaOffset := binary.LittleEndian.Uint16(buf[4:6])
	usaCount := binary.LittleEndian.Uint16(buf[6:8])
	if err := applyFixup(buf, int(usaOffset), int(usaCount), bytesPerSector); err != nil {
		return nil, err
	}

	e := &Entry{
		SequenceNumber: binary.LittleEndian.Uint16(buf[16:18]),
		Flags:          binary.LittleEndian.Uint16(buf[22:24]),
		BaseReference:  binary.LittleEndian.Uint64(buf[32:40]),
	}
	firstAttrOffset := binary.LittleEndian.Uint16(buf[20:22])

	pos := int(firstAttrOffset)
	for pos+4 <= len(buf) {
		typ := binary.LittleEndian.Uint32(buf[pos : pos+4])
		if typ == attrTypeEndMarker {
			break
		}
		length := binary.LittleEndian.Uint32(buf[pos+4 : pos+8])
		if length == 0 || pos+int(length) > len(buf) {
			break
		}
		attr, err := parseAttribute(buf[pos : pos+int(length)])
		if err != nil {
			return nil, err
		}
		e.Attributes = append(e.Attributes, attr)
		pos += int(length)
	}
	return e, nil
}

// applyFixup restores the sector tail bytes the update-sequence-array
// overwrote, after checking each sector's final two bytes still match
// the stored USN sentinel (spec.md §4.5, §9): a mismatch means the
// sector was never fixed up (or the entry is corrupt), so the entry is
// rejected rather than silently patched over.
func applyFixup(buf []byte, usaOffset, usaCount int, bytesPerSector int64) error {
	if usaCount == 0 {
		return nil
	}
	usn := buf[usaOffset : usaOffset+2]
	for i := 1; i < usaCount; i++ {
		sectorEnd := int64(i)*bytesPerSector - 2
		if sectorEnd+2 > int64(len(buf)) {
			break
		}
		if buf[sectorEnd] != usn[0] || buf[sectorEnd+1] != usn[1] {
			return kerr.Frame(kerr.ErrInvalidMetadata, "ntfs: update sequence number mismatch at sector %d", i)
		}
		replacement := buf[usaOffset+i*2 : usaOffset+i*2+2]
		copy(buf[sectorEnd:sectorEnd+2], replacement)
	}
	return nil
}

func parseAttribute(buf []byte) (Attribute, error) {
	a := Attribute{
		Type:        binary.LittleEndian.Uint32(buf[0:4]),
		NonResident: buf[8] != 0,
		Flags:       binary.LittleEndian.Uint16(buf[12:14]),
	}
	nameLength := int(buf[9])
	nameOffset := int(binary.LittleEndian.Uint16(buf[10:12]))
	if nameLength > 0 && nameOffset+nameLength*2 <= len(buf) {
		name, err := textcodec.DecodeUTF16LE(buf[nameOffset : nameOffset+nameLength*2])
		if err != nil {
			return Attribute{}, err
		}
		a.Name = name
	}

	if !a.NonResident {
		valueLength := binary.LittleEndian.Uint32(buf[16:20])
		valueOffset := binary.LittleEndian.Uint16(buf[20:22])
		if int(valueOffset)+int(valueLength) <= len(buf) {
			a.Value = append([]byte(nil), buf[valueOffset:int(valueOffset)+int(valueLength)]...)
		}
		return a, nil
	}

	a.AllocatedSize = int64(binary.LittleEndian.Uint64(buf[40:48]))
	a.DataSize = int64(binary.LittleEndian.Uint64(buf[48:56]))
	runsOffset := binary.LittleEndian.Uint16(buf[32:34])
	if int(runsOffset) < len(buf) {
		runs, err := DecodeDataRuns(buf[runsOffset:])
		if err != nil {
			return Attribute{}, err
		}
		a.DataRuns = runs
	}
	return a, nil
}
