// Package partition implements the MBR, GPT, and APM volume-system
// readers (spec.md §4.10): each decodes a partition table found at a
// fixed location on a stream.Stream and reports an ordered list of
// partition descriptors.
package partition

import (
	"encoding/binary"

	"github.com/keramics/keramics/internal/kerr"
	"github.com/keramics/keramics/internal/stream"
)

// Entry describes one partition/volume as reported by any of the
// volume-system readers in this package.
type Entry struct {
	Index      int
	Offset     int64
	Size       int64
	TypeLabel  string
	Name       string
	Bootable   bool
}

const mbrSectorSize = 512

var mbrSignature = [2]byte{0x55, 0xaa}

// mbrPartitionTypeGPTProtective is the MBR partition type byte a GPT
// protective MBR uses (0xEE) to keep legacy tools from touching the
// disk; ReadMBR reports it like any other partition type, leaving the
// GPT-vs-MBR choice to the caller (the format scanner).
const mbrPartitionTypeGPTProtective = 0xee

// ReadMBR decodes the classic DOS MBR partition table (four primary
// entries starting at offset 0x1BE) and recurses into any extended
// partition (type 0x05 or 0x0F) to report logical partitions in order.
func ReadMBR(s stream.Stream) ([]Entry, error) {
	buf := make([]byte, mbrSectorSize)
	if err := s.ReadExactAt(0, buf); err != nil {
		return nil, kerr.Frame(kerr.ErrIO, "mbr: read boot sector")
	}
	if buf[510] != mbrSignature[0] || buf[511] != mbrSignature[1] {
		return nil, kerr.Frame(kerr.ErrInvalidSignature, "mbr: bad boot signature")
	}

	var entries []Entry
	index := 0
	for i := 0; i < 4; i++ {
		raw := buf[446+i*16 : 446+i*16+16]
		typ := raw[4]
		if typ == 0 {
			continue
		}
		lbaStart := int64(binary.LittleEndian.Uint32(raw[8:12]))
		sectors := int64(binary.LittleEndian.Uint32(raw[12:16]))
		bootable := raw[0] == 0x80

		if typ == 0x05 || typ == 0x0f {
			logical, err := readExtendedChain(s, lbaStart, lbaStart, &index)
			if err != nil {
				return nil, err
			}
			entries = append(entries, logical...)
			continue
		}

		entries = append(entries, Entry{
			Index:     index,
			Offset:    lbaStart * mbrSectorSize,
			Size:      sectors * mbrSectorSize,
			TypeLabel: mbrTypeLabel(typ),
			Bootable:  bootable,
		})
		index++
	}
	return entries, nil
}

// readExtendedChain walks the linked list of EBR (extended boot
// record) sectors describing logical partitions inside an extended
// partition. extendedBase is the LBA of the extended partition's first
// sector; each EBR's link to the next EBR is measured from it, while a
// logical partition's start is measured from its own EBR.
func readExtendedChain(s stream.Stream, extendedBase, ebrLBA int64, index *int) ([]Entry, error) {
	var out []Entry
	seen := map[int64]bool{}
	for ebrLBA != 0 && !seen[ebrLBA] {
		seen[ebrLBA] = true
		buf := make([]byte, mbrSectorSize)
		if err := s.ReadExactAt(ebrLBA*mbrSectorSize, buf); err != nil {
			return nil, kerr.Frame(kerr.ErrIO, "mbr: read extended boot record at lba %d", ebrLBA)
		}
		if buf[510] != mbrSignature[0] || buf[511] != mbrSignature[1] {
			return nil, kerr.Frame(kerr.ErrInvalidMetadata, "mbr: bad EBR signature at lba %d", ebrLBA)
		}

		logical := buf[446:462]
		typ := logical[4]
		if typ != 0 {
			lbaStart := ebrLBA + int64(binary.LittleEndian.Uint32(logical[8:12]))
			sectors := int64(binary.LittleEndian.Uint32(logical[12:16]))
			out = append(out, Entry{
				Index:     *index,
				Offset:    lbaStart * mbrSectorSize,
				Size:      sectors * mbrSectorSize,
				TypeLabel: mbrTypeLabel(typ),
				Bootable:  logical[0] == 0x80,
			})
			*index++
		}

		next := buf[462:478]
		nextTyp := next[4]
		if nextTyp == 0 {
			break
		}
		ebrLBA = extendedBase + int64(binary.LittleEndian.Uint32(next[8:12]))
	}
	return out, nil
}

func mbrTypeLabel(typ byte) string {
	switch typ {
	case 0x01, 0x04, 0x06, 0x0e:
		return "fat16"
	case 0x0b, 0x0c:
		return "fat32"
	case 0x07:
		return "ntfs"
	case 0x83:
		return "linux"
	case 0x82:
		return "linux-swap"
	case mbrPartitionTypeGPTProtective:
		return "gpt-protective"
	default:
		return "unknown"
	}
}
