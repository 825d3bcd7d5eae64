// Package vhdx implements the VHDX (version 2) image decoder (spec.md
// §4.3.3): region table, BAT, and metadata table lookups are all
// parsed directly off the underlying file, in the same on-demand style
// as the qcow package.
package vhdx

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/keramics/keramics/internal/decode/textcodec"
	"github.com/keramics/keramics/internal/image"
	"github.com/keramics/keramics/internal/kerr"
	"github.com/keramics/keramics/internal/stream"
)

var fileSignature = [8]byte{'v', 'h', 'd', 'x', 'f', 'i', 'l', 'e'}

var (
	bATGUID         = uuid.MustParse("2DC27766-F623-4200-9D64-115E9BFD4A08")
	metadataGUID    = uuid.MustParse("8B7CA206-4790-4B9A-B8FE-575F050F886E")
	fileParamsID    = uuid.MustParse("CAA16737-FA36-4D43-B3B6-33F0AA44E76B")
	virtualSizeID   = uuid.MustParse("2FA54224-CD1B-4876-B211-5DBED83BF4B8")
	logicalSectorID = uuid.MustParse("8141BF1D-A96F-4709-BA47-F233A8FAAB5F")
	parentLocatorID = uuid.MustParse("A8D35F2D-B30B-454D-ABF7-D3D84834AB0B")
)

// parentPathKeys is the order in which parent_locator key/value pairs
// are tried to find a path resolve can open, preferring a path
// relative to the child (spec.md §4.3.3) over an absolute one.
var parentPathKeys = []string{"relative_path", "volume_path", "absolute_win32_path"}

const (
	metadataTableSignature = "metadata"

	batStateBitWidth = 3
	batStateMask     = (1 << batStateBitWidth) - 1

	// BAT payload-block state values (spec.md §4.3.3). NotPresent and
	// Unmapped fall back to the parent layer (or zero, for a
	// non-differencing disk); Zero is an explicit all-zero block
	// regardless of any parent; Undefined and PartiallyPresent are
	// states this reader does not trust to mean "safe to zero-fill" and
	// are reported as errors instead.
	batStateNotPresent       = 0
	batStateUndefined        = 1
	batStateZero             = 2
	batStateUnmapped         = 3
	payloadBlockFullyPresent = 6
	batStatePartiallyPresent = 7
)

type regionEntry struct {
	guid   uuid.UUID
	offset int64
	length uint32
}

type metadataEntry struct {
	itemID uuid.UUID
	offset uint32
	length uint32
}

type fileParameters struct {
	blockSize    uint32
	leaveBlocksAllocated bool
	hasParent    bool
}

// Layer is one opened VHDX file exposed as a single media data stream.
type Layer struct {
	*stream.Cursor
	file              stream.Stream
	blockSize         int64
	logicalSectorSize int64
	batOffset         int64
	virtualDiskSize   int64
	chunkRatio        int64
	backing           image.Layer
}

// Open parses the VHDX file header, region table and metadata table,
// exposing the logical disk contents as a single stream. A differencing
// disk's parent_locator metadata item is resolved via resolve and
// opened recursively as another VHDX layer (spec.md §4.3.3), mirroring
// how vhd.Open chains a VHD's parent.
func Open(file stream.Stream, resolve image.BackingResolver) (*Layer, error) {
	sig := make([]byte, 8)
	if err := file.ReadExactAt(0, sig); err != nil {
		return nil, kerr.Frame(kerr.ErrIO, "vhdx: read file signature")
	}
	if !bytes.Equal(sig, fileSignature[:]) {
		return nil, kerr.Frame(kerr.ErrInvalidSignature, "vhdx: bad file signature")
	}

	regions, err := parseRegionTable(file)
	if err != nil {
		return nil, err
	}
	batRegion, ok := regions[bATGUID]
	if !ok {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "vhdx: missing BAT region")
	}
	metadataRegion, ok := regions[metadataGUID]
	if !ok {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "vhdx: missing metadata region")
	}

	entries, err := parseMetadataTable(file, metadataRegion.offset)
	if err != nil {
		return nil, err
	}
	fp, err := readFileParameters(file, metadataRegion.offset, entries)
	if err != nil {
		return nil, err
	}
	virtualSize, err := readUint64Item(file, metadataRegion.offset, entries, virtualSizeID)
	if err != nil {
		return nil, err
	}
	logicalSectorSize, err := readUint32Item(file, metadataRegion.offset, entries, logicalSectorID)
	if err != nil {
		return nil, err
	}

	l := &Layer{
		file:              file,
		blockSize:         int64(fp.blockSize),
		logicalSectorSize: int64(logicalSectorSize),
		batOffset:         batRegion.offset,
		virtualDiskSize:   int64(virtualSize),
	}
	l.chunkRatio = (int64(1) << 23) * l.logicalSectorSize / l.blockSize

	if fp.hasParent {
		kv, err := readParentLocator(file, metadataRegion.offset, entries)
		if err != nil {
			return nil, err
		}
		parentPath, ok := parentPathFromLocator(kv)
		if !ok {
			return nil, kerr.Frame(kerr.ErrInvalidMetadata, "vhdx: differencing disk has no usable parent locator path")
		}
		parentStream, err := resolve(parentPath)
		if err != nil {
			return nil, kerr.Frame(err, "vhdx: open parent %q", parentPath)
		}
		parent, err := Open(parentStream, resolve)
		if err != nil {
			return nil, kerr.Frame(err, "vhdx: parse parent as vhdx")
		}
		l.backing = parent
	}

	l.Cursor = stream.NewCursor(l.virtualDiskSize, l.readAt)
	return l, nil
}

// readParentLocator reads and decodes the parent_locator metadata
// item's key/value table (UTF-16LE strings keyed by ASCII-ish names
// such as "relative_path", "volume_path", "parent_linkage").
func readParentLocator(file stream.Stream, metadataOffset int64, entries map[uuid.UUID]metadataEntry) (map[string]string, error) {
	e, ok := entries[parentLocatorID]
	if !ok {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "vhdx: missing parent locator item")
	}
	data := make([]byte, e.length)
	if err := file.ReadExactAt(metadataOffset+int64(e.offset), data); err != nil {
		return nil, kerr.Frame(kerr.ErrIO, "vhdx: read parent locator item")
	}
	// Header: 16-byte locator type GUID, 2 reserved bytes, 2-byte
	// key/value count, followed by that many 12-byte
	// (KeyOffset, ValueOffset, KeyLength, ValueLength) entries.
	if len(data) < 20 {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "vhdx: parent locator item too small")
	}
	count := binary.LittleEndian.Uint16(data[18:20])

	kv := make(map[string]string, count)
	for i := uint16(0); i < count; i++ {
		off := 20 + int(i)*12
		if off+12 > len(data) {
			return nil, kerr.Frame(kerr.ErrInvalidMetadata, "vhdx: parent locator entry %d out of range", i)
		}
		keyOffset := binary.LittleEndian.Uint32(data[off : off+4])
		valueOffset := binary.LittleEndian.Uint32(data[off+4 : off+8])
		keyLength := binary.LittleEndian.Uint16(data[off+8 : off+10])
		valueLength := binary.LittleEndian.Uint16(data[off+10 : off+12])
		key, err := decodeLocatorField(data, keyOffset, keyLength)
		if err != nil {
			return nil, kerr.Frame(err, "vhdx: decode parent locator key %d", i)
		}
		value, err := decodeLocatorField(data, valueOffset, valueLength)
		if err != nil {
			return nil, kerr.Frame(err, "vhdx: decode parent locator value %d", i)
		}
		kv[key] = value
	}
	return kv, nil
}

func decodeLocatorField(data []byte, offset uint32, length uint16) (string, error) {
	start, end := int(offset), int(offset)+int(length)
	if start < 0 || end > len(data) || start > end {
		return "", kerr.Frame(kerr.ErrInvalidMetadata, "vhdx: parent locator field out of range")
	}
	return textcodec.DecodeUTF16LE(data[start:end])
}

// parentPathFromLocator picks the first key present from
// parentPathKeys, in preference order.
func parentPathFromLocator(kv map[string]string) (string, bool) {
	for _, k := range parentPathKeys {
		if v, ok := kv[k]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func parseRegionTable(file stream.Stream) (map[uuid.UUID]regionEntry, error) {
	const regionTableOffset = 192 * 1024
	hdr := make([]byte, 16)
	if err := file.ReadExactAt(regionTableOffset, hdr); err != nil {
		return nil, kerr.Frame(kerr.ErrIO, "vhdx: read region table header")
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != 0x72656769 { // "regi"
		return nil, kerr.Frame(kerr.ErrInvalidSignature, "vhdx: bad region table signature")
	}
	entryCount := binary.LittleEndian.Uint32(hdr[8:12])

	entries := make(map[uuid.UUID]regionEntry, entryCount)
	buf := make([]byte, 32)
	for i := uint32(0); i < entryCount; i++ {
		off := regionTableOffset + 16 + int64(i)*32
		if err := file.ReadExactAt(off, buf); err != nil {
			return nil, kerr.Frame(kerr.ErrIO, "vhdx: read region entry %d", i)
		}
		id, err := uuid.FromBytes(leGUIDToBE(buf[0:16]))
		if err != nil {
			return nil, kerr.Frame(kerr.ErrInvalidMetadata, "vhdx: parse region GUID")
		}
		entries[id] = regionEntry{
			guid:   id,
			offset: int64(binary.LittleEndian.Uint64(buf[16:24])),
			length: binary.LittleEndian.Uint32(buf[24:28]),
		}
	}
	return entries, nil
}

// leGUIDToBE converts a Microsoft mixed-endian GUID's on-disk bytes
// into the big-endian byte order uuid.FromBytes expects.
func leGUIDToBE(b []byte) []byte {
	out := make([]byte, 16)
	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	out[4], out[5] = b[5], b[4]
	out[6], out[7] = b[7], b[6]
	copy(out[8:16], b[8:16])
	return out
}

func parseMetadataTable(file stream.Stream, tableOffset int64) (map[uuid.UUID]metadataEntry, error) {
	hdr := make([]byte, 32)
	if err := file.ReadExactAt(tableOffset, hdr); err != nil {
		return nil, kerr.Frame(kerr.ErrIO, "vhdx: read metadata table header")
	}
	if string(hdr[0:8]) != metadataTableSignature {
		return nil, kerr.Frame(kerr.ErrInvalidSignature, "vhdx: bad metadata table signature")
	}
	entryCount := binary.LittleEndian.Uint16(hdr[8:10])

	entries := make(map[uuid.UUID]metadataEntry, entryCount)
	buf := make([]byte, 24)
	for i := uint16(0); i < entryCount; i++ {
		off := tableOffset + 32 + int64(i)*24
		if err := file.ReadExactAt(off, buf); err != nil {
			return nil, kerr.Frame(kerr.ErrIO, "vhdx: read metadata entry %d", i)
		}
		id, err := uuid.FromBytes(leGUIDToBE(buf[0:16]))
		if err != nil {
			return nil, kerr.Frame(kerr.ErrInvalidMetadata, "vhdx: parse metadata item GUID")
		}
		entries[id] = metadataEntry{
			itemID: id,
			offset: binary.LittleEndian.Uint32(buf[16:20]),
			length: binary.LittleEndian.Uint32(buf[20:24]),
		}
	}
	return entries, nil
}

func readFileParameters(file stream.Stream, metadataOffset int64, entries map[uuid.UUID]metadataEntry) (fileParameters, error) {
	e, ok := entries[fileParamsID]
	if !ok {
		return fileParameters{}, kerr.Frame(kerr.ErrInvalidMetadata, "vhdx: missing file parameters item")
	}
	buf := make([]byte, 8)
	if err := file.ReadExactAt(metadataOffset+int64(e.offset), buf); err != nil {
		return fileParameters{}, kerr.Frame(kerr.ErrIO, "vhdx: read file parameters")
	}
	flags := binary.LittleEndian.Uint32(buf[4:8])
	return fileParameters{
		blockSize:            binary.LittleEndian.Uint32(buf[0:4]),
		leaveBlocksAllocated: flags&1 != 0,
		hasParent:            flags&2 != 0,
	}, nil
}

func readUint64Item(file stream.Stream, metadataOffset int64, entries map[uuid.UUID]metadataEntry, id uuid.UUID) (uint64, error) {
	e, ok := entries[id]
	if !ok {
		return 0, kerr.Frame(kerr.ErrInvalidMetadata, "vhdx: missing metadata item %s", id)
	}
	buf := make([]byte, 8)
	if err := file.ReadExactAt(metadataOffset+int64(e.offset), buf); err != nil {
		return 0, kerr.Frame(kerr.ErrIO, "vhdx: read metadata item %s", id)
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func readUint32Item(file stream.Stream, metadataOffset int64, entries map[uuid.UUID]metadataEntry, id uuid.UUID) (uint32, error) {
	e, ok := entries[id]
	if !ok {
		return 0, kerr.Frame(kerr.ErrInvalidMetadata, "vhdx: missing metadata item %s", id)
	}
	buf := make([]byte, 4)
	if err := file.ReadExactAt(metadataOffset+int64(e.offset), buf); err != nil {
		return 0, kerr.Frame(kerr.ErrIO, "vhdx: read metadata item %s", id)
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func (l *Layer) readAt(offset int64, buf []byte) error {
	for len(buf) > 0 {
		blockIndex := offset / l.blockSize
		offsetInBlock := offset % l.blockSize
		n := l.blockSize - offsetInBlock
		if n > int64(len(buf)) {
			n = int64(len(buf))
		}

		// The BAT interleaves one sector-bitmap entry after every
		// chunkRatio data-block entries; skip over those to find the
		// entry index for this data block.
		batIndex := blockIndex + blockIndex/l.chunkRatio
		entryBuf := make([]byte, 8)
		batEntryOffset := l.batOffset + batIndex*8
		if err := l.file.ReadExactAt(batEntryOffset, entryBuf); err != nil {
			return kerr.Frame(kerr.ErrIO, "vhdx: read BAT entry for block %d", blockIndex)
		}
		entry := binary.LittleEndian.Uint64(entryBuf)
		state := entry & batStateMask
		fileOffsetMiB := entry >> 20

		switch state {
		case payloadBlockFullyPresent:
			blockStart := int64(fileOffsetMiB) << 20
			if err := l.file.ReadExactAt(blockStart+offsetInBlock, buf[:n]); err != nil {
				return kerr.Frame(kerr.ErrIO, "vhdx: read block %d", blockIndex)
			}
		case batStateNotPresent, batStateUnmapped:
			if l.backing != nil {
				if err := l.backing.ReadExactAt(offset, buf[:n]); err != nil {
					return kerr.Frame(err, "vhdx: read block %d from parent", blockIndex)
				}
			} else {
				for i := int64(0); i < n; i++ {
					buf[i] = 0
				}
			}
		case batStateZero:
			for i := int64(0); i < n; i++ {
				buf[i] = 0
			}
		case batStateUndefined, batStatePartiallyPresent:
			return kerr.Frame(kerr.ErrUnsupportedFeature, "vhdx: block %d has unsupported BAT state %d", blockIndex, state)
		default:
			return kerr.Frame(kerr.ErrInvalidMetadata, "vhdx: block %d has unknown BAT state %d", blockIndex, state)
		}

		buf = buf[n:]
		offset += n
	}
	return nil
}

var _ image.Layer = (*Layer)(nil)
