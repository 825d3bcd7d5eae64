package partition

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/keramics/keramics/internal/decode/checksum"
	"github.com/keramics/keramics/internal/decode/textcodec"
	"github.com/keramics/keramics/internal/kerr"
	"github.com/keramics/keramics/internal/klog"
	"github.com/keramics/keramics/internal/stream"
)

var log = klog.For("partition")

var efiPartSignature = []byte("EFI PART")

// ReadGPT decodes the primary GPT header at LBA 1 and its partition
// entry array, verifying the header's own CRC-32 before trusting its
// entry-array location. Entries with an all-zero type GUID are
// unused and are skipped.
func ReadGPT(s stream.Stream) ([]Entry, error) {
	buf := make([]byte, mbrSectorSize)
	if err := s.ReadExactAt(mbrSectorSize, buf); err != nil {
		return nil, kerr.Frame(kerr.ErrIO, "gpt: read header")
	}
	if string(buf[0:8]) != string(efiPartSignature) {
		return nil, kerr.Frame(kerr.ErrInvalidSignature, "gpt: bad EFI PART signature")
	}

	headerSize := binary.LittleEndian.Uint32(buf[12:16])
	storedCRC := binary.LittleEndian.Uint32(buf[16:20])
	verifyBuf := make([]byte, headerSize)
	copy(verifyBuf, buf[:headerSize])
	binary.LittleEndian.PutUint32(verifyBuf[16:20], 0)
	if checksum.CRC32Reflected(checksum.PolyCRC32IEEE, 0, verifyBuf) != storedCRC {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "gpt: header CRC-32 mismatch")
	}

	partitionEntryLBA := int64(binary.LittleEndian.Uint64(buf[72:80]))
	numEntries := binary.LittleEndian.Uint32(buf[80:84])
	entrySize := binary.LittleEndian.Uint32(buf[84:88])

	entries := make([]Entry, 0, numEntries)
	index := 0
	entryBuf := make([]byte, entrySize)
	for i := uint32(0); i < numEntries; i++ {
		off := partitionEntryLBA*mbrSectorSize + int64(i)*int64(entrySize)
		if err := s.ReadExactAt(off, entryBuf); err != nil {
			return nil, kerr.Frame(kerr.ErrIO, "gpt: read partition entry %d", i)
		}
		typeGUID, err := uuid.FromBytes(leGUIDToBE(entryBuf[0:16]))
		if err != nil {
			return nil, kerr.Frame(kerr.ErrInvalidMetadata, "gpt: parse type GUID")
		}
		if typeGUID == uuid.Nil {
			continue
		}
		firstLBA := int64(binary.LittleEndian.Uint64(entryBuf[32:40]))
		lastLBA := int64(binary.LittleEndian.Uint64(entryBuf[40:48]))
		name, err := textcodec.DecodeUTF16LE(entryBuf[56:128])
		if err != nil {
			name = ""
		}
		entries = append(entries, Entry{
			Index:     index,
			Offset:    firstLBA * mbrSectorSize,
			Size:      (lastLBA - firstLBA + 1) * mbrSectorSize,
			TypeLabel: typeGUID.String(),
			Name:      trimNulString(name),
		})
		index++
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

func trimNulString(s string) string {
	for i, c := range s {
		if c == 0 {
			return s[:i]
		}
	}
	return s
}
