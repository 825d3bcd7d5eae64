package partition

import (
	"encoding/binary"
	"strings"

	"github.com/keramics/keramics/internal/kerr"
	"github.com/keramics/keramics/internal/stream"
)

const apmBlockSize = 512

var apmDDMSignature = [2]byte{'E', 'R'}
var apmEntrySignature = [2]byte{'P', 'M'}

// ReadAPM decodes Apple Partition Map entries starting at block 1 (the
// driver descriptor map occupies block 0). Every entry's own
// map_entries field records the table length, so readers must consult
// entry 1 before knowing how many blocks to scan, per the Apple
// Partition Map's self-describing layout.
func ReadAPM(s stream.Stream) ([]Entry, error) {
	ddm := make([]byte, apmBlockSize)
	if err := s.ReadExactAt(0, ddm); err != nil {
		return nil, kerr.Frame(kerr.ErrIO, "apm: read driver descriptor map")
	}
	if ddm[0] != apmDDMSignature[0] || ddm[1] != apmDDMSignature[1] {
		return nil, kerr.Frame(kerr.ErrInvalidSignature, "apm: bad driver descriptor map signature")
	}

	first := make([]byte, apmBlockSize)
	if err := s.ReadExactAt(apmBlockSize, first); err != nil {
		return nil, kerr.Frame(kerr.ErrIO, "apm: read first partition entry")
	}
	if first[0] != apmEntrySignature[0] || first[1] != apmEntrySignature[1] {
		return nil, kerr.Frame(kerr.ErrInvalidSignature, "apm: bad partition entry signature")
	}
	mapEntries := binary.BigEndian.Uint32(first[4:8])

	var entries []Entry
	buf := make([]byte, apmBlockSize)
	for i := uint32(0); i < mapEntries; i++ {
		off := int64(i+1) * apmBlockSize
		if err := s.ReadExactAt(off, buf); err != nil {
			return nil, kerr.Frame(kerr.ErrIO, "apm: read partition entry %d", i)
		}
		if buf[0] != apmEntrySignature[0] || buf[1] != apmEntrySignature[1] {
			return nil, kerr.Frame(kerr.ErrInvalidMetadata, "apm: bad signature on partition entry %d", i)
		}
		startBlock := int64(binary.BigEndian.Uint32(buf[8:12]))
		blockCount := int64(binary.BigEndian.Uint32(buf[12:16]))
		name := trimCString(buf[16:48])
		typ := trimCString(buf[48:80])
		if typ == "Apple_Free" {
			continue
		}
		entries = append(entries, Entry{
			Index:     int(i),
			Offset:    startBlock * apmBlockSize,
			Size:      blockCount * apmBlockSize,
			TypeLabel: typ,
			Name:      name,
		})
	}
	return entries, nil
}

func trimCString(b []byte) string {
	s := string(b)
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return s
}
