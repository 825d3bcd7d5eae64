// Package ntfs implements a read-only NTFS file-system reader (spec.md
// §4.5): volume boot record, MFT entries with fix-up arrays, resident
// and non-resident attribute decoding via data-runs, $FILE_NAME-based
// path resolution through $INDEX_ROOT, and $REPARSE_POINT parsing.
package ntfs

import (
	"bytes"
	"encoding/binary"

	"github.com/keramics/keramics/internal/kerr"
	"github.com/keramics/keramics/internal/stream"
)

var oemID = []byte("NTFS    ")

// BootRecord holds the subset of the NTFS volume boot record this
// reader needs.
type BootRecord struct {
	BytesPerSector    int64
	SectorsPerCluster int64
	MFTLCN            int64
	MFTMirrorLCN      int64
	MFTEntrySize      int64
	IndexEntrySize    int64
	SerialNumber      uint64
}

func (b *BootRecord) ClusterSize() int64 { return b.BytesPerSector * b.SectorsPerCluster }

// ReadBootRecord parses the volume boot record at offset 0.
func ReadBootRecord(s stream.Stream) (*BootRecord, error) {
	buf := make([]byte, 512)
	if err := s.ReadExactAt(0, buf); err != nil {
		return nil, kerr.Frame(kerr.ErrIO, "ntfs: read boot record")
	}
	if !bytes.Equal(buf[3:11], oemID) {
		return nil, kerr.Frame(kerr.ErrInvalidSignature, "ntfs: bad OEM id")
	}

	b := &BootRecord{
		BytesPerSector:    int64(binary.LittleEndian.Uint16(buf[11:13])),
		SectorsPerCluster: int64(buf[13]),
		MFTLCN:            int64(binary.LittleEndian.Uint64(buf[48:56])),
		MFTMirrorLCN:      int64(binary.LittleEndian.Uint64(buf[56:64])),
		SerialNumber:      binary.LittleEndian.Uint64(buf[72:80]),
	}
	b.MFTEntrySize = decodeClusterOrByteSize(int8(buf[64]), b.ClusterSize())
	b.IndexEntrySize = decodeClusterOrByteSize(int8(buf[68]), b.ClusterSize())
	return b, nil
}

// decodeClusterOrByteSize interprets the signed per-cluster size
// encoding NTFS uses for the MFT-entry and index-entry size fields:
// negative n means 1<<(-n) bytes; positive n means n clusters.
func decodeClusterOrByteSize(n int8, clusterSize int64) int64 {
	if n < 0 {
		return int64(1) << uint(-n)
	}
	return int64(n) * clusterSize
}
