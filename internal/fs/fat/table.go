package fat

import (
	"encoding/binary"

	"github.com/keramics/keramics/internal/kerr"
	"github.com/keramics/keramics/internal/stream"
)

const (
	fat12End = 0xff8
	fat16End = 0xfff8
	fat32End = 0x0ffffff8
)

// clusterChain follows the FAT starting at startCluster until a
// terminator entry, returning the full ordered cluster list.
func clusterChain(s stream.Stream, b *BootSector, startCluster int64) ([]int64, error) {
	if startCluster < 2 {
		return nil, nil
	}
	fatBase := b.firstFATSector * b.BytesPerSector

	var chain []int64
	seen := map[int64]bool{}
	cluster := startCluster
	for {
		if seen[cluster] {
			return nil, kerr.Frame(kerr.ErrInvalidMetadata, "fat: cluster chain loop at %d", cluster)
		}
		seen[cluster] = true
		chain = append(chain, cluster)

		next, err := readFATEntry(s, b, fatBase, cluster)
		if err != nil {
			return nil, err
		}
		switch b.Type {
		case Type12:
			if next >= fat12End {
				return chain, nil
			}
		case Type16:
			if next >= fat16End {
				return chain, nil
			}
		default:
			if next >= fat32End {
				return chain, nil
			}
		}
		if next < 2 {
			return chain, nil
		}
		cluster = next
	}
}

func readFATEntry(s stream.Stream, b *BootSector, fatBase, cluster int64) (int64, error) {
	switch b.Type {
	case Type12:
		byteOffset := fatBase + cluster + cluster/2
		buf := make([]byte, 2)
		if err := s.ReadExactAt(byteOffset, buf); err != nil {
			return 0, kerr.Frame(kerr.ErrIO, "fat: read FAT12 entry %d", cluster)
		}
		v := binary.LittleEndian.Uint16(buf)
		if cluster%2 == 0 {
			return int64(v & 0x0fff), nil
		}
		return int64(v >> 4), nil
	case Type16:
		buf := make([]byte, 2)
		if err := s.ReadExactAt(fatBase+cluster*2, buf); err != nil {
			return 0, kerr.Frame(kerr.ErrIO, "fat: read FAT16 entry %d", cluster)
		}
		return int64(binary.LittleEndian.Uint16(buf)), nil
	default:
		buf := make([]byte, 4)
		if err := s.ReadExactAt(fatBase+cluster*4, buf); err != nil {
			return 0, kerr.Frame(kerr.ErrIO, "fat: read FAT32 entry %d", cluster)
		}
		return int64(binary.LittleEndian.Uint32(buf) & 0x0fffffff), nil
	}
}

// readClusterChainData reads the full byte content of a cluster chain.
func readClusterChainData(s stream.Stream, b *BootSector, chain []int64) ([]byte, error) {
	clusterSize := b.ClusterSize()
	out := make([]byte, 0, int64(len(chain))*clusterSize)
	buf := make([]byte, clusterSize)
	for _, c := range chain {
		if err := s.ReadExactAt(b.clusterOffset(c), buf); err != nil {
			return nil, kerr.Frame(kerr.ErrIO, "fat: read cluster %d", c)
		}
		out = append(out, buf...)
	}
	return out, nil
}
