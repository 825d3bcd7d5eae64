// Package ext4 implements a read-only ext2/ext3/ext4 file-system
// reader (spec.md §4.4): superblock and group-descriptor parsing,
// inode decoding via extent trees or classic indirect block trees,
// linear directory traversal, inline data, and extended attributes.
package ext4

import (
	"encoding/binary"

	"github.com/keramics/keramics/internal/decode/checksum"
	"github.com/keramics/keramics/internal/kerr"
	"github.com/keramics/keramics/internal/stream"
)

const superblockOffset = 1024
const superblockSize = 1024

const ext4Magic = 0xef53

// Feature bits consulted during parsing; spec.md §4.4 names these as
// the ones that materially change the decode path.
const (
	incompatExtents  = 0x0040
	incompat64Bit    = 0x0080
	incompatFlexBG   = 0x0200
	incompatInlineData = 0x8000

	roCompatHugeFile    = 0x0008
	roCompatGdtCsum     = 0x0010
	roCompatMetadataCsum = 0x0400
)

// Superblock holds the subset of ext2/3/4 superblock fields this
// reader needs.
type Superblock struct {
	InodesCount        uint32
	BlocksCountLo       uint32
	BlocksCountHi       uint32
	LogBlockSize       uint32
	BlocksPerGroup     uint32
	InodesPerGroup     uint32
	InodeSize          uint16
	FeatureIncompat    uint32
	FeatureRoCompat    uint32
	FeatureCompat      uint32
	UUID               [16]byte
	FirstIno           uint32
	DescSize           uint16
	ChecksumSeed       uint32
	checksumSeedStored bool
}

func (sb *Superblock) BlockSize() int64 { return 1024 << sb.LogBlockSize }

func (sb *Superblock) HasExtents() bool      { return sb.FeatureIncompat&incompatExtents != 0 }
func (sb *Superblock) Has64Bit() bool        { return sb.FeatureIncompat&incompat64Bit != 0 }
func (sb *Superblock) HasInlineData() bool   { return sb.FeatureIncompat&incompatInlineData != 0 }
func (sb *Superblock) HasMetadataCsum() bool { return sb.FeatureRoCompat&roCompatMetadataCsum != 0 }

func (sb *Superblock) GroupDescSize() int64 {
	if sb.Has64Bit() && sb.DescSize >= 64 {
		return int64(sb.DescSize)
	}
	return 32
}

func (sb *Superblock) BlocksCount() int64 {
	return int64(sb.BlocksCountLo) | int64(sb.BlocksCountHi)<<32
}

func (sb *Superblock) GroupCount() int64 {
	n := (sb.BlocksCount() + int64(sb.BlocksPerGroup) - 1) / int64(sb.BlocksPerGroup)
	return n
}

// ReadSuperblock reads and validates the superblock at its fixed
// 1024-byte offset.
func ReadSuperblock(s stream.Stream) (*Superblock, error) {
	buf := make([]byte, superblockSize)
	if err := s.ReadExactAt(superblockOffset, buf); err != nil {
		return nil, kerr.Frame(kerr.ErrIO, "ext4: read superblock")
	}
	if binary.LittleEndian.Uint16(buf[56:58]) != ext4Magic {
		return nil, kerr.Frame(kerr.ErrInvalidSignature, "ext4: bad superblock magic")
	}

	sb := &Superblock{
		InodesCount:    binary.LittleEndian.Uint32(buf[0:4]),
		BlocksCountLo:  binary.LittleEndian.Uint32(buf[4:8]),
		LogBlockSize:   binary.LittleEndian.Uint32(buf[24:28]),
		BlocksPerGroup: binary.LittleEndian.Uint32(buf[32:36]),
		InodesPerGroup: binary.LittleEndian.Uint32(buf[40:44]),
		InodeSize:      256,
		FirstIno:       11,
	}
	copy(sb.UUID[:], buf[104:120])

	if len(buf) >= 100 {
		sb.FeatureCompat = binary.LittleEndian.Uint32(buf[92:96])
		sb.FeatureIncompat = binary.LittleEndian.Uint32(buf[96:100])
		sb.FeatureRoCompat = binary.LittleEndian.Uint32(buf[100:104])
	}
	if len(buf) >= 280 {
		if v := binary.LittleEndian.Uint16(buf[88:90]); v != 0 {
			sb.InodeSize = v
		}
		sb.FirstIno = binary.LittleEndian.Uint32(buf[84:88])
	}
	if len(buf) > 340 {
		sb.BlocksCountHi = binary.LittleEndian.Uint32(buf[336:340])
	}
	if len(buf) > 256 {
		sb.DescSize = binary.LittleEndian.Uint16(buf[254:256])
	}
	if len(buf) > 0x104+4 {
		seed := binary.LittleEndian.Uint32(buf[0x104:0x108])
		if seed != 0 {
			sb.ChecksumSeed = seed
			sb.checksumSeedStored = true
		}
	}
	if !sb.checksumSeedStored {
		sb.ChecksumSeed = checksum.Ext4ChecksumSeed(sb.UUID)
	}

	return sb, nil
}
