// Package fat implements a read-only FAT12/16/32 reader, including
// VFAT long-name assembly (spec.md §4.6).
package fat

import (
	"encoding/binary"

	"github.com/keramics/keramics/internal/kerr"
	"github.com/keramics/keramics/internal/stream"
)

// Type identifies the FAT variant, inferred from the data-cluster
// count per spec.md §4.6.
type Type int

const (
	Type12 Type = iota
	Type16
	Type32
)

const bootSectorSize = 512

// BootSector holds the subset of the FAT boot sector this reader
// needs.
type BootSector struct {
	Type             Type
	BytesPerSector   int64
	SectorsPerCluster int64
	ReservedSectors  int64
	NumFATs          int64
	RootDirEntries   int64
	FATSize          int64 // in sectors
	TotalSectors     int64
	RootCluster      int64 // FAT32 only

	rootDirSector  int64
	firstFATSector int64
	firstDataSector int64
	dataSectors     int64
}

// ReadBootSector parses the FAT boot sector at offset 0 and infers the
// FAT type from the resulting data-cluster count.
func ReadBootSector(s stream.Stream) (*BootSector, error) {
	buf := make([]byte, bootSectorSize)
	if err := s.ReadExactAt(0, buf); err != nil {
		return nil, kerr.Frame(kerr.ErrIO, "fat: read boot sector")
	}
	if buf[510] != 0x55 || buf[511] != 0xaa {
		return nil, kerr.Frame(kerr.ErrInvalidSignature, "fat: missing 0x55AA boot signature")
	}

	b := &BootSector{
		BytesPerSector:    int64(binary.LittleEndian.Uint16(buf[11:13])),
		SectorsPerCluster: int64(buf[13]),
		ReservedSectors:   int64(binary.LittleEndian.Uint16(buf[14:16])),
		NumFATs:           int64(buf[16]),
		RootDirEntries:    int64(binary.LittleEndian.Uint16(buf[17:19])),
	}
	if b.BytesPerSector == 0 || b.SectorsPerCluster == 0 {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "fat: zero sector/cluster size")
	}

	totalSectors16 := int64(binary.LittleEndian.Uint16(buf[19:21]))
	totalSectors32 := int64(binary.LittleEndian.Uint32(buf[32:36]))
	if totalSectors16 != 0 {
		b.TotalSectors = totalSectors16
	} else {
		b.TotalSectors = totalSectors32
	}

	fatSize16 := int64(binary.LittleEndian.Uint16(buf[22:24]))
	if fatSize16 != 0 {
		b.FATSize = fatSize16
	} else {
		b.FATSize = int64(binary.LittleEndian.Uint32(buf[36:40])) // FAT32 BPB_FATSz32
		b.RootCluster = int64(binary.LittleEndian.Uint32(buf[44:48]))
	}

	b.firstFATSector = b.ReservedSectors
	rootDirSectors := ((b.RootDirEntries * 32) + (b.BytesPerSector - 1)) / b.BytesPerSector
	b.rootDirSector = b.firstFATSector + b.NumFATs*b.FATSize
	b.firstDataSector = b.rootDirSector + rootDirSectors
	b.dataSectors = b.TotalSectors - b.firstDataSector
	dataClusters := b.dataSectors / b.SectorsPerCluster

	switch {
	case dataClusters < 4085:
		b.Type = Type12
	case dataClusters < 65525:
		b.Type = Type16
	default:
		b.Type = Type32
	}
	return b, nil
}

func (b *BootSector) ClusterSize() int64 { return b.BytesPerSector * b.SectorsPerCluster }

// clusterOffset returns the byte offset of cluster n's data region (n
// is a 2-based FAT cluster number, as stored in directory entries).
func (b *BootSector) clusterOffset(n int64) int64 {
	sector := b.firstDataSector + (n-2)*b.SectorsPerCluster
	return sector * b.BytesPerSector
}
