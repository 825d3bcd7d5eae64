// Package vhd implements the VHD fixed/dynamic/differencing image
// decoder (spec.md §4.3.2).
package vhd

import (
	"bytes"
	"encoding/binary"

	"github.com/keramics/keramics/internal/decode/textcodec"
	"github.com/keramics/keramics/internal/image"
	"github.com/keramics/keramics/internal/kerr"
	"github.com/keramics/keramics/internal/stream"
)

var cookie = [8]byte{'c', 'o', 'n', 'e', 'c', 't', 'i', 'x'}

const (
	DiskTypeFixed         = 2
	DiskTypeDynamic       = 3
	DiskTypeDifferencing  = 4

	footerSize  = 512
	headerSize  = 1024
	batEntryEnd = 0xffffffff
)

type footer struct {
	mediaSize int64
	diskType  uint32
}

type dynamicHeader struct {
	tableOffset int64
	blockSize   int64
}

// Layer is one opened VHD file exposed as a single media data stream.
type Layer struct {
	*stream.Cursor
	file      stream.Stream
	ft        footer
	dh        dynamicHeader
	bat       []uint32
	backing   image.Layer
}

// Open parses a VHD footer (and, for dynamic/differencing disks, the
// dynamic header and block allocation table) and, when the disk is
// differencing, resolves its parent via resolve.
func Open(file stream.Stream, resolve image.BackingResolver) (*Layer, error) {
	size := file.Size()
	buf := make([]byte, footerSize)
	footerOffset := size - footerSize
	if footerOffset < 0 {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "vhd: file too small for footer")
	}
	if err := file.ReadExactAt(footerOffset, buf); err != nil {
		return nil, kerr.Frame(kerr.ErrIO, "vhd: read footer")
	}
	ft, err := parseFooter(buf)
	if err != nil {
		return nil, err
	}

	l := &Layer{file: file, ft: ft}

	switch ft.diskType {
	case DiskTypeFixed:
		l.Cursor = stream.NewCursor(ft.mediaSize, l.readAtFixed)
		return l, nil
	case DiskTypeDynamic, DiskTypeDifferencing:
		dh, bat, err := parseDynamicHeaderAndBAT(file)
		if err != nil {
			return nil, err
		}
		l.dh = dh
		l.bat = bat
		if ft.diskType == DiskTypeDifferencing {
			parentName, err := parseParentLocator(file)
			if err != nil {
				return nil, err
			}
			parentStream, err := resolve(parentName)
			if err != nil {
				return nil, kerr.Frame(err, "vhd: open parent %q", parentName)
			}
			parent, err := Open(parentStream, resolve)
			if err != nil {
				return nil, kerr.Frame(err, "vhd: parse parent as vhd")
			}
			l.backing = parent
		}
		l.Cursor = stream.NewCursor(ft.mediaSize, l.readAtDynamic)
		return l, nil
	default:
		return nil, kerr.Frame(kerr.ErrUnsupportedFeature, "vhd: disk type %d is not supported", ft.diskType)
	}
}

func parseFooter(buf []byte) (footer, error) {
	if !bytes.Equal(buf[0:8], cookie[:]) {
		return footer{}, kerr.Frame(kerr.ErrInvalidSignature, "vhd: bad footer cookie")
	}
	mediaSize := int64(binary.BigEndian.Uint64(buf[40:48]))
	diskType := binary.BigEndian.Uint32(buf[60:64])
	return footer{mediaSize: mediaSize, diskType: diskType}, nil
}

// parseDynamicHeaderAndBAT locates the dynamic header through the
// footer's "data offset" field, read from the leading footer copy at
// offset 0; for fixed disks that field is unused.
func parseDynamicHeaderAndBAT(file stream.Stream) (dynamicHeader, []uint32, error) {
	ftBuf := make([]byte, footerSize)
	if err := file.ReadExactAt(0, ftBuf); err != nil {
		return dynamicHeader{}, nil, kerr.Frame(kerr.ErrIO, "vhd: read leading footer copy")
	}
	dataOffset := int64(binary.BigEndian.Uint64(ftBuf[16:24]))

	hdrBuf := make([]byte, headerSize)
	if err := file.ReadExactAt(dataOffset, hdrBuf); err != nil {
		return dynamicHeader{}, nil, kerr.Frame(kerr.ErrIO, "vhd: read dynamic header")
	}
	if !bytes.Equal(hdrBuf[0:8], []byte("cxsparse")) {
		return dynamicHeader{}, nil, kerr.Frame(kerr.ErrInvalidSignature, "vhd: bad dynamic header cookie")
	}
	tableOffset := int64(binary.BigEndian.Uint64(hdrBuf[16:24]))
	maxTableEntries := binary.BigEndian.Uint32(hdrBuf[28:32])
	blockSize := int64(binary.BigEndian.Uint32(hdrBuf[32:36]))

	batBuf := make([]byte, maxTableEntries*4)
	if err := file.ReadExactAt(tableOffset, batBuf); err != nil {
		return dynamicHeader{}, nil, kerr.Frame(kerr.ErrIO, "vhd: read block allocation table")
	}
	bat := make([]uint32, maxTableEntries)
	for i := range bat {
		bat[i] = binary.BigEndian.Uint32(batBuf[i*4 : i*4+4])
	}
	return dynamicHeader{tableOffset: tableOffset, blockSize: blockSize}, bat, nil
}

func parseParentLocator(file stream.Stream) (string, error) {
	ftBuf := make([]byte, footerSize)
	if err := file.ReadExactAt(0, ftBuf); err != nil {
		return "", kerr.Frame(kerr.ErrIO, "vhd: read leading footer copy")
	}
	dataOffset := int64(binary.BigEndian.Uint64(ftBuf[16:24]))
	hdrBuf := make([]byte, headerSize)
	if err := file.ReadExactAt(dataOffset, hdrBuf); err != nil {
		return "", kerr.Frame(kerr.ErrIO, "vhd: read dynamic header")
	}
	// Parent unicode name: 512 bytes at offset 0x40, UTF-16 big-endian
	// per the VHD spec.
	nameBuf := hdrBuf[0x40 : 0x40+512]
	// Trim trailing NUL padding.
	end := len(nameBuf)
	for end >= 2 && nameBuf[end-2] == 0 && nameBuf[end-1] == 0 {
		end -= 2
	}
	le := make([]byte, end)
	for i := 0; i+1 < end; i += 2 {
		le[i], le[i+1] = nameBuf[i+1], nameBuf[i]
	}
	name, err := textcodec.DecodeUTF16LE(le)
	if err != nil {
		return "", kerr.Frame(err, "vhd: decode parent locator name")
	}
	return name, nil
}

func (l *Layer) readAtFixed(offset int64, buf []byte) error {
	return l.file.ReadExactAt(offset, buf)
}

func (l *Layer) sectorBitmapSize() int64 {
	sectors := l.dh.blockSize / 512
	bitmapBytes := (sectors + 7) / 8
	return ((bitmapBytes + 511) / 512) * 512
}

func (l *Layer) readAtDynamic(offset int64, buf []byte) error {
	blockSize := l.dh.blockSize
	for len(buf) > 0 {
		blockIndex := offset / blockSize
		offsetInBlock := offset % blockSize
		n := blockSize - offsetInBlock
		if n > int64(len(buf)) {
			n = int64(len(buf))
		}
		if blockIndex < 0 || blockIndex >= int64(len(l.bat)) || l.bat[blockIndex] == batEntryEnd {
			if err := l.readUnallocated(offset, buf[:n]); err != nil {
				return err
			}
		} else {
			blockStart := int64(l.bat[blockIndex]) * 512
			dataStart := blockStart + l.sectorBitmapSize()
			if err := l.file.ReadExactAt(dataStart+offsetInBlock, buf[:n]); err != nil {
				return kerr.Frame(kerr.ErrIO, "vhd: read block %d", blockIndex)
			}
		}
		buf = buf[n:]
		offset += n
	}
	return nil
}

func (l *Layer) readUnallocated(offset int64, buf []byte) error {
	if l.backing != nil {
		return l.backing.ReadExactAt(offset, buf)
	}
	for i := range buf {
		buf[i] = 0
	}
	return nil
}

var _ image.Layer = (*Layer)(nil)
