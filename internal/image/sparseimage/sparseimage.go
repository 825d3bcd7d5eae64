// Package sparseimage implements Apple's sparse bundle / sparseimage
// band-file decoder (spec.md §4.3.5): a fixed-size header followed by
// fixed-size "bands", each either absent (reads as zero) or present as
// a literal data block.
package sparseimage

import (
	"bytes"
	"encoding/binary"

	"github.com/keramics/keramics/internal/image"
	"github.com/keramics/keramics/internal/kerr"
	"github.com/keramics/keramics/internal/stream"
)

var signature = [4]byte{'s', 'p', 'r', 's'}

const headerSize = 4096

type header struct {
	bandSize    int64
	totalSectors int64
	sectorSize  int64
}

// Layer is one opened single-file sparseimage exposed as a single
// decoded media data stream. The band table is implicit: band N's data
// lives at headerSize + N*bandSize whenever that band is populated, and
// sparse bundles store each band as its own file instead; this reader
// covers the single-file ("sparseimage") on-disk layout only.
type Layer struct {
	*stream.Cursor
	file stream.Stream
	hdr  header
}

// Open parses the sparseimage header and exposes the logical disk
// contents as a single stream, reading zero for any band beyond the
// backing file's current length (an unallocated/未-grown band).
func Open(file stream.Stream, resolve image.BackingResolver) (*Layer, error) {
	buf := make([]byte, headerSize)
	if err := file.ReadExactAt(0, buf); err != nil {
		return nil, kerr.Frame(kerr.ErrIO, "sparseimage: read header")
	}
	if !bytes.Equal(buf[0:4], signature[:]) {
		return nil, kerr.Frame(kerr.ErrInvalidSignature, "sparseimage: bad signature")
	}
	sectorSize := int64(binary.BigEndian.Uint32(buf[4:8]))
	if sectorSize == 0 {
		sectorSize = 512
	}
	bandSizeSectors := int64(binary.BigEndian.Uint32(buf[12:16]))
	totalSectors := int64(binary.BigEndian.Uint32(buf[16:20]))

	hdr := header{
		bandSize:     bandSizeSectors * sectorSize,
		totalSectors: totalSectors,
		sectorSize:   sectorSize,
	}
	if hdr.bandSize == 0 {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "sparseimage: zero band size")
	}

	l := &Layer{file: file, hdr: hdr}
	l.Cursor = stream.NewCursor(hdr.totalSectors*hdr.sectorSize, l.readAt)
	return l, nil
}

func (l *Layer) readAt(offset int64, buf []byte) error {
	fileSize := l.file.Size()
	for len(buf) > 0 {
		bandIndex := offset / l.hdr.bandSize
		offsetInBand := offset % l.hdr.bandSize
		n := l.hdr.bandSize - offsetInBand
		if n > int64(len(buf)) {
			n = int64(len(buf))
		}

		bandFileOffset := headerSize + bandIndex*l.hdr.bandSize + offsetInBand
		switch {
		case bandFileOffset >= fileSize:
			for i := int64(0); i < n; i++ {
				buf[i] = 0
			}
		case bandFileOffset+n > fileSize:
			avail := fileSize - bandFileOffset
			if err := l.file.ReadExactAt(bandFileOffset, buf[:avail]); err != nil {
				return kerr.Frame(kerr.ErrIO, "sparseimage: read band %d", bandIndex)
			}
			for i := avail; i < n; i++ {
				buf[i] = 0
			}
		default:
			if err := l.file.ReadExactAt(bandFileOffset, buf[:n]); err != nil {
				return kerr.Frame(kerr.ErrIO, "sparseimage: read band %d", bandIndex)
			}
		}

		buf = buf[n:]
		offset += n
	}
	return nil
}

var _ image.Layer = (*Layer)(nil)
