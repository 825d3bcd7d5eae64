// Package udif implements the UDIF (.dmg) image decoder (spec.md
// §4.3.4): trailer, plist-resource-fork block tables ("mish" entries),
// and per-run decompression dispatch.
package udif

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"

	"github.com/keramics/keramics/internal/decode/adc"
	"github.com/keramics/keramics/internal/decode/compress"
	"github.com/keramics/keramics/internal/image"
	"github.com/keramics/keramics/internal/kerr"
	"github.com/keramics/keramics/internal/stream"
)

var koly = [4]byte{'k', 'o', 'l', 'y'}

const trailerSize = 512

// Run types in a BLKXTable's chunk entry list, per Apple's mish format.
const (
	runZero        = 0x00000000
	runRaw         = 0x00000001
	runIgnore      = 0x00000002
	runComment     = 0x7ffffffe
	runADC         = 0x80000004
	runZlib        = 0x80000005
	runBzip2       = 0x80000006
	runLZFSE       = 0x80000007
	runTerminator  = 0xffffffff

	sectorSize = 512
)

type trailer struct {
	dataForkOffset int64
	dataForkLength int64
	xmlOffset      int64
	xmlLength      int64
}

type run struct {
	runType         uint32
	sectorStart     int64
	sectorCount     int64
	compOffset      int64
	compLength      int64
}

// Layer is one opened UDIF image exposed as a single decoded media
// stream built from its resource-fork block table.
type Layer struct {
	*stream.Cursor
	file  stream.Stream
	runs  []run
	size  int64
}

// Open parses the UDIF trailer and its "mish" property-list block
// table and exposes the decoded disk image contents.
func Open(file stream.Stream, resolve image.BackingResolver) (*Layer, error) {
	size := file.Size()
	tOffset := size - trailerSize
	if tOffset < 0 {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "udif: file too small for trailer")
	}
	buf := make([]byte, trailerSize)
	if err := file.ReadExactAt(tOffset, buf); err != nil {
		return nil, kerr.Frame(kerr.ErrIO, "udif: read trailer")
	}
	tr, err := parseTrailer(buf)
	if err != nil {
		return nil, err
	}

	xmlBuf := make([]byte, tr.xmlLength)
	if err := file.ReadExactAt(tr.xmlOffset, xmlBuf); err != nil {
		return nil, kerr.Frame(kerr.ErrIO, "udif: read property list")
	}
	runs, totalSectors, err := parsePlist(xmlBuf)
	if err != nil {
		return nil, err
	}

	l := &Layer{file: file, runs: runs, size: totalSectors * sectorSize}
	l.Cursor = stream.NewCursor(l.size, l.readAt)
	return l, nil
}

func parseTrailer(buf []byte) (trailer, error) {
	if !bytes.Equal(buf[0:4], koly[:]) {
		return trailer{}, kerr.Frame(kerr.ErrInvalidSignature, "udif: bad trailer signature")
	}
	return trailer{
		dataForkOffset: int64(binary.BigEndian.Uint64(buf[24:32])),
		dataForkLength: int64(binary.BigEndian.Uint64(buf[32:40])),
		xmlOffset:      int64(binary.BigEndian.Uint64(buf[216:224])),
		xmlLength:      int64(binary.BigEndian.Uint64(buf[224:232])),
	}, nil
}

// parsePlist walks Apple's XML property list token stream looking for
// <data> elements at any depth, decoding each as a candidate BLKXTable
// ("mish") blob. The resource-fork/blkx array this format actually
// nests them under varies in depth across hdiutil versions, so this
// scans structurally instead of binding a fixed schema.
func parsePlist(xmlBuf []byte) ([]run, int64, error) {
	dec := xml.NewDecoder(bytes.NewReader(xmlBuf))
	var runs []run
	var totalSectors int64
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "data" {
			continue
		}
		var b64 string
		if err := dec.DecodeElement(&b64, &start); err != nil {
			continue
		}
		mish, err := base64.StdEncoding.DecodeString(stripXMLWhitespace(b64))
		if err != nil {
			continue
		}
		parsed, sectors, ok := parseMish(mish)
		if !ok {
			continue
		}
		runs = append(runs, parsed...)
		if sectors > totalSectors {
			totalSectors = sectors
		}
	}
	if len(runs) == 0 {
		return nil, 0, kerr.Frame(kerr.ErrInvalidMetadata, "udif: no block table found in property list")
	}
	return runs, totalSectors, nil
}

func stripXMLWhitespace(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			continue
		}
		out = append(out, c)
	}
	return string(out)
}

// parseMish parses one "mish" BLKXTable blob: a fixed header followed
// by a chunk-entry array, per Apple's resource-fork block-table
// format.
func parseMish(buf []byte) ([]run, int64, bool) {
	if len(buf) < 204 || binary.BigEndian.Uint32(buf[0:4]) != 0x6d697368 { // "mish"
		return nil, 0, false
	}
	sectorStart := int64(binary.BigEndian.Uint64(buf[8:16]))
	sectorCount := int64(binary.BigEndian.Uint64(buf[16:24]))
	chunkEntries := binary.BigEndian.Uint32(buf[200:204])

	const entrySize = 40
	const entriesStart = 204
	runs := make([]run, 0, chunkEntries)
	for i := uint32(0); i < chunkEntries; i++ {
		off := entriesStart + int(i)*entrySize
		if off+entrySize > len(buf) {
			break
		}
		e := buf[off : off+entrySize]
		runs = append(runs, run{
			runType:     binary.BigEndian.Uint32(e[0:4]),
			sectorStart: sectorStart + int64(binary.BigEndian.Uint64(e[8:16])),
			sectorCount: int64(binary.BigEndian.Uint64(e[16:24])),
			compOffset:  int64(binary.BigEndian.Uint64(e[24:32])),
			compLength:  int64(binary.BigEndian.Uint64(e[32:40])),
		})
	}
	return runs, sectorStart + sectorCount, true
}

// findRun returns the run covering the given sector, or nil.
func (l *Layer) findRun(sector int64) *run {
	for i := range l.runs {
		r := &l.runs[i]
		if sector >= r.sectorStart && sector < r.sectorStart+r.sectorCount {
			return r
		}
	}
	return nil
}

func (l *Layer) readAt(offset int64, buf []byte) error {
	for len(buf) > 0 {
		sector := offset / sectorSize
		r := l.findRun(sector)
		if r == nil {
			return kerr.Frame(kerr.ErrInvalidMetadata, "udif: no run covers sector %d", sector)
		}
		runBytes := r.sectorCount * sectorSize
		runStartOffset := r.sectorStart * sectorSize
		offsetInRun := offset - runStartOffset
		n := runBytes - offsetInRun
		if n > int64(len(buf)) {
			n = int64(len(buf))
		}

		decoded, err := l.decodeRun(r)
		if err != nil {
			return err
		}
		if offsetInRun+n > int64(len(decoded)) {
			return kerr.Frame(kerr.ErrInvalidMetadata, "udif: decoded run shorter than declared sector count")
		}
		copy(buf[:n], decoded[offsetInRun:offsetInRun+n])

		buf = buf[n:]
		offset += n
	}
	return nil
}

// decodeRun materializes one run's plaintext bytes. Every run is
// re-decompressed on each access; callers performing whole-file scans
// are expected to do so sequentially, matching the corpus's streaming
// read pattern rather than caching decoded runs.
func (l *Layer) decodeRun(r *run) ([]byte, error) {
	want := int(r.sectorCount * sectorSize)
	switch r.runType {
	case runZero, runIgnore:
		return make([]byte, want), nil
	case runRaw:
		buf := make([]byte, r.compLength)
		if err := l.file.ReadExactAt(r.compOffset, buf); err != nil {
			return nil, kerr.Frame(kerr.ErrIO, "udif: read raw run")
		}
		return buf, nil
	case runADC:
		comp := make([]byte, r.compLength)
		if err := l.file.ReadExactAt(r.compOffset, comp); err != nil {
			return nil, kerr.Frame(kerr.ErrIO, "udif: read adc run")
		}
		return adc.Decode(comp)
	case runZlib:
		comp := make([]byte, r.compLength)
		if err := l.file.ReadExactAt(r.compOffset, comp); err != nil {
			return nil, kerr.Frame(kerr.ErrIO, "udif: read zlib run")
		}
		return compress.InflateZlib(comp)
	case runBzip2:
		comp := make([]byte, r.compLength)
		if err := l.file.ReadExactAt(r.compOffset, comp); err != nil {
			return nil, kerr.Frame(kerr.ErrIO, "udif: read bzip2 run")
		}
		return compress.InflateBzip2(comp)
	case runLZFSE:
		return nil, kerr.Frame(kerr.ErrUnsupportedFeature, "udif: lzfse runs are not supported")
	case runComment, runTerminator:
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "udif: read from non-data run type 0x%x", r.runType)
	default:
		return nil, kerr.Frame(kerr.ErrUnsupportedFeature, "udif: unknown run type 0x%x", r.runType)
	}
}

var _ image.Layer = (*Layer)(nil)
