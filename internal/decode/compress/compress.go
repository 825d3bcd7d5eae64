// Package compress wraps the deflate and zlib decompressors used by
// QCOW compressed clusters (spec.md §4.3.1), UDIF zlib-compressed mish
// entries (§4.3.4), and EWF compressed sectors (§4.3.6). It delegates
// to klauspost/compress rather than the standard library's
// compress/flate: klauspost/compress is the corpus's own deflate
// dependency (see rclone's go.mod) and is a drop-in, faster decoder
// with the same io.Reader shape.
package compress

import (
	"bytes"
	"compress/bzip2"
	"io"

	"github.com/klauspost/compress/flate"
	kzlib "github.com/klauspost/compress/zlib"
	"github.com/keramics/keramics/internal/kerr"
)

// InflateRaw decompresses a raw (headerless) deflate stream, as used by
// QCOW's compressed cluster encoding, into exactly wantSize bytes.
func InflateRaw(src []byte, wantSize int) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(src))
	defer fr.Close()
	out := make([]byte, wantSize)
	if _, err := io.ReadFull(fr, out); err != nil {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "inflate: short decompressed output: %v", err)
	}
	return out, nil
}

// InflateZlib decompresses a zlib-wrapped (RFC 1950) deflate stream, as
// used by UDIF zlib-compressed block-table entries and EWF compressed
// sectors.
func InflateZlib(src []byte) ([]byte, error) {
	zr, err := kzlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "zlib header: %v", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "zlib decompress: %v", err)
	}
	return out, nil
}

// InflateBzip2 decompresses a bzip2 stream, as used by UDIF block-table
// entries flagged 0x80000006. No decode-capable bzip2 library appears
// anywhere in the retrieval corpus, so this delegates to the standard
// library's read-only compress/bzip2 (see DESIGN.md).
func InflateBzip2(src []byte) ([]byte, error) {
	br := bzip2.NewReader(bytes.NewReader(src))
	out, err := io.ReadAll(br)
	if err != nil {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "bzip2 decompress: %v", err)
	}
	return out, nil
}

// InflateLZFSE reports ErrUnsupportedFeature: no LZFSE decoder (the
// corpus's UDIF-only compression method 0x80000007) is available in
// the standard library or anywhere in the retrieval corpus.
func InflateLZFSE(src []byte) ([]byte, error) {
	return nil, kerr.Frame(kerr.ErrUnsupportedFeature, "lzfse decompression is not implemented")
}
