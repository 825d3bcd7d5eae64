package ntfs

import "github.com/keramics/keramics/internal/kerr"

// Run is one decoded data-run: length clusters starting at LCN
// StartLCN, or a sparse run (StartLCN ignored) when Sparse is true.
type Run struct {
	Length   int64
	StartLCN int64
	Sparse   bool
}

// DecodeDataRuns parses an NTFS data-runs byte stream (spec.md §4.5):
// a sequence of {number_of_blocks, block_number (signed delta)} pairs
// with nibble-encoded field widths, terminated by a zero byte.
func DecodeDataRuns(buf []byte) ([]Run, error) {
	var runs []Run
	var lcn int64
	i := 0
	for i < len(buf) && buf[i] != 0 {
		header := buf[i]
		lengthSize := int(header & 0x0f)
		offsetSize := int(header >> 4)
		i++
		if i+lengthSize+offsetSize > len(buf) {
			return nil, kerr.Frame(kerr.ErrInvalidMetadata, "ntfs: data run overruns attribute value")
		}

		length := readLittleEndianUint(buf[i : i+lengthSize])
		i += lengthSize

		if offsetSize == 0 {
			runs = append(runs, Run{Length: length, Sparse: true})
			continue
		}
		delta := readLittleEndianSigned(buf[i : i+offsetSize])
		i += offsetSize
		lcn += delta
		runs = append(runs, Run{Length: length, StartLCN: lcn})
	}
	return runs, nil
}

func readLittleEndianUint(b []byte) int64 {
	var v int64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | int64(b[i])
	}
	return v
}

// readLittleEndianSigned sign-extends a little-endian two's-complement
// value of arbitrary byte width.
func readLittleEndianSigned(b []byte) int64 {
	v := readLittleEndianUint(b)
	bits := uint(len(b)) * 8
	signBit := int64(1) << (bits - 1)
	if v&signBit != 0 {
		v -= int64(1) << bits
	}
	return v
}
