package stream

import (
	"bytes"
	"io"

	"github.com/keramics/keramics/internal/kerr"
)

// Fake is an in-memory Stream, used for the VFS "Fake" location type
// (spec.md §3) and extensively in tests as a substitute for real
// storage-media image fixtures.
type Fake struct {
	data []byte
	pos  int64
}

// NewFake wraps data (not copied) as a Stream.
func NewFake(data []byte) *Fake {
	return &Fake{data: data}
}

func (f *Fake) Size() int64 { return int64(len(f.data)) }

func (f *Fake) Read(p []byte) (int, error) {
	if f.pos >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *Fake) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = f.pos
	case io.SeekEnd:
		base = int64(len(f.data))
	default:
		return 0, kerr.Frame(kerr.ErrIO, "invalid whence %d", whence)
	}
	np := base + offset
	if np < 0 {
		return 0, kerr.Frame(kerr.ErrIO, "negative seek position %d", np)
	}
	f.pos = np
	return np, nil
}

func (f *Fake) ReadExactAt(offset int64, buf []byte) error {
	return ReadExactAtFromReaderAt(bytes.NewReader(f.data), offset, buf)
}

func (f *Fake) Close() error { return nil }

var _ Stream = (*Fake)(nil)
