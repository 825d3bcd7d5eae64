package stream

import (
	"io"

	"github.com/keramics/keramics/internal/kerr"
)

// Partition is a bounded sub-stream of a parent Stream: offsets are
// clamped to [offset, offset+size) and reads past the end return a
// short count, per spec.md §4.1.
type Partition struct {
	parent Stream
	offset int64
	size   int64
	pos    int64
}

// NewPartition returns a view of parent restricted to
// [offset, offset+size).
func NewPartition(parent Stream, offset, size int64) *Partition {
	return &Partition{parent: parent, offset: offset, size: size}
}

func (p *Partition) Size() int64 { return p.size }

func (p *Partition) Read(buf []byte) (int, error) {
	if p.pos >= p.size {
		return 0, io.EOF
	}
	n := int64(len(buf))
	if p.pos+n > p.size {
		n = p.size - p.pos
	}
	read := buf[:n]
	if err := p.parent.ReadExactAt(p.offset+p.pos, read); err != nil {
		return 0, err
	}
	p.pos += n
	return int(n), nil
}

func (p *Partition) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = p.pos
	case io.SeekEnd:
		base = p.size
	default:
		return 0, kerr.Frame(kerr.ErrIO, "invalid whence %d", whence)
	}
	np := base + offset
	if np < 0 {
		return 0, kerr.Frame(kerr.ErrIO, "negative seek position %d", np)
	}
	p.pos = np
	return np, nil
}

// ReadExactAt reads exactly len(buf) bytes from the partition-relative
// offset; a read that does not lie wholly inside the partition bounds
// is rejected with ErrIO.
func (p *Partition) ReadExactAt(offset int64, buf []byte) error {
	if offset < 0 || offset+int64(len(buf)) > p.size {
		return kerr.Frame(kerr.ErrIO, "read past partition bound: offset=%d len=%d size=%d", offset, len(buf), p.size)
	}
	return p.parent.ReadExactAt(p.offset+offset, buf)
}

func (p *Partition) Close() error { return nil }

var _ Stream = (*Partition)(nil)
