package stream

import (
	"io"
	"sync"

	"github.com/keramics/keramics/internal/kerr"
)

// Cursor adapts a random-access ReadExactAt implementation into the
// full Stream interface by tracking a read position, the way every
// image-layer and file-system data-fork stream in this engine does.
// Embed it and supply ReadExactAtFunc and Size.
type Cursor struct {
	mu   sync.Mutex
	pos  int64
	size int64
	// ReadExactAtFunc performs the actual bounded read; callers set
	// this once at construction time.
	ReadExactAtFunc func(offset int64, buf []byte) error
}

// NewCursor returns a Cursor of the given declared size.
func NewCursor(size int64, readAt func(offset int64, buf []byte) error) *Cursor {
	return &Cursor{size: size, ReadExactAtFunc: readAt}
}

func (c *Cursor) Size() int64 { return c.size }

func (c *Cursor) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pos >= c.size {
		return 0, io.EOF
	}
	n := int64(len(p))
	if c.pos+n > c.size {
		n = c.size - c.pos
	}
	if err := c.ReadExactAtFunc(c.pos, p[:n]); err != nil {
		return 0, err
	}
	c.pos += n
	return int(n), nil
}

func (c *Cursor) Seek(offset int64, whence int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = c.pos
	case io.SeekEnd:
		base = c.size
	default:
		return 0, kerr.Frame(kerr.ErrIO, "invalid whence %d", whence)
	}
	np := base + offset
	if np < 0 {
		return 0, kerr.Frame(kerr.ErrIO, "negative seek position %d", np)
	}
	c.pos = np
	return np, nil
}

func (c *Cursor) ReadExactAt(offset int64, buf []byte) error {
	return c.ReadExactAtFunc(offset, buf)
}

func (c *Cursor) Close() error { return nil }

var _ Stream = (*Cursor)(nil)
