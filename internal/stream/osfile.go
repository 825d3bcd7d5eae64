package stream

import (
	"io"
	"os"

	"github.com/keramics/keramics/internal/kerr"
)

// OSFile is a Stream backed by an *os.File, the base of every VFS
// location stack (spec.md §3: "The base is always Os").
type OSFile struct {
	f    *os.File
	size int64
}

// OpenOSFile opens path read-only and stats it for Size().
func OpenOSFile(path string) (*OSFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, kerr.Frame(kerr.ErrIO, "open %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, kerr.Frame(kerr.ErrIO, "stat %s", path)
	}
	return &OSFile{f: f, size: info.Size()}, nil
}

func (o *OSFile) Size() int64 { return o.size }

func (o *OSFile) Read(p []byte) (int, error) { return o.f.Read(p) }

func (o *OSFile) Seek(offset int64, whence int) (int64, error) { return o.f.Seek(offset, whence) }

func (o *OSFile) ReadExactAt(offset int64, buf []byte) error {
	return ReadExactAtFromReaderAt(o.f, offset, buf)
}

func (o *OSFile) Close() error { return o.f.Close() }

var _ Stream = (*OSFile)(nil)
var _ io.Closer = (*OSFile)(nil)
