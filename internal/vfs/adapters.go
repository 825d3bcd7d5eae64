package vfs

import (
	"strings"

	"github.com/keramics/keramics/internal/fs/ext4"
	"github.com/keramics/keramics/internal/fs/fat"
	"github.com/keramics/keramics/internal/fs/ntfs"
	"github.com/keramics/keramics/internal/image/ewf"
	"github.com/keramics/keramics/internal/image/qcow"
	"github.com/keramics/keramics/internal/image/sparseimage"
	"github.com/keramics/keramics/internal/image/udif"
	"github.com/keramics/keramics/internal/image/vhd"
	"github.com/keramics/keramics/internal/image/vhdx"
	"github.com/keramics/keramics/internal/kerr"
	"github.com/keramics/keramics/internal/partition"
	"github.com/keramics/keramics/internal/stream"
)

// osFileSystem is the trivial FileSystem at the base of every
// Location stack: resolving any path just returns the whole OS file
// as a single data fork, per spec.md §3 ("the base is always Os").
type osFileSystem struct {
	s stream.Stream
}

func (fs *osFileSystem) Resolve(path string) (*FileEntry, error) {
	return &FileEntry{Type: EntryFile, Name: path, Size: fs.s.Size(), Forks: singleFork(func() (stream.Stream, error) { return fs.s, nil })}, nil
}

// partitionFileSystem adapts an MBR/GPT/APM partition table to a
// FileSystem whose children are named "/{prefix}{1-based-index}"
// (spec.md §3's volume-system path syntax).
type partitionFileSystem struct {
	parent  stream.Stream
	prefix  string
	entries []partition.Entry
}

func (fs *partitionFileSystem) Resolve(path string) (*FileEntry, error) {
	idx, ok, prefixMatched := parseIndexedPath(path, fs.prefix)
	if !ok {
		if prefixMatched {
			return nil, kerr.Frame(kerr.ErrNotFound, "vfs: %q not found", path)
		}
		return nil, kerr.Frame(kerr.ErrInvalidPath, "vfs: %q does not name a %s volume", path, fs.prefix)
	}
	if idx < 1 || idx > len(fs.entries) {
		return nil, kerr.Frame(kerr.ErrNotFound, "vfs: %q not found", path)
	}
	e := fs.entries[idx-1]
	parent := fs.parent
	off, size := e.Offset, e.Size
	open := func() (stream.Stream, error) { return stream.NewPartition(parent, off, size), nil }
	return &FileEntry{Type: EntryPartitionLayer, Name: e.Name, Size: size, Forks: singleFork(open)}, nil
}

func (fs *partitionFileSystem) ListTop() ([]string, error) {
	out := make([]string, len(fs.entries))
	for i := range fs.entries {
		out[i] = VolumePath(fs.prefix, i+1)
	}
	return out, nil
}

// parseIndexedPath recognizes "/{prefix}{n}" paths, returning the
// 1-based index n. The third return reports whether prefix itself
// matched (even if the remainder failed to parse as a bare integer) —
// callers use it to tell a wrong-volume-system path ("/apm1" under an
// MBR-typed layer) apart from a merely out-of-range or malformed one.
func parseIndexedPath(path, prefix string) (n int, ok bool, prefixMatched bool) {
	trimmed := strings.TrimPrefix(path, "/")
	p := strings.TrimPrefix(trimmed, prefix)
	if p == trimmed {
		return 0, false, false
	}
	if p == "" {
		return 0, false, true
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return 0, false, true
		}
		n = n*10 + int(r-'0')
	}
	return n, true, true
}

// imageFileSystem adapts a single-layer image decoder to a FileSystem
// exposing one "/{prefix}1" partition/layer entry (spec.md §3).
type imageFileSystem struct {
	prefix string
	layer  stream.Stream
}

func (fs *imageFileSystem) Resolve(path string) (*FileEntry, error) {
	idx, ok, prefixMatched := parseIndexedPath(path, fs.prefix)
	if !ok {
		if prefixMatched {
			return nil, kerr.Frame(kerr.ErrNotFound, "vfs: %q not found", path)
		}
		return nil, kerr.Frame(kerr.ErrInvalidPath, "vfs: %q does not name a %s layer", path, fs.prefix)
	}
	if idx != 1 {
		return nil, kerr.Frame(kerr.ErrNotFound, "vfs: %q not found", path)
	}
	layer := fs.layer
	open := func() (stream.Stream, error) { return layer, nil }
	return &FileEntry{Type: EntryPartitionLayer, Name: fs.prefix + "1", Size: layer.Size(), Forks: singleFork(open)}, nil
}

func (fs *imageFileSystem) ListTop() ([]string, error) {
	return []string{VolumePath(fs.prefix, 1)}, nil
}

// extFileSystem adapts internal/fs/ext4 to the VFS FileSystem
// interface.
type extFileSystem struct{ fs *ext4.FileSystem }

func (a *extFileSystem) Resolve(path string) (*FileEntry, error) {
	in, err := a.fs.Resolve(path)
	if err != nil {
		return nil, err
	}
	typ := EntryFile
	if in.IsDir() {
		typ = EntryDirectory
	} else if in.IsSymlink() {
		typ = EntrySymlink
	}
	return &FileEntry{
		Type: typ,
		Name: lastPathElement(path),
		Size: in.Size(),
		Forks: singleFork(func() (stream.Stream, error) {
			data, err := a.fs.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return stream.NewFake(data), nil
		}),
	}, nil
}

func (a *extFileSystem) ListTop() ([]string, error) {
	entries, err := a.fs.ListDir("/")
	if err != nil {
		return nil, err
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = "/" + e.Name
	}
	return out, nil
}

// ntfsFileSystem adapts internal/fs/ntfs to the VFS FileSystem
// interface.
type ntfsFileSystem struct{ fs *ntfs.FileSystem }

func (a *ntfsFileSystem) Resolve(path string) (*FileEntry, error) {
	entry, err := a.fs.Resolve(path)
	if err != nil {
		return nil, err
	}
	typ := EntryFile
	if entry.IsDirectory() {
		typ = EntryDirectory
	}
	fn, _ := ntfs.BestFileName(entry)
	name := lastPathElement(path)
	if fn != nil {
		name = fn.Name
	}
	forks := map[string]func() (stream.Stream, error){}
	for i := range entry.Attributes {
		at := &entry.Attributes[i]
		if at.Type != ntfs.AttrData {
			continue
		}
		forkName := at.Name // "" for the unnamed $DATA stream
		forks[forkName] = func() (stream.Stream, error) {
			data, err := a.fs.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return stream.NewFake(data), nil
		}
	}
	return &FileEntry{Type: typ, Name: name, Forks: forks}, nil
}

func (a *ntfsFileSystem) ListTop() ([]string, error) {
	names, err := a.fs.ListDir("/")
	if err != nil {
		return nil, err
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = "/" + n
	}
	return out, nil
}

// fatFileSystem adapts internal/fs/fat to the VFS FileSystem
// interface.
type fatFileSystem struct{ fs *fat.FileSystem }

func (a *fatFileSystem) Resolve(path string) (*FileEntry, error) {
	entry, err := a.fs.Resolve(path)
	if err != nil {
		return nil, err
	}
	typ := EntryFile
	if entry.IsDirectory() {
		typ = EntryDirectory
	}
	return &FileEntry{
		Type: typ,
		Name: entry.Name,
		Size: int64(entry.Size),
		Forks: singleFork(func() (stream.Stream, error) {
			data, err := a.fs.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return stream.NewFake(data), nil
		}),
	}, nil
}

func (a *fatFileSystem) ListTop() ([]string, error) {
	entries, err := a.fs.ListDir(nil, false)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsVolumeLabel() {
			continue
		}
		out = append(out, "/"+e.Name)
	}
	return out, nil
}

func lastPathElement(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// newFileSystem instantiates the reader named by t against parent,
// the data stream resolved for this location's containing segment
// (spec.md §4.8 step 4).
func newFileSystem(t LocationType, parent stream.Stream) (FileSystem, error) {
	switch t {
	case Mbr:
		entries, err := partition.ReadMBR(parent)
		if err != nil {
			return nil, err
		}
		return &partitionFileSystem{parent: parent, prefix: "mbr", entries: entries}, nil
	case Gpt:
		entries, err := partition.ReadGPT(parent)
		if err != nil {
			return nil, err
		}
		return &partitionFileSystem{parent: parent, prefix: "gpt", entries: entries}, nil
	case Apm:
		entries, err := partition.ReadAPM(parent)
		if err != nil {
			return nil, err
		}
		return &partitionFileSystem{parent: parent, prefix: "apm", entries: entries}, nil
	case Qcow:
		l, err := qcow.Open(parent, imageNoBacking)
		if err != nil {
			return nil, err
		}
		return &imageFileSystem{prefix: "qcow", layer: l}, nil
	case Vhd:
		l, err := vhd.Open(parent, imageNoBacking)
		if err != nil {
			return nil, err
		}
		return &imageFileSystem{prefix: "vhd", layer: l}, nil
	case Vhdx:
		l, err := vhdx.Open(parent, imageNoBacking)
		if err != nil {
			return nil, err
		}
		return &imageFileSystem{prefix: "vhdx", layer: l}, nil
	case Udif:
		l, err := udif.Open(parent, imageNoBacking)
		if err != nil {
			return nil, err
		}
		return &imageFileSystem{prefix: "udif", layer: l}, nil
	case SparseImage:
		l, err := sparseimage.Open(parent, imageNoBacking)
		if err != nil {
			return nil, err
		}
		return &imageFileSystem{prefix: "sparseimage", layer: l}, nil
	case Ext:
		fs, err := ext4.Open(parent)
		if err != nil {
			return nil, err
		}
		return &extFileSystem{fs: fs}, nil
	case Ntfs:
		fs, err := ntfs.Open(parent)
		if err != nil {
			return nil, err
		}
		return &ntfsFileSystem{fs: fs}, nil
	case Fat:
		fs, err := fat.Open(parent)
		if err != nil {
			return nil, err
		}
		return &fatFileSystem{fs: fs}, nil
	case Fake:
		return &osFileSystem{s: parent}, nil
	default:
		return nil, kerr.Frame(kerr.ErrUnsupportedFeature, "vfs: unsupported location type %v", t)
	}
}

func imageNoBacking(name string) (stream.Stream, error) { return nil, kerr.ErrNotFound }

// newEWFFileSystem adapts a multi-segment EWF acquisition to a
// FileSystem. Unlike the other image formats, EWF's own native input
// is a segment list rather than one parent stream; Resolver.OpenEWF
// passes the full ordered (E01/E02/...) segment list here.
func newEWFFileSystem(segments []stream.Stream) (FileSystem, error) {
	l, err := ewf.Open(segments)
	if err != nil {
		return nil, err
	}
	return &imageFileSystem{prefix: "ewf", layer: l}, nil
}
