package vfs

import (
	"github.com/keramics/keramics/internal/kerr"
	"github.com/keramics/keramics/internal/stream"
)

// EntryType classifies a FileEntry (spec.md §3 "File entry").
type EntryType int

const (
	EntryRoot EntryType = iota
	EntryPartitionLayer
	EntryDirectory
	EntryFile
	EntrySymlink
)

// FileEntry is the polymorphic VFS node spec.md §3 describes: a Root,
// a Partition/Layer, or a file-system-specific regular
// file/directory/symlink, each with zero or more named data forks.
// Only the default (nameless) fork is modeled here; NTFS named
// alternate streams are exposed through Forks.
type FileEntry struct {
	Type       EntryType
	Name       string
	Identifier string
	Size       int64

	// Forks maps fork name ("" for the default fork) to a lazily
	// materialized stream opener, per spec.md's "producing the
	// underlying data stream is deferred" data-fork note.
	Forks map[string]func() (stream.Stream, error)
}

func (e *FileEntry) IsDir() bool {
	return e.Type == EntryRoot || e.Type == EntryDirectory
}

// GetDataStream materializes the named fork's stream ("" for the
// default fork).
func (e *FileEntry) GetDataStream(forkName string) (stream.Stream, error) {
	open, ok := e.Forks[forkName]
	if !ok {
		return nil, kerr.Frame(kerr.ErrNotFound, "vfs: entry %q has no %q data fork", e.Name, forkName)
	}
	return open()
}

func singleFork(open func() (stream.Stream, error)) map[string]func() (stream.Stream, error) {
	return map[string]func() (stream.Stream, error){"": open}
}

func byteFork(data []byte) func() (stream.Stream, error) {
	return func() (stream.Stream, error) { return stream.NewFake(data), nil }
}

// FileSystem is the uniform interface every reader adapter (OS,
// partition/volume-system, image layer, or file-system reader)
// presents to the resolver.
type FileSystem interface {
	// Resolve walks a native sub-path (the leaf Location segment's
	// Path) to the FileEntry it names.
	Resolve(path string) (*FileEntry, error)
}

// Lister is implemented by FileSystems that can enumerate their own
// top-level entries' native paths. The scanner (spec.md §4.9) uses it
// to build a VfsScanNode tree without knowing each reader's internals.
type Lister interface {
	ListTop() ([]string, error)
}
