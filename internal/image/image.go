// Package image declares the shared contract every storage-image
// decoder (QCOW, VHD, VHDX, UDIF, sparseimage, EWF) implements:
// spec.md §4.3's "one layer data stream per opened file", composed
// parent-to-child through a BackingResolver.
package image

import "github.com/keramics/keramics/internal/stream"

// Layer is the data stream exposed by one opened image file. Its size
// is the media size declared in the file's header, independent of the
// file's on-disk byte length.
type Layer interface {
	stream.Stream
}

// BackingResolver opens the named backing/parent file relative to
// whatever resolves native paths for the caller (spec.md §4.3.1:
// "relative to the opener's file resolver"). Image decoders call it at
// most once per Open, and only when a header names a backing file.
type BackingResolver func(name string) (stream.Stream, error)

// NoBacking is a BackingResolver that always fails to resolve, for
// opening a top-level image known to have no parent.
func NoBacking(name string) (stream.Stream, error) {
	return nil, errNoBacking
}

var errNoBacking = &noBackingError{}

type noBackingError struct{}

func (*noBackingError) Error() string { return "image: no backing file resolver configured" }
