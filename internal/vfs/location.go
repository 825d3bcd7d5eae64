// Package vfs implements the layered virtual file system (spec.md §3
// "VFS location" / §4.8): a resolver that composes image decoders and
// file-system readers behind one uniform file-entry / data-stream API.
package vfs

import (
	"strconv"
	"strings"
)

// LocationType identifies which reader a Location segment names.
type LocationType int

const (
	Os LocationType = iota
	Apm
	Gpt
	Mbr
	Ext
	Ntfs
	Fat
	Qcow
	Vhd
	Vhdx
	Udif
	SparseImage
	Fake
)

func (t LocationType) String() string {
	switch t {
	case Os:
		return "os"
	case Apm:
		return "apm"
	case Gpt:
		return "gpt"
	case Mbr:
		return "mbr"
	case Ext:
		return "ext"
	case Ntfs:
		return "ntfs"
	case Fat:
		return "fat"
	case Qcow:
		return "qcow"
	case Vhd:
		return "vhd"
	case Vhdx:
		return "vhdx"
	case Udif:
		return "udif"
	case SparseImage:
		return "sparseimage"
	case Fake:
		return "fake"
	default:
		return "unknown"
	}
}

// Segment is one (type, path) pair in a Location stack.
type Segment struct {
	Type LocationType
	Path string
}

// Location is a VFS location: a stack of segments, base always Os.
type Location []Segment

// Child returns a new Location with one more segment appended.
func (l Location) Child(t LocationType, path string) Location {
	out := make(Location, len(l)+1)
	copy(out, l)
	out[len(l)] = Segment{Type: t, Path: path}
	return out
}

// Parent returns the location with its last segment removed, and
// whether a parent exists (the Os base has none).
func (l Location) Parent() (Location, bool) {
	if len(l) <= 1 {
		return nil, false
	}
	return l[:len(l)-1], true
}

// Leaf returns the last segment.
func (l Location) Leaf() Segment {
	return l[len(l)-1]
}

// WithLeafType returns a copy of l with its leaf segment's Type
// replaced by t, keeping the same Path. Used to mount a newly detected
// reader over an already-addressed entry: the entry's Path, resolved
// against the same parent, still names the same bytes, but fileSystemFor
// now mounts t's reader on top of them instead of treating the segment
// as a plain resolvable entry.
func (l Location) WithLeafType(t LocationType) Location {
	out := make(Location, len(l))
	copy(out, l)
	out[len(out)-1].Type = t
	return out
}

// String renders the location in the "/type:path/type:path" form used
// as the resolver cache key.
func (l Location) String() string {
	var sb strings.Builder
	for _, seg := range l {
		sb.WriteByte('/')
		sb.WriteString(seg.Type.String())
		sb.WriteByte(':')
		sb.WriteString(seg.Path)
	}
	return sb.String()
}

// VolumePath builds the "/{prefix}{1-based-index}" path syntax that
// volume-system and image layers use (spec.md §3).
func VolumePath(prefix string, oneBasedIndex int) string {
	var sb strings.Builder
	sb.WriteByte('/')
	sb.WriteString(prefix)
	sb.WriteString(strconv.Itoa(oneBasedIndex))
	return sb.String()
}
