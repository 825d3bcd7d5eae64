package scanner

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/keramics/keramics/internal/kerr"
	"github.com/keramics/keramics/internal/klog"
	"github.com/keramics/keramics/internal/stream"
	"github.com/keramics/keramics/internal/vfs"
)

var log = klog.For("scanner")

// VfsScanNode is one node of the recursive scan tree built by Scan
// (spec.md §4.9): the Location it was detected at, the format found
// there, its child nodes (one per enumerated sub-entry that itself
// produced a recognizable container/volume/file-system), and any soft
// errors encountered while scanning its children.
type VfsScanNode struct {
	Location vfs.Location
	Format   Format
	SubNodes []*VfsScanNode
	Errors   []error
}

// ambiguousFormats reports whether a match set is ambiguous. A
// protective MBR underneath a GPT header is the one case spec.md §4.7
// calls out as NOT ambiguous even though both MBR and GPT signatures
// are present at once: GPT's own on-disk design puts a (0x55AA,
// "protective") MBR at sector 0 by construction, so seeing both is the
// expected, nested shape rather than a genuine conflict. Any other
// multi-match combination is reported as ambiguous.
func ambiguousFormats(found []Format) ([]Format, bool) {
	if len(found) <= 1 {
		return found, false
	}
	hasMbr, hasGpt := false, false
	for _, f := range found {
		switch f {
		case FormatMbr:
			hasMbr = true
		case FormatGpt:
			hasGpt = true
		}
	}
	if hasMbr && hasGpt && len(found) == 2 {
		return []Format{FormatGpt}, false
	}
	return found, true
}

// mountFormat returns the location at which a reader of type t, parsing
// the same bytes loc already names, should be mounted. loc's own leaf
// segment addresses an entry by resolving its Path against the
// previous level's mounted reader (spec.md §4.8); mounting a new
// reader on that same entry means keeping that Path and parent intact
// and only swapping in the newly detected Type — except at the root,
// where loc is a single bare Os segment with no parent to resolve
// against, so there mounting requires inserting t as a second segment
// on top of the raw file instead of replacing the (irrelevant) base
// segment's type.
func mountFormat(loc vfs.Location, t vfs.LocationType) vfs.Location {
	if len(loc) == 1 {
		return append(vfs.Location{loc[0]}, vfs.Segment{Type: t, Path: loc[0].Path})
	}
	return loc.WithLeafType(t)
}

// Detect reads s's leading prefix (and, for UDIF's trailer-only
// signature, its trailing bytes) and returns the single format it
// identifies. It returns kerr.ErrAmbiguousSignature if more than one
// non-nested signature matched, or kerr.ErrNotFound if none did.
func Detect(s stream.Stream) (Format, error) {
	size := s.Size()
	n := Config.PrefixSize
	if int64(n) > size {
		n = int(size)
	}
	prefix := make([]byte, n)
	if err := s.ReadExactAt(0, prefix); err != nil {
		return FormatUnknown, kerr.Frame(kerr.ErrIO, "scanner: read prefix")
	}

	found := detectPrefix(prefix)

	udifTrailerSize := int64(Config.UDIFTrailerSize)
	if size >= udifTrailerSize {
		tail := make([]byte, udifTrailerSize)
		if err := s.ReadExactAt(size-udifTrailerSize, tail); err == nil && detectTail(tail) {
			found = append(found, FormatUdif)
		}
	}

	if len(found) == 0 {
		return FormatUnknown, kerr.Frame(kerr.ErrNotFound, "scanner: no recognized signature")
	}
	resolved, ambiguous := ambiguousFormats(found)
	if ambiguous {
		return FormatUnknown, kerr.Frame(kerr.ErrAmbiguousSignature, "scanner: ambiguous signatures %v", found)
	}
	return resolved[0], nil
}

// Scan recursively identifies the format at loc and, for container and
// volume-system formats, fans out over its enumerable children
// (spec.md §4.9), building a VfsScanNode tree. A child that fails to
// open as a recognizable format is recorded as a soft error on its
// parent rather than aborting the whole scan; a hard error (an I/O
// failure reading loc itself) aborts and is returned directly. ctx is
// not checked for cancellation.
func Scan(ctx context.Context, resolver *vfs.Resolver, loc vfs.Location) (*VfsScanNode, error) {
	s, err := resolver.GetDataStreamByPathAndName(loc, "")
	if err != nil {
		return nil, err
	}

	format, err := Detect(s)
	if err != nil {
		// Leaf files with no recognizable internal structure are not a
		// scan failure: they simply have no sub-nodes.
		return &VfsScanNode{Location: loc, Format: FormatUnknown}, nil
	}

	node := &VfsScanNode{Location: loc, Format: format}

	lt, ok := format.ToLocationType()
	if !ok {
		// FormatEwf: not addressable through the typed Location stack
		// (spec.md §3); the scanner reports detection only, leaving
		// acquisition to vfs.Resolver.OpenEWF directly.
		return node, nil
	}

	mountLoc := mountFormat(loc, lt)
	handle, err := resolver.OpenFileSystem(mountLoc)
	if err != nil {
		node.Errors = append(node.Errors, err)
		return node, nil
	}
	defer handle.Release()

	lister, ok := handle.Value.(vfs.Lister)
	if !ok {
		return node, nil
	}
	paths, err := lister.ListTop()
	if err != nil {
		node.Errors = append(node.Errors, err)
		return node, nil
	}

	children := make([]*VfsScanNode, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			// lt is reused as the child's leaf type placeholder: entry
			// resolution (GetFileEntryByLocation) only consumes the
			// leaf's Path, so this merely documents what reader would
			// be mounted here if recursion descends further.
			childLoc := mountLoc.Child(lt, p)
			child, err := Scan(gctx, resolver, childLoc)
			if err != nil {
				return err
			}
			children[i] = child
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, c := range children {
		if c != nil {
			node.SubNodes = append(node.SubNodes, c)
		}
	}
	log.WithField("format", format.String()).Debugf("%s (%d children)", loc.String(), len(node.SubNodes))
	return node, nil
}
