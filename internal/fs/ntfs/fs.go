package ntfs

import (
	"strings"

	"github.com/keramics/keramics/internal/kerr"
	"github.com/keramics/keramics/internal/stream"
)

const rootMFTReference = 5

// mftReferenceEntry extracts the 48-bit entry number from a 64-bit
// MFT reference, discarding the 16-bit sequence number used only for
// stale-reference detection.
func mftReferenceEntry(ref uint64) int64 {
	return int64(ref & 0x0000ffffffffffff)
}

// FileSystem is an opened, read-only NTFS volume.
type FileSystem struct {
	stream   stream.Stream
	boot     *BootRecord
	mftRuns  []Run
	mftSize  int64
}

// Open parses the volume boot record and bootstraps access to the
// master file table by reading its own self-describing entry (MFT
// entry 0, located directly via boot.MFTLCN).
func Open(s stream.Stream) (*FileSystem, error) {
	boot, err := ReadBootRecord(s)
	if err != nil {
		return nil, err
	}

	entry0Buf := make([]byte, boot.MFTEntrySize)
	if err := s.ReadExactAt(boot.MFTLCN*boot.ClusterSize(), entry0Buf); err != nil {
		return nil, kerr.Frame(kerr.ErrIO, "ntfs: read $MFT entry 0")
	}
	entry0, err := ParseMFTEntry(entry0Buf, boot.BytesPerSector)
	if err != nil {
		return nil, err
	}
	dataAttr := entry0.Attr(AttrData)
	if dataAttr == nil || !dataAttr.NonResident {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "ntfs: $MFT entry 0 missing non-resident $DATA")
	}

	return &FileSystem{
		stream:  s,
		boot:    boot,
		mftRuns: dataAttr.DataRuns,
		mftSize: dataAttr.DataSize,
	}, nil
}

// readEntry reads and decodes the MFT entry at the given entry number.
func (fs *FileSystem) readEntry(entryNumber int64) (*Entry, error) {
	entrySize := fs.boot.MFTEntrySize
	offset := entryNumber * entrySize
	if offset+entrySize > fs.mftSize {
		return nil, kerr.Frame(kerr.ErrNotFound, "ntfs: MFT entry %d out of range", entryNumber)
	}
	buf, err := readRunsAt(fs.stream, fs.boot.ClusterSize(), fs.mftRuns, offset, entrySize)
	if err != nil {
		return nil, err
	}
	return ParseMFTEntry(buf, fs.boot.BytesPerSector)
}

// Resolve walks path (slash-separated, rooted at "/") to its MFT
// entry, following the $I30 index at each directory component.
func (fs *FileSystem) Resolve(path string) (*Entry, error) {
	entry, err := fs.readEntry(rootMFTReference)
	if err != nil {
		return nil, err
	}
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		ref, err := fs.lookupInDirectory(entry, part)
		if err != nil {
			return nil, err
		}
		entry, err = fs.readEntry(mftReferenceEntry(ref))
		if err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// ListDir resolves path to a directory and returns the names found in
// its $INDEX_ROOT and, if present, $INDEX_ALLOCATION entries.
func (fs *FileSystem) ListDir(path string) ([]string, error) {
	entry, err := fs.Resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := fs.directoryEntries(entry)
	if err != nil {
		return nil, kerr.Frame(err, "ntfs: %q is not a directory", path)
	}
	var names []string
	for _, e := range entries {
		if e.FileName != nil {
			names = append(names, e.FileName.Name)
		}
	}
	return names, nil
}

// ReadFile resolves path and returns the full decoded contents of its
// unnamed $DATA attribute.
func (fs *FileSystem) ReadFile(path string) ([]byte, error) {
	entry, err := fs.Resolve(path)
	if err != nil {
		return nil, err
	}
	data := entry.Attr(AttrData)
	if data == nil {
		return nil, kerr.Frame(kerr.ErrNotFound, "ntfs: %q has no $DATA attribute", path)
	}
	return attributeData(fs.stream, fs.boot.ClusterSize(), data)
}

// readRunsAt reads a byteLen-byte window starting at logical offset
// within a run-mapped stream, without materializing the whole stream.
func readRunsAt(vol stream.Stream, clusterSize int64, runs []Run, offset, byteLen int64) ([]byte, error) {
	out := make([]byte, byteLen)
	var logical int64
	want := offset + byteLen
	for _, r := range runs {
		runBytes := r.Length * clusterSize
		runStart := logical
		runEnd := logical + runBytes
		logical = runEnd
		if runEnd <= offset || runStart >= want {
			continue
		}
		copyStart := max64(runStart, offset)
		copyEnd := min64(runEnd, want)
		if r.Sparse {
			continue // left zero
		}
		srcOffset := r.StartLCN*clusterSize + (copyStart - runStart)
		if err := vol.ReadExactAt(srcOffset, out[copyStart-offset:copyEnd-offset]); err != nil {
			return nil, kerr.Frame(kerr.ErrIO, "ntfs: read run window at LCN %d", r.StartLCN)
		}
	}
	return out, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
