package ntfs

import (
	"encoding/binary"

	"github.com/keramics/keramics/internal/kerr"
)

const indexEntryFlagHasSubnode = 0x0001
const indexEntryFlagLast = 0x0002

var indexRecordSignature = []byte("INDX")

// indexEntry is one decoded $I30 index entry.
type indexEntry struct {
	MFTReference uint64
	FileName     *FileNameAttr
	SubnodeVCN   int64
	HasSubnode   bool
}

// walkIndexEntries parses a sequence of index entries starting at
// buf[0] (the slice already positioned past the index header), calling
// visit for each non-final entry that carries a file name, and for the
// final entry when it has a subnode. It stops at the "last entry" marker.
func walkIndexEntries(buf []byte, visit func(indexEntry) error) error {
	pos := 0
	for pos+16 <= len(buf) {
		entryLen := int(binary.LittleEndian.Uint16(buf[pos+8 : pos+10]))
		keyLen := int(binary.LittleEndian.Uint16(buf[pos+10 : pos+12]))
		flags := binary.LittleEndian.Uint16(buf[pos+12 : pos+14])
		if entryLen < 16 || pos+entryLen > len(buf) {
			break
		}

		var e indexEntry
		e.MFTReference = binary.LittleEndian.Uint64(buf[pos : pos+8])
		e.HasSubnode = flags&indexEntryFlagHasSubnode != 0
		if e.HasSubnode {
			e.SubnodeVCN = int64(binary.LittleEndian.Uint64(buf[pos+entryLen-8 : pos+entryLen]))
		}

		isLast := flags&indexEntryFlagLast != 0
		if !isLast && keyLen > 0 && pos+16+keyLen <= len(buf) {
			fn, err := ParseFileName(buf[pos+16 : pos+16+keyLen])
			if err == nil {
				e.FileName = fn
				if err := visit(e); err != nil {
					return err
				}
			}
		} else if e.HasSubnode {
			if err := visit(e); err != nil {
				return err
			}
		}

		if isLast {
			break
		}
		pos += entryLen
	}
	return nil
}

// indexRootEntries decodes the in-line entries of an $INDEX_ROOT
// attribute value.
func indexRootEntries(v []byte) ([]indexEntry, error) {
	if len(v) < 32 {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "ntfs: $INDEX_ROOT too short")
	}
	entriesOffset := int(binary.LittleEndian.Uint32(v[16:20]))
	totalSize := int(binary.LittleEndian.Uint32(v[20:24]))
	headerStart := 16
	if headerStart+entriesOffset > len(v) || headerStart+totalSize > len(v) {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "ntfs: $INDEX_ROOT bounds overrun")
	}
	buf := v[headerStart+entriesOffset : headerStart+totalSize]
	var out []indexEntry
	err := walkIndexEntries(buf, func(e indexEntry) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

// indexAllocationEntries decodes one fixed-up INDX record, returning
// the entries within it. The caller slices record to the volume's index
// record size (the boot sector's IndexEntrySize, decoded in boot.go).
func indexAllocationEntries(record []byte, bytesPerSector int64) ([]indexEntry, error) {
	if len(record) < 4 || string(record[0:4]) != string(indexRecordSignature) {
		return nil, kerr.Frame(kerr.ErrInvalidSignature, "ntfs: bad INDX record signature")
	}
	usaOffset := binary.LittleEndian.Uint16(record[4:6])
	usaCount := binary.LittleEndian.Uint16(record[6:8])
	if err := applyFixup(record, int(usaOffset), int(usaCount), bytesPerSector); err != nil {
		return nil, err
	}
	entriesOffset := int(binary.LittleEndian.Uint32(record[24:28]))
	totalSize := int(binary.LittleEndian.Uint32(record[28:32]))
	headerStart := 24
	if headerStart+entriesOffset > len(record) || headerStart+totalSize > len(record) {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "ntfs: INDX record bounds overrun")
	}
	buf := record[headerStart+entriesOffset : headerStart+totalSize]
	var out []indexEntry
	err := walkIndexEntries(buf, func(e indexEntry) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

// directoryEntries returns every index entry found for dirEntry, merging
// $INDEX_ROOT's inline entries with any entries held in $INDEX_ALLOCATION's
// INDX records (spec.md §4.5): a directory with enough entries that NTFS
// has converted its index to non-resident form keeps only the B-tree's
// non-leaf nodes inline in $INDEX_ROOT, with the leaf entries themselves
// living in $INDEX_ALLOCATION, so either lookup or listing that reads
// $INDEX_ROOT alone sees an incomplete directory.
func (fs *FileSystem) directoryEntries(dirEntry *Entry) ([]indexEntry, error) {
	root := dirEntry.Attr(AttrIndexRoot)
	if root == nil {
		return nil, kerr.Frame(kerr.ErrNotADirectory, "ntfs: not a directory (no $INDEX_ROOT)")
	}
	entries, err := indexRootEntries(root.Value)
	if err != nil {
		return nil, err
	}

	alloc := dirEntry.Attr(AttrIndexAllocation)
	if alloc == nil {
		return entries, nil
	}
	data, err := attributeData(fs.stream, fs.boot.ClusterSize(), alloc)
	if err != nil {
		return nil, err
	}
	recordSize := int(fs.boot.IndexEntrySize)
	for off := 0; off+recordSize <= len(data); off += recordSize {
		allocEntries, err := indexAllocationEntries(data[off:off+recordSize], fs.boot.BytesPerSector)
		if err != nil {
			continue
		}
		entries = append(entries, allocEntries...)
	}
	return entries, nil
}

// lookupInDirectory resolves name within the directory entry dirEntry,
// searching both $INDEX_ROOT and, when present, $INDEX_ALLOCATION.
func (fs *FileSystem) lookupInDirectory(dirEntry *Entry, name string) (uint64, error) {
	entries, err := fs.directoryEntries(dirEntry)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.FileName != nil && e.FileName.Name == name {
			return e.MFTReference, nil
		}
	}
	return 0, kerr.Frame(kerr.ErrNotFound, "ntfs: %q not found", name)
}
