package ntfs

import (
	"github.com/keramics/keramics/internal/kerr"
	"github.com/keramics/keramics/internal/stream"
)

// readRuns reads size bytes of a non-resident attribute's logical
// stream, given its data runs and the volume's cluster size. Sparse
// runs are left zero-filled, matching NTFS's compressed/sparse-file
// semantics at the byte level (spec.md §4.5 does not model the
// compression transform itself, only the hole-punching).
func readRuns(vol stream.Stream, clusterSize int64, runs []Run, size int64) ([]byte, error) {
	out := make([]byte, size)
	var logicalOffset int64
	for _, r := range runs {
		runBytes := r.Length * clusterSize
		if r.Sparse {
			logicalOffset += runBytes
			continue
		}
		start := logicalOffset
		end := start + runBytes
		if start >= size {
			break
		}
		if end > size {
			end = size
		}
		if err := vol.ReadExactAt(r.StartLCN*clusterSize, out[start:end]); err != nil {
			return nil, kerr.Frame(kerr.ErrIO, "ntfs: read data run at LCN %d", r.StartLCN)
		}
		logicalOffset += runBytes
	}
	return out, nil
}

// attributeData returns the fully materialized value of a (possibly
// non-resident) attribute.
func attributeData(vol stream.Stream, clusterSize int64, a *Attribute) ([]byte, error) {
	if !a.NonResident {
		return a.Value, nil
	}
	return readRuns(vol, clusterSize, a.DataRuns, a.DataSize)
}
