package fat

import (
	"strings"

	"github.com/keramics/keramics/internal/kerr"
	"github.com/keramics/keramics/internal/stream"
)

// FileSystem is an opened, read-only FAT12/16/32 volume.
type FileSystem struct {
	stream stream.Stream
	boot   *BootSector
}

// Open parses the FAT boot sector.
func Open(s stream.Stream) (*FileSystem, error) {
	b, err := ReadBootSector(s)
	if err != nil {
		return nil, err
	}
	return &FileSystem{stream: s, boot: b}, nil
}

// readRootDir reads the root directory, which for FAT12/16 is a fixed
// region ahead of the data area and for FAT32 is an ordinary cluster
// chain starting at boot.RootCluster.
func (fs *FileSystem) readRootDir() ([]byte, error) {
	if fs.boot.Type == Type32 {
		chain, err := clusterChain(fs.stream, fs.boot, fs.boot.RootCluster)
		if err != nil {
			return nil, err
		}
		return readClusterChainData(fs.stream, fs.boot, chain)
	}
	size := fs.boot.RootDirEntries * 32
	buf := make([]byte, size)
	offset := fs.boot.rootDirSector * fs.boot.BytesPerSector
	if err := fs.stream.ReadExactAt(offset, buf); err != nil {
		return nil, kerr.Frame(kerr.ErrIO, "fat: read root directory")
	}
	return buf, nil
}

// ListDir returns every entry of the directory represented by entry
// (nil for the root directory). Deleted entries are only returned
// when includeDeleted is set, per spec.md §4.6.
func (fs *FileSystem) ListDir(entry *DirEntry, includeDeleted bool) ([]DirEntry, error) {
	var data []byte
	var err error
	if entry == nil {
		data, err = fs.readRootDir()
	} else {
		if !entry.IsDirectory() {
			return nil, kerr.Frame(kerr.ErrNotADirectory, "fat: %q is not a directory", entry.Name)
		}
		chain, cerr := clusterChain(fs.stream, fs.boot, entry.StartCluster)
		if cerr != nil {
			return nil, cerr
		}
		data, err = readClusterChainData(fs.stream, fs.boot, chain)
	}
	if err != nil {
		return nil, err
	}
	return parseDirEntries(data, includeDeleted), nil
}

// Resolve walks a slash-separated path to its directory entry.
func (fs *FileSystem) Resolve(path string) (*DirEntry, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	var current *DirEntry
	for _, part := range parts {
		if part == "" {
			continue
		}
		entries, err := fs.ListDir(current, false)
		if err != nil {
			return nil, err
		}
		found := false
		for i := range entries {
			if strings.EqualFold(entries[i].Name, part) {
				current = &entries[i]
				found = true
				break
			}
		}
		if !found {
			return nil, kerr.Frame(kerr.ErrNotFound, "fat: %q not found", part)
		}
	}
	if current == nil {
		return nil, kerr.Frame(kerr.ErrNotFound, "fat: empty path resolves to the root directory, which has no entry")
	}
	return current, nil
}

// ReadFile resolves path and reads its full cluster-chain contents,
// truncated to the directory entry's recorded size.
func (fs *FileSystem) ReadFile(path string) ([]byte, error) {
	entry, err := fs.Resolve(path)
	if err != nil {
		return nil, err
	}
	if entry.IsDirectory() {
		return nil, kerr.Frame(kerr.ErrNotADirectory, "fat: %q is a directory", path)
	}
	chain, err := clusterChain(fs.stream, fs.boot, entry.StartCluster)
	if err != nil {
		return nil, err
	}
	data, err := readClusterChainData(fs.stream, fs.boot, chain)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > int64(entry.Size) {
		data = data[:entry.Size]
	}
	return data, nil
}
