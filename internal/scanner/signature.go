// Package scanner implements the format scanner (spec.md §4.7, §4.9):
// signature-based container/volume/file-system identification over a
// data stream's prefix, and recursive VfsScanNode tree construction
// over a resolved Location stack.
package scanner

import (
	"bytes"
	"encoding/binary"

	"github.com/keramics/keramics/internal/vfs"
)

// Format identifies a detected container/volume/file-system kind.
// It mirrors vfs.LocationType except for Ewf, which spec.md §3 does
// not include in VfsLocation's type enum (see ToLocationType).
type Format int

const (
	FormatUnknown Format = iota
	FormatQcow
	FormatVhd
	FormatVhdx
	FormatUdif
	FormatSparseImage
	FormatEwf
	FormatExt
	FormatNtfs
	FormatFat
	FormatMbr
	FormatGpt
	FormatApm
)

func (f Format) String() string {
	switch f {
	case FormatQcow:
		return "qcow"
	case FormatVhd:
		return "vhd"
	case FormatVhdx:
		return "vhdx"
	case FormatUdif:
		return "udif"
	case FormatSparseImage:
		return "sparseimage"
	case FormatEwf:
		return "ewf"
	case FormatExt:
		return "ext"
	case FormatNtfs:
		return "ntfs"
	case FormatFat:
		return "fat"
	case FormatMbr:
		return "mbr"
	case FormatGpt:
		return "gpt"
	case FormatApm:
		return "apm"
	default:
		return "unknown"
	}
}

// ToLocationType maps a detected Format to the vfs.LocationType the
// resolver dispatches on. Ewf has no LocationType (spec.md §3): callers
// recognizing FormatEwf must go through vfs.Resolver.OpenEWF instead of
// the typed Location stack.
func (f Format) ToLocationType() (vfs.LocationType, bool) {
	switch f {
	case FormatQcow:
		return vfs.Qcow, true
	case FormatVhd:
		return vfs.Vhd, true
	case FormatVhdx:
		return vfs.Vhdx, true
	case FormatUdif:
		return vfs.Udif, true
	case FormatSparseImage:
		return vfs.SparseImage, true
	case FormatExt:
		return vfs.Ext, true
	case FormatNtfs:
		return vfs.Ntfs, true
	case FormatFat:
		return vfs.Fat, true
	case FormatMbr:
		return vfs.Mbr, true
	case FormatGpt:
		return vfs.Gpt, true
	case FormatApm:
		return vfs.Apm, true
	default:
		return 0, false
	}
}

// Options holds the scanner's tunables, following the teacher's
// Option-struct-per-package configuration style (rclone's
// fs.Option/configstruct pattern) rather than reading environment
// variables. Callers that want non-default tuning replace
// scanner.Config wholesale; the zero Config is invalid, so
// package-level code always reads through DefaultOptions unless
// SetOptions has been called.
type Options struct {
	// PrefixSize is the amount of leading stream data read once and
	// matched against every prefix signature (spec.md §4.7).
	PrefixSize int
	// UDIFTrailerSize is the size of UDIF's trailing "koly" block,
	// read from the end of the stream as a special case.
	UDIFTrailerSize int
}

// DefaultOptions are the values spec.md §4.7/§9 documents.
var DefaultOptions = Options{
	PrefixSize:      256 * 1024,
	UDIFTrailerSize: 512,
}

// Config is the Options Detect and Scan currently read from. Tests or
// CLI front ends may overwrite it via SetOptions; the library itself
// never mutates it.
var Config = DefaultOptions

// SetOptions replaces Config.
func SetOptions(o Options) { Config = o }

// A prefix signature matches fixed bytes at a fixed offset within the
// leading Config.PrefixSize-byte window.
type prefixSignature struct {
	Format Format
	Offset int64
	Magic  []byte
}

// strongSignatures are unambiguous on their own: seeing one identifies
// its format with no further corroboration needed.
var strongSignatures = []prefixSignature{
	{FormatQcow, 0, []byte{'Q', 'F', 'I', 0xfb}},
	{FormatVhdx, 0, []byte("vhdxfile")},
	{FormatVhd, 0, []byte("conectix")},
	{FormatEwf, 0, []byte{0x45, 0x56, 0x46, 0x09, 0x0d, 0x0a, 0xff, 0x00}},
	{FormatSparseImage, 0, []byte("sprs")},
	{FormatNtfs, 3, []byte("NTFS    ")},
	{FormatGpt, 512, []byte("EFI PART")},
	{FormatApm, 512, []byte("PM")},
}

// weakSignature is checked on every prefix alongside the strong
// signatures: 0x55AA at offset 510 is shared by both a classic MBR and
// any FAT12/16/32 boot sector, so looksLikeFATBootSector picks between
// the two. A weak match together with a strong one is ambiguous, except
// MBR with GPT, which ambiguousFormats resolves to GPT. MBR is the weakest of the two and is tried last,
// per spec.md §4.7's ordering note.
const weakSignatureOffset = 510

var weakSignature = []byte{0x55, 0xaa}

// ext4's magic sits inside the superblock at a fixed absolute byte
// offset (1024-byte superblock start + 56-byte in-superblock field
// offset), not at the start of the stream, so it is matched
// separately rather than folded into prefixSignature's simple layout.
const ext4MagicOffset = 1024 + 56
const ext4Magic = 0xef53

// UDIF's "koly" trailer is read from the END of the stream, sized per
// Config.UDIFTrailerSize. UDIF is the one format spec.md §4.7's "match
// a fixed prefix" design cannot detect directly: a DMG has no reliable
// leading signature, only a trailing one. detectTail special-cases it
// rather than forcing a prefix-only model to cover every format.
var udifTrailerMagic = []byte{'k', 'o', 'l', 'y'}

// detectPrefix matches every signature bank entry against a prefix
// (up to Config.PrefixSize bytes, or the whole stream if shorter)
// and returns every format that matched.
func detectPrefix(prefix []byte) []Format {
	var found []Format
	for _, sig := range strongSignatures {
		end := sig.Offset + int64(len(sig.Magic))
		if end > int64(len(prefix)) {
			continue
		}
		if bytes.Equal(prefix[sig.Offset:end], sig.Magic) {
			found = append(found, sig.Format)
		}
	}

	if weakSignatureOffset+2 <= len(prefix) && bytes.Equal(prefix[weakSignatureOffset:weakSignatureOffset+2], weakSignature) {
		if looksLikeFATBootSector(prefix) {
			found = append(found, FormatFat)
		} else {
			found = append(found, FormatMbr)
		}
	}

	if ext4MagicOffset+2 <= len(prefix) && binary.LittleEndian.Uint16(prefix[ext4MagicOffset:ext4MagicOffset+2]) == ext4Magic {
		found = append(found, FormatExt)
	}

	return found
}

// looksLikeFATBootSector distinguishes a FAT boot sector from a plain
// MBR when both share the 0x55AA signature at offset 510: a FAT BPB's
// bytes-per-sector field (offset 11) is one of a handful of power-of-
// two sizes and its sectors-per-cluster field (offset 13) is non-zero,
// neither of which a partition table's bytes at those offsets need
// satisfy.
func looksLikeFATBootSector(prefix []byte) bool {
	if len(prefix) < 14 {
		return false
	}
	bytesPerSector := binary.LittleEndian.Uint16(prefix[11:13])
	switch bytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return false
	}
	return prefix[13] != 0
}

// detectTail checks the trailing udifTrailerSize bytes of a stream of
// the given total size for UDIF's "koly" trailer signature.
func detectTail(tail []byte) bool {
	if len(tail) < len(udifTrailerMagic) {
		return false
	}
	return bytes.Equal(tail[:len(udifTrailerMagic)], udifTrailerMagic)
}
