// Package textcodec implements the character-encoding decode/encode
// matrix spec.md §6 requires: ASCII, the ISO 8859 family (excluding the
// never-finalized -11/-12), KOI8-R/U, eight legacy Mac OS code pages,
// UTF-8, and the Windows code pages used by on-disk metadata (FAT short
// names, NTFS pre-Unicode fields, EWF/E01 case-data strings).
//
// Every code page with an existing golang.org/x/text/encoding
// implementation is backed by it directly — this is the corpus's own
// text-encoding dependency (see rclone's go.mod and backend/local's use
// of golang.org/x/text/unicode/norm). The seven legacy Mac OS variants
// other than MacintoshCyrillic (Arabic, Celtic, CentralEuRoman,
// Croatian, Dingbats, Farsi, Gaelic) have no implementation anywhere in
// golang.org/x/text or the rest of the retrieval corpus; Decode/Encode
// for those report kerr.ErrUnsupportedFeature rather than guessing at a
// mapping table (see DESIGN.md).
package textcodec

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"

	"github.com/keramics/keramics/internal/kerr"
)

// CodePage identifies one of the 37 code pages spec.md §6 names.
type CodePage int

const (
	ASCII CodePage = iota
	ISO8859_1
	ISO8859_2
	ISO8859_3
	ISO8859_4
	ISO8859_5
	ISO8859_6
	ISO8859_7
	ISO8859_8
	ISO8859_9
	ISO8859_10
	ISO8859_13
	ISO8859_14
	ISO8859_15
	ISO8859_16
	KOI8R
	KOI8U
	MacArabic
	MacCeltic
	MacCentralEuRoman
	MacCroatian
	MacCyrillic
	MacDingbats
	MacFarsi
	MacGaelic
	UTF8
	Windows874
	Windows932
	Windows1250
	Windows1251
	Windows1252
	Windows1253
	Windows1254
	Windows1255
	Windows1256
	Windows1257
	Windows1258
)

var byCharmap = map[CodePage]encoding.Encoding{
	ISO8859_1:   charmap.ISO8859_1,
	ISO8859_2:   charmap.ISO8859_2,
	ISO8859_3:   charmap.ISO8859_3,
	ISO8859_4:   charmap.ISO8859_4,
	ISO8859_5:   charmap.ISO8859_5,
	ISO8859_6:   charmap.ISO8859_6,
	ISO8859_7:   charmap.ISO8859_7,
	ISO8859_8:   charmap.ISO8859_8,
	ISO8859_9:   charmap.ISO8859_9,
	ISO8859_10:  charmap.ISO8859_10,
	ISO8859_13:  charmap.ISO8859_13,
	ISO8859_14:  charmap.ISO8859_14,
	ISO8859_15:  charmap.ISO8859_15,
	ISO8859_16:  charmap.ISO8859_16,
	KOI8R:       charmap.KOI8R,
	KOI8U:       charmap.KOI8U,
	MacCyrillic: charmap.MacintoshCyrillic,
	Windows874:  charmap.Windows874,
	Windows1250: charmap.Windows1250,
	Windows1251: charmap.Windows1251,
	Windows1252: charmap.Windows1252,
	Windows1253: charmap.Windows1253,
	Windows1254: charmap.Windows1254,
	Windows1255: charmap.Windows1255,
	Windows1256: charmap.Windows1256,
	Windows1257: charmap.Windows1257,
	Windows1258: charmap.Windows1258,
	Windows932:  japanese.ShiftJIS,
}

var unsupportedMac = map[CodePage]bool{
	MacArabic:         true,
	MacCeltic:         true,
	MacCentralEuRoman: true,
	MacCroatian:       true,
	MacDingbats:       true,
	MacFarsi:          true,
	MacGaelic:         true,
}

// Decode converts page-encoded bytes to a UTF-8 string.
func Decode(page CodePage, data []byte) (string, error) {
	switch page {
	case ASCII, UTF8:
		return string(data), nil
	}
	if unsupportedMac[page] {
		return "", kerr.Frame(kerr.ErrUnsupportedFeature, "text codec: code page %d has no available decoder", page)
	}
	enc, ok := byCharmap[page]
	if !ok {
		return "", kerr.Frame(kerr.ErrUnsupportedFeature, "text codec: unknown code page %d", page)
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", kerr.Frame(kerr.ErrInvalidMetadata, "text codec: decode: %v", err)
	}
	return string(out), nil
}

// Encode converts a UTF-8 string to page-encoded bytes.
func Encode(page CodePage, s string) ([]byte, error) {
	switch page {
	case ASCII, UTF8:
		return []byte(s), nil
	}
	if unsupportedMac[page] {
		return nil, kerr.Frame(kerr.ErrUnsupportedFeature, "text codec: code page %d has no available encoder", page)
	}
	enc, ok := byCharmap[page]
	if !ok {
		return nil, kerr.Frame(kerr.ErrUnsupportedFeature, "text codec: unknown code page %d", page)
	}
	out, err := enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "text codec: encode: %v", err)
	}
	return out, nil
}

// DecodeUTF16LE decodes a UCS-2/UTF-16LE byte slice, as used by NTFS
// path components and FAT VFAT long-name fragments.
func DecodeUTF16LE(data []byte) (string, error) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", kerr.Frame(kerr.ErrInvalidMetadata, "utf16le decode: %v", err)
	}
	return string(out), nil
}

// EncodeUTF16LE is the inverse of DecodeUTF16LE.
func EncodeUTF16LE(s string) ([]byte, error) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	out, err := enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, kerr.Frame(kerr.ErrInvalidMetadata, "utf16le encode: %v", err)
	}
	return out, nil
}
