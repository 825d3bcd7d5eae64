// Package base64 decodes/encodes the RFC 4648 alphabet used to embed
// UDIF "mish" block tables inside a DMG's resource-fork plist
// (spec.md §4.3.4). Padding is optional on decode, matching the
// corpus's UDIF fixtures which are not always padded to a multiple of
// 4 characters.
//
// This wraps the standard library's encoding/base64: RFC 4648 is a
// fixed, unambiguous alphabet with no meaningful "more idiomatic
// ecosystem" alternative in the corpus, so no third-party codec is
// substituted here (see DESIGN.md).
package base64

import "encoding/base64"

// Decode accepts both padded and unpadded standard-alphabet input.
func Decode(s string) ([]byte, error) {
	if enc, err := base64.StdEncoding.DecodeString(s); err == nil {
		return enc, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// Encode produces padded standard-alphabet output.
func Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
