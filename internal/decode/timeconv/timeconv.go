// Package timeconv converts the on-disk time encodings used across the
// file-system and image readers into a single Go-native representation
// (time.Time, UTC), per SPEC_FULL.md §4.11: POSIX seconds (ext2/3, FAT),
// FILETIME (NTFS, VHDX parent-locator timestamps), and ext4's extended
// 34-bit nanosecond inode timestamps.
package timeconv

import "time"

// filetimeEpoch is 1601-01-01T00:00:00Z, the FILETIME zero point.
var filetimeEpoch = time.Date(1601, 1, 1, 0, 0, 0, 0, time.UTC)

// FromFILETIME converts a Windows FILETIME (100ns intervals since
// 1601-01-01) to a UTC time.Time.
func FromFILETIME(ft uint64) time.Time {
	secs := int64(ft / 10000000)
	rem := int64(ft % 10000000)
	return time.Unix(filetimeEpoch.Unix()+secs, rem*100).UTC()
}

// ToFILETIME is the inverse of FromFILETIME.
func ToFILETIME(t time.Time) uint64 {
	return uint64(t.Unix()-filetimeEpoch.Unix())*10000000 + uint64(t.Nanosecond()/100)
}

// FromPOSIX converts a 32-bit POSIX seconds-since-epoch value (ext2/3
// inode timestamps, FAT directory-entry date/time pairs once decoded to
// seconds) to a UTC time.Time.
func FromPOSIX(seconds int32) time.Time {
	return time.Unix(int64(seconds), 0).UTC()
}

// FromExt4Extra decodes ext4's extended inode timestamp: a 32-bit POSIX
// seconds field plus a 32-bit "extra" field whose low 2 bits extend the
// epoch's seconds into the future (each bit worth 2^32 seconds) and
// whose remaining 30 bits are nanoseconds (spec.md §4.11).
func FromExt4Extra(seconds int32, extra uint32) time.Time {
	epochExtension := int64(extra&0x3) << 32
	nanos := int64(extra >> 2)
	sec := int64(seconds) + epochExtension
	return time.Unix(sec, nanos).UTC()
}

// FromFATDateTime decodes a FAT directory-entry date/time pair (with an
// optional 10ms-resolution creation-time increment) to a UTC time.Time.
// date: bits 15-9 year since 1980, 8-5 month, 4-0 day.
// timeOfDay: bits 15-11 hours, 10-5 minutes, 4-0 seconds/2.
func FromFATDateTime(date, timeOfDay uint16, tenMs uint8) time.Time {
	year := 1980 + int(date>>9)
	month := int((date >> 5) & 0x0F)
	day := int(date & 0x1F)
	hour := int(timeOfDay >> 11)
	minute := int((timeOfDay >> 5) & 0x3F)
	second := int((timeOfDay & 0x1F) * 2)
	nanos := int(tenMs) * 10 * int(time.Millisecond)
	if month == 0 {
		month = 1
	}
	if day == 0 {
		day = 1
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, nanos, time.UTC)
}
