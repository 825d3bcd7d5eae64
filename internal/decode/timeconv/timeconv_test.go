package timeconv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFILETIMERoundTrip(t *testing.T) {
	want := time.Date(2023, 5, 17, 12, 30, 0, 0, time.UTC)
	ft := ToFILETIME(want)
	got := FromFILETIME(ft)
	assert.True(t, want.Equal(got))
}

func TestFromPOSIXEpoch(t *testing.T) {
	got := FromPOSIX(0)
	assert.True(t, time.Unix(0, 0).UTC().Equal(got))
}

func TestFromExt4ExtraNanoseconds(t *testing.T) {
	got := FromExt4Extra(0, 500<<2)
	assert.Equal(t, 500, got.Nanosecond())
}

func TestFromFATDateTime(t *testing.T) {
	// 2020-06-15, 13:45:30
	date := uint16((2020-1980)<<9 | 6<<5 | 15)
	tm := uint16(13<<11 | 45<<5 | 15) // seconds field is seconds/2
	got := FromFATDateTime(date, tm, 0)
	assert.Equal(t, 2020, got.Year())
	assert.Equal(t, time.Month(6), got.Month())
	assert.Equal(t, 15, got.Day())
	assert.Equal(t, 13, got.Hour())
	assert.Equal(t, 45, got.Minute())
	assert.Equal(t, 30, got.Second())
}
