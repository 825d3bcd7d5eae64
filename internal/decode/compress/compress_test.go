package compress

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInflateRawRoundTrip(t *testing.T) {
	want := bytes.Repeat([]byte("keramics-qcow-cluster"), 32)
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	require.NoError(t, err)
	_, err = w.Write(want)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, err := InflateRaw(buf.Bytes(), len(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestInflateZlibRoundTrip(t *testing.T) {
	want := []byte("udif mish block table payload")
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(want)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, err := InflateZlib(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestInflateLZFSEUnsupported(t *testing.T) {
	_, err := InflateLZFSE([]byte{0x01})
	assert.Error(t, err)
}
