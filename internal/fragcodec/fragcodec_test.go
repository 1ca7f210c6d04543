package fragcodec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/vlog/internal/fragcodec"
	"github.com/wuxler/vlog/internal/manifest"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	records := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	enc, err := fragcodec.Encode(records, manifest.FirstPosition, fragcodec.Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, enc.NumRecords)

	dec, err := fragcodec.Decode(enc.Bytes)
	require.NoError(t, err)
	assert.Equal(t, records, dec.Records)
	assert.Equal(t, manifest.FirstPosition, dec.Start)
	assert.Equal(t, enc.Setsum, dec.Setsum)
}

func TestEncodeDecodeRoundTripGzip(t *testing.T) {
	records := [][]byte{[]byte("aaaaaaaaaaaaaaaaaaaa"), []byte("bbbbbbbbbbbbbbbbbbbb")}
	enc, err := fragcodec.Encode(records, manifest.FirstPosition.Add(10), fragcodec.Options{Compression: fragcodec.CompressionGzip})
	require.NoError(t, err)

	dec, err := fragcodec.Decode(enc.Bytes)
	require.NoError(t, err)
	assert.Equal(t, records, dec.Records)
	assert.Equal(t, manifest.FirstPosition.Add(10), dec.Start)
}

func TestDecodeDetectsCorruption(t *testing.T) {
	records := [][]byte{[]byte("one"), []byte("two")}
	enc, err := fragcodec.Encode(records, manifest.FirstPosition, fragcodec.Options{})
	require.NoError(t, err)

	corrupted := append([]byte(nil), enc.Bytes...)
	corrupted[len(corrupted)-1] ^= 0xFF

	_, err = fragcodec.Decode(corrupted)
	assert.Error(t, err)
}

func TestDecodeRejectsTruncatedBlob(t *testing.T) {
	records := [][]byte{[]byte("one")}
	enc, err := fragcodec.Encode(records, manifest.FirstPosition, fragcodec.Options{})
	require.NoError(t, err)

	_, err = fragcodec.Decode(enc.Bytes[:len(enc.Bytes)-5])
	assert.Error(t, err)
}

func TestEncodeRejectsEmptyBatch(t *testing.T) {
	_, err := fragcodec.Encode(nil, manifest.FirstPosition, fragcodec.Options{})
	assert.Error(t, err)
}
