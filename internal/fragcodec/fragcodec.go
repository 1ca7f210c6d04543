// Package fragcodec encodes and decodes fragment blobs: a self-describing,
// optionally compressed binary encoding of an ordered batch of opaque
// records, self-validating against its own embedded setsum trailer.
package fragcodec

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/wuxler/vlog/internal/manifest"
	"github.com/wuxler/vlog/internal/setsum"
	"github.com/wuxler/vlog/internal/werr"
	"github.com/wuxler/vlog/pkg/util/xio/compression"
	_ "github.com/wuxler/vlog/pkg/util/xio/compression/builtin" // register gzip/zstd/xz/bz2
)

// Compression selects how a fragment's record stream is compressed on
// disk. The zero value is CompressionNone.
type Compression byte

const (
	CompressionNone Compression = 0
	CompressionGzip Compression = 1
	CompressionZstd Compression = 2
	CompressionXz   Compression = 3
	CompressionBz2  Compression = 4
)

func (c Compression) formatName() (string, bool) {
	switch c {
	case CompressionGzip:
		return "gzip", true
	case CompressionZstd:
		return "zstd", true
	case CompressionXz:
		return "xz", true
	case CompressionBz2:
		return "bz2", true
	default:
		return "", false
	}
}

var magic = [4]byte{'V', 'L', '3', 0}

const (
	version    = 1
	headerSize = 4 + 1 + 1 + 2 + 8 + 4 + 4 // magic, version, compression, reserved, start, count, payload length
	trailerSize = setsum.Size
)

// Options configures Encode.
type Options struct {
	Compression Compression
}

// Encoded is the result of Encode: the wire bytes and the metadata the
// manifest needs to record about the fragment without re-decoding it.
type Encoded struct {
	Bytes      []byte
	Setsum     setsum.Setsum
	NumRecords int
}

// Encode serializes records, starting at start, into a self-describing
// fragment blob.
func Encode(records [][]byte, start manifest.LogPosition, opts Options) (Encoded, error) {
	if len(records) == 0 {
		return Encoded{}, fmt.Errorf("fragcodec: cannot encode an empty fragment")
	}

	var payload bytes.Buffer
	for _, record := range records {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(record)))
		payload.Write(lenBuf[:])
		payload.Write(record)
	}

	checksum := setsum.FromItems(records)

	payloadBytes := payload.Bytes()
	if name, ok := opts.Compression.formatName(); ok {
		format, err := compression.GetFormat(name)
		if err != nil {
			return Encoded{}, fmt.Errorf("fragcodec: %w", err)
		}
		var compressed bytes.Buffer
		wc, err := format.Compress(&compressed)
		if err != nil {
			return Encoded{}, fmt.Errorf("fragcodec: compressing with %s: %w", name, err)
		}
		if _, err := wc.Write(payloadBytes); err != nil {
			return Encoded{}, fmt.Errorf("fragcodec: compressing with %s: %w", name, err)
		}
		if err := wc.Close(); err != nil {
			return Encoded{}, fmt.Errorf("fragcodec: compressing with %s: %w", name, err)
		}
		payloadBytes = compressed.Bytes()
	}

	if len(payloadBytes) > 1<<32-1 {
		return Encoded{}, fmt.Errorf("fragcodec: payload of %d bytes exceeds the 32-bit length prefix", len(payloadBytes))
	}

	var out bytes.Buffer
	out.Grow(headerSize + len(payloadBytes) + trailerSize)
	out.Write(magic[:])
	out.WriteByte(version)
	out.WriteByte(byte(opts.Compression))
	out.Write([]byte{0, 0}) // reserved

	var startBuf [8]byte
	binary.BigEndian.PutUint64(startBuf[:], start.Offset())
	out.Write(startBuf[:])

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(records)))
	out.Write(countBuf[:])

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payloadBytes)))
	out.Write(lenBuf[:])

	out.Write(payloadBytes)
	out.Write(checksum.Bytes())

	return Encoded{Bytes: out.Bytes(), Setsum: checksum, NumRecords: len(records)}, nil
}

// Decoded is the result of a successfully decoded fragment blob.
type Decoded struct {
	Records [][]byte
	Start   manifest.LogPosition
	Setsum  setsum.Setsum
}

// Decode parses a fragment blob previously produced by Encode, verifying
// its self-described length and setsum. Any structural or checksum
// mismatch is reported as werr.ErrCorruptFragment.
func Decode(data []byte) (Decoded, error) {
	if len(data) < headerSize+trailerSize {
		return Decoded{}, werr.Wrapf(werr.ErrCorruptFragment, "fragcodec: blob of %d bytes is shorter than the minimum header+trailer size", len(data))
	}
	if !bytes.Equal(data[0:4], magic[:]) {
		return Decoded{}, werr.Wrapf(werr.ErrCorruptFragment, "fragcodec: bad magic")
	}
	if data[4] != version {
		return Decoded{}, werr.Wrapf(werr.ErrCorruptFragment, "fragcodec: unsupported version %d", data[4])
	}
	compressionByte := Compression(data[5])

	start := manifest.LogPosition(binary.BigEndian.Uint64(data[8:16]))
	numRecords := binary.BigEndian.Uint32(data[16:20])
	payloadLen := binary.BigEndian.Uint32(data[20:24])

	payloadStart := headerSize
	payloadEnd := payloadStart + int(payloadLen)
	if payloadEnd+trailerSize != len(data) {
		return Decoded{}, werr.Wrapf(werr.ErrCorruptFragment,
			"fragcodec: declared payload length %d inconsistent with blob length %d", payloadLen, len(data))
	}

	payload := data[payloadStart:payloadEnd]
	if name, ok := compressionByte.formatName(); ok {
		format, err := compression.GetFormat(name)
		if err != nil {
			return Decoded{}, werr.Wrap(werr.ErrCorruptFragment, err)
		}
		rc, err := format.Uncompress(bytes.NewReader(payload))
		if err != nil {
			return Decoded{}, werr.Wrapf(werr.ErrCorruptFragment, "fragcodec: decompressing with %s: %v", name, err)
		}
		decompressed, err := io.ReadAll(rc)
		closeErr := rc.Close()
		if err != nil {
			return Decoded{}, werr.Wrapf(werr.ErrCorruptFragment, "fragcodec: decompressing with %s: %v", name, err)
		}
		if closeErr != nil {
			return Decoded{}, werr.Wrap(werr.ErrCorruptFragment, closeErr)
		}
		payload = decompressed
	}

	records := make([][]byte, 0, numRecords)
	offset := 0
	for offset < len(payload) {
		if offset+4 > len(payload) {
			return Decoded{}, werr.Wrapf(werr.ErrCorruptFragment, "fragcodec: truncated record length prefix at offset %d", offset)
		}
		recLen := int(binary.BigEndian.Uint32(payload[offset : offset+4]))
		offset += 4
		if offset+recLen > len(payload) {
			return Decoded{}, werr.Wrapf(werr.ErrCorruptFragment, "fragcodec: truncated record body at offset %d", offset)
		}
		record := make([]byte, recLen)
		copy(record, payload[offset:offset+recLen])
		records = append(records, record)
		offset += recLen
	}
	if uint32(len(records)) != numRecords {
		return Decoded{}, werr.Wrapf(werr.ErrCorruptFragment,
			"fragcodec: declared record count %d does not match %d decoded records", numRecords, len(records))
	}

	trailer := data[payloadEnd : payloadEnd+trailerSize]
	want, err := setsum.Parse(hex.EncodeToString(trailer))
	if err != nil {
		return Decoded{}, werr.Wrap(werr.ErrCorruptFragment, err)
	}
	got := setsum.FromItems(records)
	if got != want {
		return Decoded{}, werr.Wrapf(werr.ErrCorruptFragment, "fragcodec: setsum mismatch: embedded %s, recomputed %s", want, got)
	}

	return Decoded{Records: records, Start: start, Setsum: got}, nil
}
