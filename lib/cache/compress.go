// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the codec applied to an archive payload.
// The value is stored in the archive header, so existing constants
// must never be renumbered.
type Compression uint8

const (
	// CompressionNone stores the payload verbatim.
	CompressionNone Compression = 0
	// CompressionLZ4 is the fast block codec for mildly redundant data.
	CompressionLZ4 Compression = 1
	// CompressionZstd trades CPU for ratio on highly redundant data.
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Shared zstd coders. Both are stateless in the EncodeAll/DecodeAll
// mode and safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("cache: zstd encoder: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("cache: zstd decoder: " + err.Error())
	}
}

// errIncompressible reports that the codec could not shrink the
// payload. Callers fall back to storing it verbatim.
var errIncompressible = errors.New("payload does not compress")

// compress encodes payload with the requested codec. Returns
// errIncompressible when the encoded form would not be smaller.
func compress(payload []byte, codec Compression) ([]byte, error) {
	switch codec {
	case CompressionNone:
		return payload, nil
	case CompressionLZ4:
		buffer := make([]byte, lz4.CompressBlockBound(len(payload)))
		var compressor lz4.Compressor
		n, err := compressor.CompressBlock(payload, buffer)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(payload) {
			return nil, errIncompressible
		}
		return buffer[:n], nil
	case CompressionZstd:
		encoded := zstdEncoder.EncodeAll(payload, nil)
		if len(encoded) >= len(payload) {
			return nil, errIncompressible
		}
		return encoded, nil
	default:
		return nil, fmt.Errorf("unknown compression %d", codec)
	}
}

// decompress decodes payload with the codec recorded in the archive
// header. uncompressedSize comes from the header as well and bounds
// the allocation; a mismatch means the archive is corrupt.
func decompress(payload []byte, codec Compression, uncompressedSize int) ([]byte, error) {
	switch codec {
	case CompressionNone:
		return payload, nil
	case CompressionLZ4:
		buffer := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(payload, buffer)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != uncompressedSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, header says %d", n, uncompressedSize)
		}
		return buffer, nil
	case CompressionZstd:
		decoded, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(decoded) != uncompressedSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, header says %d", len(decoded), uncompressedSize)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("unknown compression %d", codec)
	}
}

// selectSampleSize bounds the probe used to pick a codec. Archives
// are dominated by their first entries (dependency trees repeat), so
// a prefix sample predicts the whole.
const selectSampleSize = 128 << 10

// selectCompression picks a codec by test-compressing a prefix of
// the payload with zstd. Highly redundant data earns zstd, mildly
// redundant data the cheaper lz4, and everything else is stored raw.
func selectCompression(payload []byte) Compression {
	if len(payload) < 4096 {
		return CompressionNone
	}
	sample := payload
	if len(sample) > selectSampleSize {
		sample = sample[:selectSampleSize]
	}
	encoded := zstdEncoder.EncodeAll(sample, nil)
	if len(encoded) == 0 {
		return CompressionNone
	}
	ratio := float64(len(sample)) / float64(len(encoded))
	switch {
	case ratio >= 1.5:
		return CompressionZstd
	case ratio >= 1.1:
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// compressAuto selects a codec for payload and applies it, falling
// back to verbatim storage when the codec cannot shrink the data.
func compressAuto(payload []byte) ([]byte, Compression, error) {
	codec := selectCompression(payload)
	if codec == CompressionNone {
		return payload, CompressionNone, nil
	}
	encoded, err := compress(payload, codec)
	if errors.Is(err, errIncompressible) {
		return payload, CompressionNone, nil
	}
	if err != nil {
		return nil, CompressionNone, err
	}
	return encoded, codec, nil
}
