package codec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType defines the compression algorithm applied to broker blobs
type CompressionType string

const (
	CompressionNone   CompressionType = "none"
	CompressionZstd   CompressionType = "zstd"
	CompressionLZ4    CompressionType = "lz4"
	CompressionGzip   CompressionType = "gzip"
	CompressionBrotli CompressionType = "brotli"
)

// one-byte frame tags so a reader can decompress without side channel state
const (
	tagNone   byte = 0
	tagZstd   byte = 1
	tagLZ4    byte = 2
	tagGzip   byte = 3
	tagBrotli byte = 4
)

// Compressor frames broker blobs with an algorithm tag and compresses
// payloads above a size threshold. Blobs below the threshold are framed
// uncompressed; small blobs typically grow under compression.
type Compressor struct {
	ctype     CompressionType
	threshold int
	zenc      *zstd.Encoder
	zdec      *zstd.Decoder
}

// NewCompressor creates a compressor. thresholdBytes <= 0 compresses everything.
func NewCompressor(ctype CompressionType, thresholdBytes int) (*Compressor, error) {
	c := &Compressor{ctype: ctype, threshold: thresholdBytes}
	switch ctype {
	case CompressionNone, CompressionLZ4, CompressionGzip, CompressionBrotli:
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("zstd encoder init failed: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decoder init failed: %w", err)
		}
		c.zenc = enc
		c.zdec = dec
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", ctype)
	}
	return c, nil
}

// Compress frames and optionally compresses a blob.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	if c.ctype == CompressionNone || (c.threshold > 0 && len(data) < c.threshold) {
		return frame(tagNone, data), nil
	}

	switch c.ctype {
	case CompressionZstd:
		return frame(tagZstd, c.zenc.EncodeAll(data, nil)), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compress failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 close failed: %w", err)
		}
		return frame(tagLZ4, buf.Bytes()), nil
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("gzip compress failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("gzip close failed: %w", err)
		}
		return frame(tagGzip, buf.Bytes()), nil
	case CompressionBrotli:
		var buf bytes.Buffer
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("brotli compress failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("brotli close failed: %w", err)
		}
		return frame(tagBrotli, buf.Bytes()), nil
	}
	return frame(tagNone, data), nil
}

// Decompress unframes a blob produced by any Compressor configuration.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty blob")
	}
	tag, body := data[0], data[1:]

	switch tag {
	case tagNone:
		return body, nil
	case tagZstd:
		if c.zdec == nil {
			dec, err := zstd.NewReader(nil)
			if err != nil {
				return nil, fmt.Errorf("zstd decoder init failed: %w", err)
			}
			c.zdec = dec
		}
		return c.zdec.DecodeAll(body, nil)
	case tagLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(body)))
	case tagGzip:
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip decompress failed: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case tagBrotli:
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
	default:
		return nil, fmt.Errorf("unknown compression tag: %d", tag)
	}
}

func frame(tag byte, body []byte) []byte {
	out := make([]byte, 0, len(body)+1)
	out = append(out, tag)
	return append(out, body...)
}
