// Copyright (c) Kinetic Labs
// SPDX-License-Identifier: Apache-2.0

package produce

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression specifies the payload compression codec.
type Compression string

const (
	// CompressionNone disables compression.
	CompressionNone Compression = "none"

	// CompressionSnappy uses Snappy compression (good balance, recommended).
	CompressionSnappy Compression = "snappy"

	// CompressionGzip uses Gzip compression.
	CompressionGzip Compression = "gzip"

	// CompressionZstd uses Zstandard compression.
	CompressionZstd Compression = "zstd"
)

// Validate checks the Compression enum value. The empty string is treated
// as CompressionNone.
func (c Compression) Validate() error {
	switch c {
	case "", CompressionNone, CompressionSnappy, CompressionGzip, CompressionZstd:
		return nil
	default:
		return fmt.Errorf("unsupported compression codec %q", c)
	}
}

// compressor compresses copied payloads before they are enqueued. It only
// applies to copy-mode messages: the private copy is the one buffer the
// producer owns outright and may transform.
type compressor struct {
	codec  Compression
	zenc   *zstd.Encoder
	gzPool sync.Pool
}

func newCompressor(codec Compression) (*compressor, error) {
	c := &compressor{codec: codec}
	if codec == CompressionZstd {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		c.zenc = enc
	}
	return c, nil
}

// compress returns the compressed form of data in a freshly allocated
// slice, or data itself for CompressionNone.
func (c *compressor) compress(data []byte) ([]byte, error) {
	switch c.codec {
	case CompressionSnappy:
		return snappy.Encode(nil, data), nil
	case CompressionGzip:
		return c.gzipCompress(data)
	case CompressionZstd:
		return c.zenc.EncodeAll(data, nil), nil
	default:
		return data, nil
	}
}

func (c *compressor) gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, _ := c.gzPool.Get().(*gzip.Writer)
	if w == nil {
		w = gzip.NewWriter(&buf)
	} else {
		w.Reset(&buf)
	}
	defer c.gzPool.Put(w)

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close failed: %w", err)
	}
	return buf.Bytes(), nil
}
