package handoff

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/BaSui01/agentcoord/types"
)

// Compressor is the pluggable compression collaborator used for handoff
// payloads. Implementations must round-trip: Decompress(Compress(b)) == b.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// GzipCompressor compresses handoff payloads with gzip.
type GzipCompressor struct {
	level int
}

// NewGzipCompressor creates a gzip compressor. Levels outside the valid
// range fall back to the default compression level.
func NewGzipCompressor(level int) *GzipCompressor {
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return &GzipCompressor{level: level}
}

// Compress gzips the payload.
func (c *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "gzip writer init failed").WithCause(err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, types.NewError(types.ErrInternal, "gzip compression failed").WithCause(err)
	}
	if err := w.Close(); err != nil {
		return nil, types.NewError(types.ErrInternal, "gzip compression failed").WithCause(err)
	}
	return buf.Bytes(), nil
}

// Decompress gunzips the payload.
func (c *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "gzip decompression failed").WithCause(err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "gzip decompression failed").WithCause(err)
	}
	return out, nil
}
