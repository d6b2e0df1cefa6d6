package postgres

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic starts every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// DefaultCompressThreshold is the size above which blobs are compressed.
const DefaultCompressThreshold = 4 * 1024

// Codec compresses large blobs (contingency payloads, raw provider answers)
// before they are stored. Stored values are self-describing: Decode passes
// anything without the zstd magic through unchanged.
type Codec struct {
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	threshold int
}

// NewCodec creates a codec. threshold <= 0 uses DefaultCompressThreshold.
func NewCodec(threshold int) (*Codec, error) {
	if threshold <= 0 {
		threshold = DefaultCompressThreshold
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{encoder: enc, decoder: dec, threshold: threshold}, nil
}

// Encode compresses b when it is larger than the threshold.
func (c *Codec) Encode(b []byte) []byte {
	if len(b) <= c.threshold {
		return b
	}
	return c.encoder.EncodeAll(b, make([]byte, 0, len(b)/4))
}

// Decode reverses Encode.
func (c *Codec) Decode(b []byte) ([]byte, error) {
	if !bytes.HasPrefix(b, zstdMagic) {
		return b, nil
	}
	out, err := c.decoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress blob: %w", err)
	}
	return out, nil
}
