// Package compression frames cached blobs, zstd-compressing them when it pays off.
package compression

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	frameRaw  byte = 0
	frameZstd byte = 1

	minCompressSize = 128
)

var ErrCorrupt = errors.New("compression: corrupt frame")

// Level maps to zstd encoder levels: 1 fastest, 2 default, 3 better compression.
type Level int

type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	enabled bool
}

func NewCompressor(level Level, enabled bool) (*Compressor, error) {
	c := &Compressor{enabled: enabled}

	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	c.decoder = decoder

	if !enabled {
		return c, nil
	}

	encoderLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encoderLevel = zstd.SpeedFastest
	case 3:
		encoderLevel = zstd.SpeedBetterCompression
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(encoderLevel),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		decoder.Close()
		return nil, err
	}
	c.encoder = encoder

	return c, nil
}

// Compress returns a framed copy of data. Small or incompressible input is stored raw.
func (c *Compressor) Compress(data []byte) []byte {
	if c.enabled && len(data) >= minCompressSize {
		out := c.encoder.EncodeAll(data, append(make([]byte, 0, len(data)+1), frameZstd))
		if len(out) < len(data)+1 {
			return out
		}
	}

	out := make([]byte, 0, len(data)+1)
	out = append(out, frameRaw)
	return append(out, data...)
}

// Decompress reverses Compress. Frames written with compression enabled are
// readable by a disabled Compressor too.
func (c *Compressor) Decompress(framed []byte) ([]byte, error) {
	if len(framed) == 0 {
		return nil, ErrCorrupt
	}

	switch framed[0] {
	case frameRaw:
		return append([]byte(nil), framed[1:]...), nil
	case frameZstd:
		data, err := c.decoder.DecodeAll(framed[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: unknown frame type %d", ErrCorrupt, framed[0])
	}
}

func (c *Compressor) Close() error {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
	return nil
}
