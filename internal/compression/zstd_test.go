package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressor(t *testing.T) {
	c, err := NewCompressor(2, true)
	require.NoError(t, err)
	defer c.Close()

	t.Run("compressible", func(t *testing.T) {
		data := bytes.Repeat([]byte(`{"architecture":"amd64"}`), 64)

		framed := c.Compress(data)
		assert.Equal(t, frameZstd, framed[0])
		assert.Less(t, len(framed), len(data))

		out, err := c.Decompress(framed)
		require.NoError(t, err)
		assert.Equal(t, data, out)
	})

	t.Run("small input stays raw", func(t *testing.T) {
		framed := c.Compress([]byte("tiny"))
		assert.Equal(t, frameRaw, framed[0])

		out, err := c.Decompress(framed)
		require.NoError(t, err)
		assert.Equal(t, []byte("tiny"), out)
	})

	t.Run("corrupt", func(t *testing.T) {
		_, err := c.Decompress(nil)
		assert.ErrorIs(t, err, ErrCorrupt)

		_, err = c.Decompress([]byte{frameZstd, 1, 2, 3})
		assert.ErrorIs(t, err, ErrCorrupt)

		_, err = c.Decompress([]byte{7})
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestDisabledCompressorReadsCompressedFrames(t *testing.T) {
	on, err := NewCompressor(3, true)
	require.NoError(t, err)
	defer on.Close()

	off, err := NewCompressor(0, false)
	require.NoError(t, err)
	defer off.Close()

	data := bytes.Repeat([]byte("layer"), 100)
	framed := on.Compress(data)
	assert.Equal(t, frameZstd, framed[0])

	out, err := off.Decompress(framed)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	assert.Equal(t, frameRaw, off.Compress(data)[0])
}
