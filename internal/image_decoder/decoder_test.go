package image_decoder

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, format string) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})

	var buf bytes.Buffer
	switch format {
	case "png":
		require.NoError(t, png.Encode(&buf, img))
	case "jpeg":
		require.NoError(t, jpeg.Encode(&buf, img, nil))
	}
	return buf.Bytes()
}

func TestStd_Decode(t *testing.T) {
	ct, err := Std{}.Decode(encode(t, "png"))
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)

	ct, err = Std{}.Decode(encode(t, "jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", ct)
}

func TestStd_DecodeRejectsGarbage(t *testing.T) {
	for _, payload := range [][]byte{nil, []byte("<html>rate limited</html>"), {0x89, 'P', 'N', 'G'}} {
		_, err := Std{}.Decode(payload)
		require.Error(t, err)
		assert.True(t, IsDecodeError(err))
	}
}

func TestSniffType(t *testing.T) {
	assert.Equal(t, "image/png", SniffType(encode(t, "png")))
	assert.Equal(t, "image/jpeg", SniffType(encode(t, "jpeg")))
}
