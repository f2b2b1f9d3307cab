package image_decoder

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"

	"github.com/jmgilman/go/errors"
	_ "golang.org/x/image/webp"
)

// Decoder checks that fetched bytes are a raster tile and reports their MIME type.
type Decoder interface {
	Decode(data []byte) (contentType string, err error)
}

// DecodeError wraps a payload that could not be turned into a stored tile.
func DecodeError(err error) error {
	return errors.Wrap(err, errors.CodeInvalidInput, "tile payload is not a supported image")
}

// IsDecodeError reports whether err came from a Decoder.
func IsDecodeError(err error) bool {
	return errors.GetCode(err) == errors.CodeInvalidInput
}

var formatTypes = map[string]string{
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// Std decodes image headers with the standard image registry plus x/image/webp.
type Std struct{}

func (Std) Decode(data []byte) (string, error) {
	if len(data) == 0 {
		return "", DecodeError(fmt.Errorf("empty payload"))
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", DecodeError(err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", DecodeError(fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height))
	}

	contentType, ok := formatTypes[format]
	if !ok {
		return "", DecodeError(fmt.Errorf("unsupported image format: %s", format))
	}
	return contentType, nil
}

// SniffType returns the MIME type implied by the payload's magic bytes.
func SniffType(data []byte) string {
	return http.DetectContentType(data)
}
