package vips_decoder

import (
	"fmt"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"offlinetiles/internal/image_decoder"
)

var supportedTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// Decoder validates tile payloads with libvips. vips.Startup must have run.
type Decoder struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Decoder {
	return &Decoder{logger: logger}
}

func (d *Decoder) Decode(data []byte) (string, error) {
	contentType := image_decoder.SniffType(data)
	if !supportedTypes[contentType] {
		return "", image_decoder.DecodeError(fmt.Errorf("unsupported image format: %s", contentType))
	}

	image, err := vips.NewImageFromBuffer(data, nil)
	if err != nil {
		return "", image_decoder.DecodeError(fmt.Errorf("failed to load image: %w", err))
	}
	defer image.Close()

	width := image.Width()
	height := image.Height()
	if width <= 0 || height <= 0 {
		return "", image_decoder.DecodeError(fmt.Errorf("invalid dimensions %dx%d", width, height))
	}

	d.logger.Debug("Decoded tile with vips",
		zap.String("content_type", contentType),
		zap.Int("width", width),
		zap.Int("height", height),
	)

	return contentType, nil
}
