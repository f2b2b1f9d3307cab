package cache

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DataURI renders the payload the way browsers embed images: data:{type};base64,{bytes}.
func (t StoredTile) DataURI() string {
	return "data:" + t.ContentType + ";base64," + base64.StdEncoding.EncodeToString(t.Data)
}

// ParseDataURI decodes a base64 data URI produced by DataURI.
func ParseDataURI(uri string) (StoredTile, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return StoredTile{}, fmt.Errorf("not a data URI")
	}

	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return StoredTile{}, fmt.Errorf("data URI has no payload")
	}

	contentType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return StoredTile{}, fmt.Errorf("data URI is not base64 encoded")
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return StoredTile{}, fmt.Errorf("failed to decode data URI: %w", err)
	}

	return StoredTile{ContentType: contentType, Data: data}, nil
}
