package imageproc

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/UnendingLoop/GalleryWatermark/internal/model"
)

const dataURIPrefix = "data:"

func IsDataURI(b []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(b), []byte(dataURIPrefix))
}

// DecodeDataURI strips "data:image/<type>;base64," and returns the decoded payload
func DecodeDataURI(uri string) ([]byte, error) {
	uri = strings.TrimSpace(uri)
	if !strings.HasPrefix(uri, dataURIPrefix) {
		return nil, fmt.Errorf("%w: not a data-URI", model.ErrDecode)
	}

	meta, payload, ok := strings.Cut(uri[len(dataURIPrefix):], ",")
	if !ok {
		return nil, fmt.Errorf("%w: data-URI without payload", model.ErrDecode)
	}

	meta = strings.ToLower(meta)
	if !strings.HasPrefix(meta, "image/") {
		return nil, fmt.Errorf("%w: data-URI media type %q is not an image", model.ErrDecode, meta)
	}
	if !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("%w: only base64 data-URIs are supported", model.ErrDecode)
	}

	payload = strings.Join(strings.Fields(payload), "")
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// some clients drop the padding
		var rawErr error
		if data, rawErr = base64.RawStdEncoding.DecodeString(payload); rawErr != nil {
			return nil, fmt.Errorf("%w: corrupt base64 payload: %w", model.ErrDecode, err)
		}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty data-URI payload", model.ErrDecode)
	}

	return data, nil
}

// EncodeDataURI is the inverse of DecodeDataURI
func EncodeDataURI(contentType string, data []byte) string {
	return dataURIPrefix + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
