package picture

import (
	"encoding/base64"
	"fmt"
	"regexp"

	"github.com/hyperjump/cavstudio/internal/models"
)

var dataURIPattern = regexp.MustCompile(`^data:([-\w.]+/[-\w.+]+);base64,(.*)$`)

// ParseDataURI decodes a base64 data URI and returns its payload and mime type.
func ParseDataURI(uri string) ([]byte, string, error) {
	m := dataURIPattern.FindStringSubmatch(uri)
	if m == nil {
		return nil, "", fmt.Errorf("%w: not a base64 data URI", models.ErrInvalidInput)
	}
	data, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return nil, "", fmt.Errorf("%w: bad base64 payload: %v", models.ErrInvalidInput, err)
	}
	return data, m[1], nil
}

// SerializeDataURI is the inverse of ParseDataURI.
func SerializeDataURI(data []byte, mimeType string) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
