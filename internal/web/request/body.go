// Package request reads JSON:API request bodies.
package request

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/conduit-lang/jsonapi-server/internal/apierr"
)

// DefaultMaxBodySize is the largest request document accepted by default
const DefaultMaxBodySize = 1 << 20

// BodyReader reads request bodies up to a size limit
type BodyReader struct {
	maxBodySize int64
}

// NewBodyReader creates a reader with the default size limit
func NewBodyReader() *BodyReader {
	return &BodyReader{maxBodySize: DefaultMaxBodySize}
}

// NewBodyReaderWithMaxSize creates a reader with a custom size limit
func NewBodyReaderWithMaxSize(maxBytes int64) *BodyReader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodySize
	}
	return &BodyReader{maxBodySize: maxBytes}
}

// MaxBodySize returns the size limit in bytes
func (b *BodyReader) MaxBodySize() int64 {
	return b.maxBodySize
}

// Read returns the full request body. An empty or oversized body is an invalid document.
func (b *BodyReader) Read(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, apierr.InvalidDocument("", "request body is empty")
	}

	body := http.MaxBytesReader(w, r.Body, b.maxBodySize)
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apierr.InvalidDocument("", "request body exceeds %d bytes", b.maxBodySize)
		}
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(data) == 0 {
		return nil, apierr.InvalidDocument("", "request body is empty")
	}
	return data, nil
}
