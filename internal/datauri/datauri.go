// Package datauri converts raw document bytes to and from the self-describing
// "data:<mime>;base64,<data>" form the verification oracle consumes.
package datauri

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	scheme       = "data:"
	base64Suffix = ";base64"
)

// ErrMalformed reports a string that is not a base64 data URI.
var ErrMalformed = errors.New("malformed data uri")

// ReadError reports that the underlying file could not be read.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read document: %v", e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Document is a decoded data URI.
type Document struct {
	MediaType string
	Data      []byte
}

// Encode reads r to the end and returns its data URI. Size and type are not
// re-validated here.
func Encode(mediaType string, r io.Reader) (string, error) {
	if r == nil {
		return "", &ReadError{Err: errors.New("nil reader")}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", &ReadError{Err: err}
	}
	return EncodeBytes(mediaType, data), nil
}

// EncodeBytes returns the data URI for data.
func EncodeBytes(mediaType string, data []byte) string {
	mediaType = strings.TrimSpace(mediaType)
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	var b strings.Builder
	b.Grow(len(scheme) + len(mediaType) + len(base64Suffix) + 1 + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString(scheme)
	b.WriteString(mediaType)
	b.WriteString(base64Suffix)
	b.WriteByte(',')
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}

// Decode parses a base64 data URI, preserving media type parameters.
func Decode(uri string) (Document, error) {
	if !strings.HasPrefix(uri, scheme) {
		return Document{}, ErrMalformed
	}
	header, payload, ok := strings.Cut(uri[len(scheme):], ",")
	if !ok {
		return Document{}, ErrMalformed
	}
	mediaType, isBase64 := strings.CutSuffix(header, base64Suffix)
	if !isBase64 || mediaType == "" {
		return Document{}, ErrMalformed
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Document{MediaType: mediaType, Data: data}, nil
}

// MediaType returns the media type embedded in uri without decoding the payload.
func MediaType(uri string) (string, error) {
	if !strings.HasPrefix(uri, scheme) {
		return "", ErrMalformed
	}
	header, _, ok := strings.Cut(uri[len(scheme):], ",")
	if !ok {
		return "", ErrMalformed
	}
	mediaType, isBase64 := strings.CutSuffix(header, base64Suffix)
	if !isBase64 || mediaType == "" {
		return "", ErrMalformed
	}
	return mediaType, nil
}
