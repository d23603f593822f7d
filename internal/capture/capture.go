// Package capture acquires single frames from a camera-like source. A stream
// holds the device; Take guarantees it is released.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrClosed is returned by Frame after Close.
var ErrClosed = errors.New("capture stream closed")

// DefaultMaxBytes matches the submission size limit.
const DefaultMaxBytes = 5 << 20

// Frame is one captured image.
type Frame struct {
	MediaType string
	Data      []byte
	At        time.Time
}

// FileName names the frame for a submission.
func (f Frame) FileName() string {
	ext := ".jpg"
	switch f.MediaType {
	case "image/png":
		ext = ".png"
	case "image/webp":
		ext = ".webp"
	}
	return "capture-" + f.At.UTC().Format("20060102-150405") + ext
}

// Stream is an acquired source. Close must be called exactly once.
type Stream interface {
	Frame(ctx context.Context) (Frame, error)
	Close() error
}

// Source acquires streams.
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// Take opens src, grabs one frame and closes the stream on every path.
func Take(ctx context.Context, src Source) (frame Frame, err error) {
	stream, err := src.Open(ctx)
	if err != nil {
		return Frame{}, fmt.Errorf("open capture source: %w", err)
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close capture stream: %w", cerr)
		}
	}()
	return stream.Frame(ctx)
}

// HTTPSnapshotSource reads frames from an IP camera snapshot endpoint that
// returns one image per GET.
type HTTPSnapshotSource struct {
	URL      string
	Client   *http.Client
	MaxBytes int64
}

func (s HTTPSnapshotSource) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.URL) == "" {
		return nil, errors.New("snapshot url is required")
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	limit := s.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	return &httpStream{url: s.URL, client: client, max: limit}, nil
}

type httpStream struct {
	url    string
	client *http.Client
	max    int64

	mu     sync.Mutex
	closed bool
}

func (s *httpStream) Frame(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return Frame{}, ErrClosed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Frame{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("snapshot request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Frame{}, fmt.Errorf("snapshot http status %d", resp.StatusCode)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.max+1))
	if err != nil {
		return Frame{}, fmt.Errorf("read snapshot: %w", err)
	}
	if int64(len(data)) > s.max {
		return Frame{}, fmt.Errorf("snapshot exceeds %d bytes", s.max)
	}
	if len(data) == 0 {
		return Frame{}, errors.New("empty snapshot")
	}
	if !strings.HasPrefix(mediaType, "image/") {
		mediaType = http.DetectContentType(data)
		if !strings.HasPrefix(mediaType, "image/") {
			return Frame{}, fmt.Errorf("snapshot is not an image: %s", mediaType)
		}
	}
	return Frame{MediaType: mediaType, Data: data, At: time.Now()}, nil
}

func (s *httpStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.client.CloseIdleConnections()
	return nil
}
