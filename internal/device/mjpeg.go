package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"sync"

	"github.com/go-resty/resty/v2"

	"github.com/stashwatch/stashwatch/internal/mjpeg"
)

// MJPEGSource reads a network camera that serves motion JPEG over HTTP.
type MJPEGSource struct {
	URL    string
	client *resty.Client
}

func NewMJPEGSource(url string) *MJPEGSource {
	return &MJPEGSource{URL: url, client: resty.New()}
}

func (s *MJPEGSource) Name() string { return "mjpeg" }

func (s *MJPEGSource) Open(ctx context.Context, _ Constraints) (Track, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(s.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, s.URL, err)
	}
	body := resp.RawBody()
	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		body.Close()
		return nil, fmt.Errorf("%w: %s answered %d", ErrPermissionDenied, s.URL, code)
	case code >= 300:
		body.Close()
		return nil, fmt.Errorf("%w: %s answered %d", ErrDeviceUnavailable, s.URL, code)
	}
	return &mjpegTrack{
		body:   body,
		reader: mjpeg.NewReader(body, resp.Header().Get("Content-Type")),
	}, nil
}

type mjpegTrack struct {
	body   io.ReadCloser
	reader *mjpeg.Reader
	once   sync.Once
}

func (t *mjpegTrack) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := t.reader.Next()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %v", ErrStreamEnded, err)
		}
		if errors.Is(err, mjpeg.ErrFrameTooLarge) {
			return nil, err
		}
		// read errors on a closed body mean the connection is gone
		return nil, fmt.Errorf("%w: %v", ErrStreamEnded, err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode mjpeg frame: %w", err)
	}
	return img, nil
}

func (t *mjpegTrack) Close() error {
	var err error
	t.once.Do(func() { err = t.body.Close() })
	return err
}
