package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	PathStart         = "/api/start"
	PathProcessFrame  = "/api/process-frame"
	PathNotifications = "/api/check_notifications"
	PathStop          = "/api/stop"
	PathStatus        = "/api/status"
	PathVideoFeed     = "/api/video_feed"

	// FrameField and PhoneField are the multipart field names of process-frame.
	FrameField = "frame"
	PhoneField = "phone"
	FrameName  = "frame.jpg"
)

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, e.Body)
}

// IsClientError reports whether err is a 400-class backend response. On
// process-frame this means the backend believes monitoring already stopped.
func IsClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code >= 400 && se.Code < 500
}

// Client makes REST calls to the detection backend.
type Client struct {
	baseURL string
	http    *resty.Client
	// stream has no client timeout; the video feed is a long-lived response.
	stream *resty.Client
}

// NewClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:5000").
func NewClient(baseURL string, timeout time.Duration) *Client {
	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{
		baseURL: baseURL,
		http:    r,
		stream:  resty.New().SetBaseURL(baseURL),
	}
}

// BaseURL returns the backend root the client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// StartMonitoring sends POST /api/start with the contact phone.
func (c *Client) StartMonitoring(ctx context.Context, phone string) (*StartResponse, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(StartRequest{Phone: phone}).
		Post(PathStart)
	var out StartResponse
	if err := decode(resp, err, http.MethodPost, PathStart, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProcessFrame uploads one encoded frame with the contact phone as a
// multipart form.
func (c *Client) ProcessFrame(ctx context.Context, frame []byte, mimeType, phone string) (*ProcessFrameResponse, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetMultipartField(FrameField, FrameName, mimeType, bytes.NewReader(frame)).
		SetMultipartFormData(map[string]string{PhoneField: phone}).
		Post(PathProcessFrame)
	var out ProcessFrameResponse
	if err := decode(resp, err, http.MethodPost, PathProcessFrame, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckNotifications fetches GET /api/check_notifications.
func (c *Client) CheckNotifications(ctx context.Context) ([]Notification, error) {
	resp, err := c.http.R().SetContext(ctx).Get(PathNotifications)
	var out NotificationsResponse
	if err := decode(resp, err, http.MethodGet, PathNotifications, &out); err != nil {
		return nil, err
	}
	return out.Notifications, nil
}

// StopMonitoring sends POST /api/stop.
func (c *Client) StopMonitoring(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Post(PathStop)
	return decode(resp, err, http.MethodPost, PathStop, nil)
}

// GetStatus fetches GET /api/status.
func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	resp, err := c.http.R().SetContext(ctx).Get(PathStatus)
	var out Status
	if err := decode(resp, err, http.MethodGet, PathStatus, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VideoFeedPath returns the feed path with a cache-buster derived from t, so
// a re-request after a load failure never hits a cached response.
func VideoFeedPath(t time.Time) string {
	return PathVideoFeed + "?t=" + strconv.FormatInt(t.UnixMilli(), 10)
}

// OpenVideoFeed requests the server-pushed feed. The caller owns the
// returned body and the Content-Type carrying the multipart boundary.
func (c *Client) OpenVideoFeed(ctx context.Context, bust time.Time) (io.ReadCloser, string, error) {
	path := VideoFeedPath(bust)
	resp, err := c.stream.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(path)
	if err != nil {
		return nil, "", err
	}
	body := resp.RawBody()
	if resp.StatusCode() >= 300 {
		data, _ := io.ReadAll(io.LimitReader(body, 512))
		body.Close()
		return nil, "", &StatusError{Method: http.MethodGet, Path: path, Code: resp.StatusCode(), Body: string(data)}
	}
	return body, resp.Header().Get("Content-Type"), nil
}

func decode(resp *resty.Response, err error, method, path string, out interface{}) error {
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 300 {
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode(), Body: resp.String()}
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
