// Package mjpeg reads and writes motion-JPEG streams: either
// multipart/x-mixed-replace bodies or raw concatenated JPEG bytes.
package mjpeg

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strconv"
	"strings"
)

// DefaultMaxFrame bounds a single frame so a stream without an end marker
// cannot grow the buffer forever.
const DefaultMaxFrame = 10 << 20

var ErrFrameTooLarge = errors.New("mjpeg: frame exceeds size limit")

// Reader extracts one JPEG frame per Next call.
type Reader struct {
	parts    *multipart.Reader
	raw      *bufio.Reader
	maxFrame int
}

// NewReader picks multipart parsing when contentType declares a boundary and
// falls back to scanning for JPEG start/end markers otherwise.
func NewReader(r io.Reader, contentType string) *Reader {
	rd := &Reader{maxFrame: DefaultMaxFrame}
	if mediaType, params, err := mime.ParseMediaType(contentType); err == nil &&
		strings.HasPrefix(mediaType, "multipart/") && params["boundary"] != "" {
		rd.parts = multipart.NewReader(r, params["boundary"])
		return rd
	}
	rd.raw = bufio.NewReaderSize(r, 64<<10)
	return rd
}

// Next returns the next complete frame. io.EOF means the stream ended cleanly.
func (r *Reader) Next() ([]byte, error) {
	if r.parts != nil {
		return r.nextPart()
	}
	return r.scan()
}

func (r *Reader) nextPart() ([]byte, error) {
	for {
		part, err := r.parts.NextPart()
		if err != nil {
			return nil, err
		}
		// With a declared length the frame is complete without waiting for
		// the next boundary; NextPart skips whatever trails it.
		if n, err := strconv.Atoi(part.Header.Get("Content-Length")); err == nil && n > 0 && n <= r.maxFrame {
			data := make([]byte, n)
			if _, err := io.ReadFull(part, data); err != nil {
				return nil, err
			}
			return data, nil
		}
		data, err := io.ReadAll(io.LimitReader(part, int64(r.maxFrame)+1))
		part.Close()
		if err != nil {
			return nil, err
		}
		if len(data) > r.maxFrame {
			return nil, ErrFrameTooLarge
		}
		if len(data) == 0 {
			continue
		}
		return data, nil
	}
}

// scan finds the next SOI (FF D8) and returns everything through the
// following EOI (FF D9). Bytes between frames are discarded.
func (r *Reader) scan() ([]byte, error) {
	var buf bytes.Buffer
	var prev byte
	started := false
	for {
		b, err := r.raw.ReadByte()
		if err != nil {
			if err == io.EOF && started {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if !started {
			if prev == 0xFF && b == 0xD8 {
				started = true
				buf.Write([]byte{0xFF, 0xD8})
			}
			prev = b
			continue
		}
		buf.WriteByte(b)
		if prev == 0xFF && b == 0xD9 {
			return buf.Bytes(), nil
		}
		prev = b
		if buf.Len() > r.maxFrame {
			return nil, ErrFrameTooLarge
		}
	}
}

// Writer emits a multipart/x-mixed-replace stream, one JPEG per part.
type Writer struct {
	mw *multipart.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{mw: multipart.NewWriter(w)}
}

// ContentType is the response header value announcing the part boundary.
func (w *Writer) ContentType() string {
	return "multipart/x-mixed-replace; boundary=" + w.mw.Boundary()
}

func (w *Writer) WriteFrame(jpeg []byte) error {
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Type", "image/jpeg")
	hdr.Set("Content-Length", strconv.Itoa(len(jpeg)))
	part, err := w.mw.CreatePart(hdr)
	if err != nil {
		return fmt.Errorf("mjpeg: create part: %w", err)
	}
	_, err = part.Write(jpeg)
	return err
}

// Close writes the closing boundary.
func (w *Writer) Close() error {
	return w.mw.Close()
}
