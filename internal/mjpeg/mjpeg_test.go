package mjpeg

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

var (
	frameA = []byte{0xFF, 0xD8, 0x10, 0x20, 0xFF, 0x00, 0x30, 0xFF, 0xD9}
	frameB = []byte{0xFF, 0xD8, 0x44, 0xFF, 0xD9}
)

func TestRoundTripMultipart(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, f := range [][]byte{frameA, frameB} {
		if err := w.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r := NewReader(&buf, w.ContentType())
	for i, want := range [][]byte{frameA, frameB} {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d = %x, want %x", i, got, want)
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("after last frame err = %v, want io.EOF", err)
	}
}

func TestScanRawStream(t *testing.T) {
	var stream []byte
	stream = append(stream, 0x00, 0x01, 0xFF) // garbage before the first SOI
	stream = append(stream, frameA...)
	stream = append(stream, 0x99, 0x98)
	stream = append(stream, frameB...)

	r := NewReader(bytes.NewReader(stream), "image/jpeg")
	for i, want := range [][]byte{frameA, frameB} {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d = %x, want %x", i, got, want)
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestScanTruncatedFrame(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0xFF, 0xD8, 0x01, 0x02}), "")
	if _, err := r.Next(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("err = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestScanFrameTooLarge(t *testing.T) {
	data := append([]byte{0xFF, 0xD8}, make([]byte, 64)...)
	r := NewReader(bytes.NewReader(data), "")
	r.maxFrame = 16
	if _, err := r.Next(); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestMultipartFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteFrame(make([]byte, 64))
	w.Close()

	r := NewReader(&buf, w.ContentType())
	r.maxFrame = 16
	if _, err := r.Next(); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestFrameAvailableBeforeNextBoundary(t *testing.T) {
	pr, pw := io.Pipe()
	w := NewWriter(pw)
	go w.WriteFrame(frameA)

	r := NewReader(pr, w.ContentType())
	got, err := r.Next()
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if !bytes.Equal(got, frameA) {
		t.Errorf("frame = %x, want %x", got, frameA)
	}
	pw.Close()
}
