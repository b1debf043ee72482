package utils

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestColorLoggerReportsConsumedBytes(t *testing.T) {
	var stream bytes.Buffer
	logger := NewColorLogger("build", &stream, true)

	p := []byte("line one\n")
	n, err := logger.Write(p)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(p) {
		t.Errorf("expected write count %d, got %d", len(p), n)
	}
	if !strings.Contains(stream.String(), "line one") {
		t.Errorf("payload missing from stream: %q", stream.String())
	}
}

func TestColorLoggerTeesThroughMultiWriter(t *testing.T) {
	var capture, stream bytes.Buffer
	w := io.MultiWriter(&capture, NewColorLogger("build", &stream, true))

	chunks := []string{"line one\n", "line two\n", "line three\n"}
	for _, chunk := range chunks {
		if _, err := w.Write([]byte(chunk)); err != nil {
			t.Fatalf("write %q: %v", chunk, err)
		}
	}

	for _, chunk := range chunks {
		if !strings.Contains(capture.String(), strings.TrimSpace(chunk)) {
			t.Errorf("captured output missing %q: %q", chunk, capture.String())
		}
		if !strings.Contains(stream.String(), strings.TrimSpace(chunk)) {
			t.Errorf("streamed output missing %q: %q", chunk, stream.String())
		}
	}
}

func TestColorLoggerTruncatesLongNames(t *testing.T) {
	var stream bytes.Buffer
	name := strings.Repeat("a", MaxNameLength+5)
	logger := NewColorLogger(name, &stream, false)

	if _, err := logger.Write([]byte("x\n")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stream.String(), "...") {
		t.Errorf("expected truncated name marker in %q", stream.String())
	}
}
