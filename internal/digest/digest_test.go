package digest

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	io.WriteString(w, "hello ")
	io.WriteString(w, "world")

	if buf.String() != "hello world" {
		t.Errorf("forwarded %q, want %q", buf.String(), "hello world")
	}
	// md5("hello world")
	if got, want := w.Hex(), "5eb63bbbe01eeed093cb22bb8f5acdc3"; got != want {
		t.Errorf("Hex() = %s, want %s", got, want)
	}
	if w.Size() != 11 {
		t.Errorf("Size() = %d, want 11", w.Size())
	}
}

func TestReaderMatchesWriter(t *testing.T) {
	data := strings.Repeat("0123456789", 10000)

	w := NewWriter(io.Discard)
	io.WriteString(w, data)

	r := NewReader(strings.NewReader(data))
	if _, err := io.Copy(io.Discard, r); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}

	if r.Hex() != w.Hex() {
		t.Errorf("reader digest %s != writer digest %s", r.Hex(), w.Hex())
	}
	if r.Size() != int64(len(data)) {
		t.Errorf("Size() = %d, want %d", r.Size(), len(data))
	}
}

func TestEmptyStream(t *testing.T) {
	w := NewWriter(io.Discard)
	if got, want := w.Hex(), "d41d8cd98f00b204e9800998ecf8427e"; got != want {
		t.Errorf("Hex() = %s, want %s", got, want)
	}
}
