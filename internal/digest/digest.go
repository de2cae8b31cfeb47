// Package digest computes a content digest over a stream while it is
// written or read.
package digest

import (
	"crypto/md5"
	"encoding/hex"
	"hash"
	"io"
)

// Algorithm names the digest recorded in artifact metadata.
const Algorithm = "MD5"

// Writer forwards writes to the underlying writer and hashes the bytes that
// were actually written.
type Writer struct {
	w io.Writer
	h hash.Hash
	n int64
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, h: md5.New()}
}

func (d *Writer) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	d.h.Write(p[:n])
	d.n += int64(n)
	return n, err
}

// Sum returns the digest of everything written so far.
func (d *Writer) Sum() []byte { return d.h.Sum(nil) }

// Hex returns Sum hex encoded.
func (d *Writer) Hex() string { return hex.EncodeToString(d.Sum()) }

// Size returns the number of bytes written.
func (d *Writer) Size() int64 { return d.n }

// Reader hashes everything read through it.
type Reader struct {
	r io.Reader
	h hash.Hash
	n int64
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, h: md5.New()}
}

func (d *Reader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	d.h.Write(p[:n])
	d.n += int64(n)
	return n, err
}

func (d *Reader) Sum() []byte { return d.h.Sum(nil) }
func (d *Reader) Hex() string { return hex.EncodeToString(d.Sum()) }
func (d *Reader) Size() int64 { return d.n }
