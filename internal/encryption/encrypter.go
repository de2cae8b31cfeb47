package encryption

import (
	"errors"
	"io"
)

// ErrBadPadding is returned when a decrypted stream does not end in valid padding.
var ErrBadPadding = errors.New("invalid padding")

// Params records what is needed to decrypt one stream.
type Params struct {
	KeyAlgorithm         string
	KeyIterations        int
	KeyLength            int // bits
	CipherTransformation string
	Salt                 []byte
	IV                   []byte
}

// Encrypter turns plaintext streams into ciphertext streams. Every call to
// NewWriter uses fresh random parameters.
type Encrypter interface {
	// NewWriter returns a writer that encrypts into w. Close flushes the
	// final block but does not close w.
	NewWriter(w io.Writer) (io.WriteCloser, Params, error)
	NewReader(r io.Reader, p Params) (io.Reader, error)
}
