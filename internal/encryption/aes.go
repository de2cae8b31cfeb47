package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	KeyAlgorithm         = "PBKDF2WithHmacSHA1"
	DefaultIterations    = 65536
	KeyLength            = 256
	CipherTransformation = "AES/CFB8/PKCS5Padding"

	saltSize = 16
)

// AESEncrypter derives a key from a password with PBKDF2 and a random salt
// per stream, then encrypts with AES in CFB8 mode and PKCS#5 padding.
type AESEncrypter struct {
	password   []byte
	iterations int
}

var _ Encrypter = (*AESEncrypter)(nil)

// NewAESEncrypter returns an encrypter for password. iterations <= 0 selects
// DefaultIterations.
func NewAESEncrypter(password string, iterations int) *AESEncrypter {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &AESEncrypter{password: []byte(password), iterations: iterations}
}

// DeriveKey returns the key for salt and iteration count.
func (e *AESEncrypter) DeriveKey(salt []byte, iterations int) []byte {
	return pbkdf2.Key(e.password, salt, iterations, KeyLength/8, sha1.New)
}

func (e *AESEncrypter) NewWriter(w io.Writer) (io.WriteCloser, Params, error) {
	salt := make([]byte, saltSize)
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, Params{}, fmt.Errorf("generating salt: %w", err)
	}
	if _, err := rand.Read(iv); err != nil {
		return nil, Params{}, fmt.Errorf("generating iv: %w", err)
	}

	block, err := aes.NewCipher(e.DeriveKey(salt, e.iterations))
	if err != nil {
		return nil, Params{}, fmt.Errorf("creating cipher: %w", err)
	}

	p := Params{
		KeyAlgorithm:         KeyAlgorithm,
		KeyIterations:        e.iterations,
		KeyLength:            KeyLength,
		CipherTransformation: CipherTransformation,
		Salt:                 salt,
		IV:                   iv,
	}
	return &paddedWriter{w: w, stream: newCFB8(block, iv, false)}, p, nil
}

func (e *AESEncrypter) NewReader(r io.Reader, p Params) (io.Reader, error) {
	if p.CipherTransformation != CipherTransformation {
		return nil, fmt.Errorf("unsupported cipher transformation %q", p.CipherTransformation)
	}
	if p.KeyAlgorithm != KeyAlgorithm || p.KeyLength != KeyLength {
		return nil, fmt.Errorf("unsupported key derivation %s/%d", p.KeyAlgorithm, p.KeyLength)
	}
	if len(p.IV) != aes.BlockSize {
		return nil, fmt.Errorf("iv must be %d bytes, got %d", aes.BlockSize, len(p.IV))
	}

	block, err := aes.NewCipher(e.DeriveKey(p.Salt, p.KeyIterations))
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return &unpadReader{src: r, stream: newCFB8(block, p.IV, true)}, nil
}

// paddedWriter encrypts as it goes and appends PKCS#5 padding on Close.
type paddedWriter struct {
	w      io.Writer
	stream cipher.Stream
	buf    []byte
	n      int64
	closed bool
}

func (pw *paddedWriter) Write(p []byte) (int, error) {
	if pw.closed {
		return 0, fmt.Errorf("write after close")
	}
	if cap(pw.buf) < len(p) {
		pw.buf = make([]byte, len(p))
	}
	out := pw.buf[:len(p)]
	pw.stream.XORKeyStream(out, p)
	n, err := pw.w.Write(out)
	pw.n += int64(n)
	return n, err
}

func (pw *paddedWriter) Close() error {
	if pw.closed {
		return nil
	}
	pw.closed = true
	pad := aes.BlockSize - int(pw.n%aes.BlockSize)
	block := make([]byte, pad)
	for i := range block {
		block[i] = byte(pad)
	}
	pw.stream.XORKeyStream(block, block)
	_, err := pw.w.Write(block)
	return err
}

// unpadReader decrypts and holds back the final block until EOF so the
// padding can be checked and stripped.
type unpadReader struct {
	src    io.Reader
	stream cipher.Stream
	chunk  []byte
	buf    []byte
	total  int64
	eof    bool
}

func (r *unpadReader) Read(p []byte) (int, error) {
	for {
		if r.eof {
			if len(r.buf) == 0 {
				return 0, io.EOF
			}
			n := copy(p, r.buf)
			r.buf = r.buf[n:]
			return n, nil
		}
		if avail := len(r.buf) - aes.BlockSize; avail > 0 {
			n := copy(p, r.buf[:avail])
			r.buf = r.buf[n:]
			return n, nil
		}

		if r.chunk == nil {
			r.chunk = make([]byte, 32*1024)
		}
		n, err := r.src.Read(r.chunk)
		if n > 0 {
			r.stream.XORKeyStream(r.chunk[:n], r.chunk[:n])
			r.buf = append(r.buf, r.chunk[:n]...)
			r.total += int64(n)
		}
		if err == io.EOF {
			if err := r.strip(); err != nil {
				return 0, err
			}
			r.eof = true
			continue
		}
		if err != nil {
			return 0, err
		}
	}
}

func (r *unpadReader) strip() error {
	if r.total == 0 || r.total%aes.BlockSize != 0 || len(r.buf) == 0 {
		return ErrBadPadding
	}
	pad := int(r.buf[len(r.buf)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(r.buf) {
		return ErrBadPadding
	}
	for _, b := range r.buf[len(r.buf)-pad:] {
		if int(b) != pad {
			return ErrBadPadding
		}
	}
	r.buf = r.buf[:len(r.buf)-pad]
	return nil
}
