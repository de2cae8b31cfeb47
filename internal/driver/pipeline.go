package driver

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"fbagent/internal/digest"
	"fbagent/internal/encryption"
	"fbagent/internal/model"
)

// Options selects the layers between an artifact's plaintext and its stored bytes.
type Options struct {
	Compress         bool
	CompressionLevel int // 0 selects gzip.DefaultCompression
	// Encrypter is nil when artifacts are stored in the clear.
	Encrypter encryption.Encrypter
	// EncryptBeforeCompress swaps the default compress-then-encrypt order.
	EncryptBeforeCompress bool
}

// Layering returns the order recorded in metadata, or "" for a single layer.
func (o Options) Layering() string {
	if !o.Compress || o.Encrypter == nil {
		return ""
	}
	if o.EncryptBeforeCompress {
		return model.LayerEncryptThenCompress
	}
	return model.LayerCompressThenEncrypt
}

func (o Options) level() int {
	if o.CompressionLevel == 0 {
		return gzip.DefaultCompression
	}
	return o.CompressionLevel
}

// Output is the write side of an artifact. Bytes written to it pass through
// the optional gzip and cipher layers and are digested exactly as stored.
type Output struct {
	top     io.Writer
	layers  []io.Closer // outermost first
	digest  *digest.Writer
	params  encryption.Params
	opts    Options
	written int64
	closed  bool
}

// NewOutput stacks the configured layers on top of dst:
//
//	compress-encrypt: plaintext -> gzip -> cipher -> digest -> dst
//	encrypt-compress: plaintext -> cipher -> gzip -> digest -> dst
func NewOutput(dst io.Writer, opts Options) (*Output, error) {
	o := &Output{digest: digest.NewWriter(dst), opts: opts}
	o.top = o.digest

	addGzip := func() error {
		gz, err := gzip.NewWriterLevel(o.top, opts.level())
		if err != nil {
			return fmt.Errorf("creating gzip writer: %w", err)
		}
		o.top = gz
		o.layers = append([]io.Closer{gz}, o.layers...)
		return nil
	}
	addCipher := func() error {
		cw, params, err := opts.Encrypter.NewWriter(o.top)
		if err != nil {
			return fmt.Errorf("creating cipher writer: %w", err)
		}
		o.params = params
		o.top = cw
		o.layers = append([]io.Closer{cw}, o.layers...)
		return nil
	}

	var steps []func() error
	switch {
	case opts.Compress && opts.Encrypter != nil && opts.EncryptBeforeCompress:
		steps = []func() error{addGzip, addCipher}
	case opts.Compress && opts.Encrypter != nil:
		steps = []func() error{addCipher, addGzip}
	case opts.Compress:
		steps = []func() error{addGzip}
	case opts.Encrypter != nil:
		steps = []func() error{addCipher}
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Output) Write(p []byte) (int, error) {
	n, err := o.top.Write(p)
	o.written += int64(n)
	return n, err
}

// Written returns the number of plaintext bytes written so far.
func (o *Output) Written() int64 { return o.written }

// Close flushes every layer, outermost first. dst is not closed.
func (o *Output) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	for _, l := range o.layers {
		if err := l.Close(); err != nil {
			return fmt.Errorf("flushing output: %w", err)
		}
	}
	return nil
}

// Metadata describes the stored bytes. It is complete once Close returned.
func (o *Output) Metadata(kind string) model.ArchiveMetadata {
	m := model.ArchiveMetadata{
		FormatVersion:   model.MetadataFormatVersion,
		ArchiveKind:     kind,
		Compressed:      o.opts.Compress,
		Encrypted:       o.opts.Encrypter != nil,
		Layering:        o.opts.Layering(),
		DigestAlgorithm: digest.Algorithm,
		ContentDigest:   o.digest.Hex(),
		Size:            o.digest.Size(),
	}
	if m.Encrypted {
		m.KeyAlgorithm = o.params.KeyAlgorithm
		m.KeyIterations = o.params.KeyIterations
		m.KeyLength = o.params.KeyLength
		m.CipherTransformation = o.params.CipherTransformation
		m.Salt = o.params.Salt
		m.IV = o.params.IV
	}
	return m
}

// NewInput reverses the layers recorded in meta and returns the plaintext
// reader. enc may be nil for unencrypted artifacts.
func NewInput(src io.Reader, meta model.ArchiveMetadata, enc encryption.Encrypter) (io.Reader, error) {
	if meta.Encrypted && enc == nil {
		return nil, fmt.Errorf("artifact is encrypted but no encryption is configured")
	}
	params := encryption.Params{
		KeyAlgorithm:         meta.KeyAlgorithm,
		KeyIterations:        meta.KeyIterations,
		KeyLength:            meta.KeyLength,
		CipherTransformation: meta.CipherTransformation,
		Salt:                 meta.Salt,
		IV:                   meta.IV,
	}

	decrypt := func(r io.Reader) (io.Reader, error) {
		dr, err := enc.NewReader(r, params)
		if err != nil {
			return nil, fmt.Errorf("creating cipher reader: %w", err)
		}
		return dr, nil
	}
	gunzip := func(r io.Reader) (io.Reader, error) {
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gr, nil
	}

	var steps []func(io.Reader) (io.Reader, error)
	switch {
	case meta.Compressed && meta.Encrypted && meta.Layering == model.LayerEncryptThenCompress:
		steps = append(steps, gunzip, decrypt)
	case meta.Compressed && meta.Encrypted:
		steps = append(steps, decrypt, gunzip)
	case meta.Compressed:
		steps = append(steps, gunzip)
	case meta.Encrypted:
		steps = append(steps, decrypt)
	}

	r := src
	for _, step := range steps {
		var err error
		if r, err = step(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}
