package encryption

import (
	"fmt"
	"io"

	"filippo.io/age"
)

const (
	AgeKeyAlgorithm         = "scrypt"
	AgeCipherTransformation = "age-v1"
	DefaultAgeWorkFactor    = 18
)

// AgeEncrypter encrypts streams with an age scrypt passphrase recipient.
// age carries its own salt and nonces in the stream header, so only the work
// factor is recorded.
type AgeEncrypter struct {
	passphrase string
	workFactor int
}

var _ Encrypter = (*AgeEncrypter)(nil)

// NewAgeEncrypter creates an AgeEncrypter. workFactor <= 0 selects DefaultAgeWorkFactor.
func NewAgeEncrypter(passphrase string, workFactor int) *AgeEncrypter {
	if workFactor <= 0 {
		workFactor = DefaultAgeWorkFactor
	}
	return &AgeEncrypter{passphrase: passphrase, workFactor: workFactor}
}

func (e *AgeEncrypter) NewWriter(w io.Writer) (io.WriteCloser, Params, error) {
	recipient, err := age.NewScryptRecipient(e.passphrase)
	if err != nil {
		return nil, Params{}, fmt.Errorf("creating scrypt recipient: %w", err)
	}
	recipient.SetWorkFactor(e.workFactor)

	encWriter, err := age.Encrypt(w, recipient)
	if err != nil {
		return nil, Params{}, fmt.Errorf("creating encrypted writer: %w", err)
	}
	return encWriter, Params{
		KeyAlgorithm:         AgeKeyAlgorithm,
		KeyIterations:        e.workFactor,
		KeyLength:            256,
		CipherTransformation: AgeCipherTransformation,
	}, nil
}

func (e *AgeEncrypter) NewReader(r io.Reader, p Params) (io.Reader, error) {
	if p.CipherTransformation != AgeCipherTransformation {
		return nil, fmt.Errorf("unsupported cipher transformation %q", p.CipherTransformation)
	}
	identity, err := age.NewScryptIdentity(e.passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	if p.KeyIterations > 0 {
		identity.SetMaxWorkFactor(p.KeyIterations)
	}

	decReader, err := age.Decrypt(r, identity)
	if err != nil {
		return nil, fmt.Errorf("creating decrypted reader: %w", err)
	}
	return decReader, nil
}
