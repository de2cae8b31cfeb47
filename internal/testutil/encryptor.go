package testutil

import (
	"fbagent/internal/encryption"
)

// TestPassword is the password used by NewTestEncrypter.
const TestPassword = "correct horse battery staple"

// NewTestEncrypter returns an AES encrypter with a low iteration count so
// tests stay fast.
func NewTestEncrypter() encryption.Encrypter {
	return encryption.NewAESEncrypter(TestPassword, 16)
}
