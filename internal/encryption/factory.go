package encryption

import (
	"fmt"

	"fbagent/internal/config"
)

// NewEncrypterFromConfig creates an Encrypter based on the configuration type.
// It returns nil for type "none".
func NewEncrypterFromConfig(cfg config.EncryptionConfig, password string) (Encrypter, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "aes":
		if password == "" {
			return nil, fmt.Errorf("aes encryption requires a password")
		}
		return NewAESEncrypter(password, cfg.KDFIterations), nil
	case "age":
		if password == "" {
			return nil, fmt.Errorf("age encryption requires a password")
		}
		return NewAgeEncrypter(password, cfg.WorkFactor), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
