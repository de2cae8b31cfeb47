package app

import (
	"fmt"
	"os"

	"fbagent/internal/config"
)

// ResolvePassword returns the encryption password: the configured password,
// then the environment variable named by password_env, then prompt. prompt
// may be nil when no terminal is available. No password is needed for
// encryption type "none".
func ResolvePassword(cfg config.EncryptionConfig, prompt func() (string, error)) (string, error) {
	if cfg.Type == "" || cfg.Type == "none" {
		return "", nil
	}
	if cfg.Password != "" {
		return cfg.Password, nil
	}
	if cfg.PasswordEnv != "" {
		if p := os.Getenv(cfg.PasswordEnv); p != "" {
			return p, nil
		}
	}
	if prompt == nil {
		return "", fmt.Errorf("%s encryption needs a password: set password or %s", cfg.Type, envName(cfg.PasswordEnv))
	}
	p, err := prompt()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if p == "" {
		return "", fmt.Errorf("empty password")
	}
	return p, nil
}

func envName(s string) string {
	if s == "" {
		return "password_env"
	}
	return s
}
