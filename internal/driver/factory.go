package driver

import (
	"fmt"

	"fbagent/internal/agent"
	"fbagent/internal/config"
	"fbagent/internal/encryption"
)

// NewDriverFromConfig creates a Driver based on the driver config type.
// enc is used only when the driver has encrypt set.
func NewDriverFromConfig(cfg config.DriverConfig, vault agent.Vault, enc encryption.Encrypter, fsmgr agent.FilesystemManager, clock agent.Clock, logger agent.Logger) (agent.Driver, error) {
	opts, err := OptionsFromConfig(cfg, enc)
	if err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "archive":
		return NewArchiveDriver(ArchiveConfig{
			Name:     cfg.Name,
			Prefix:   cfg.ArchivePrefix,
			Options:  opts,
			MaxFiles: cfg.MaxFiles,
			MaxBytes: cfg.MaxBytes,
		}, vault, fsmgr, clock, logger), nil
	case "filecopy":
		return NewFileCopyDriver(FileCopyConfig{
			Name:    cfg.Name,
			Options: opts,
			Threads: cfg.Threads,
		}, vault, fsmgr, logger), nil
	default:
		return nil, fmt.Errorf("unknown driver type: %s", cfg.Type)
	}
}

// OptionsFromConfig returns the artifact layers of a driver config.
func OptionsFromConfig(cfg config.DriverConfig, enc encryption.Encrypter) (Options, error) {
	opts := Options{
		Compress:              cfg.Compress,
		CompressionLevel:      cfg.CompressionLevel,
		EncryptBeforeCompress: cfg.EncryptBeforeCompress,
	}
	if cfg.Encrypt {
		if enc == nil {
			return Options{}, fmt.Errorf("driver %s: encrypt requires an encrypter", cfg.Name)
		}
		opts.Encrypter = enc
	}
	return opts, nil
}
