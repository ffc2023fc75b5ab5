// Package cmdutil provides the dependency-injection Factory shared by the
// gateway's cobra commands, following the teacher's Factory/Options
// pattern (pkg/cmd/attestation/verify/verify.go's NewVerifyCmd).
package cmdutil

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/posix4e/tdx-trust-gateway/internal/config"
	"github.com/posix4e/tdx-trust-gateway/internal/obslog"
)

// Factory supplies a command's runtime collaborators without each command
// constructing them itself, mirroring the teacher's cmdutil.Factory.
type Factory struct {
	Config func() (config.Config, error)
	Logger func(config.Config) (*zap.Logger, error)
}

// NewFactory builds the default Factory, reading configuration from the
// environment (and dotenvPath, if non-empty) and building a zap logger at
// the configured level.
func NewFactory(dotenvPath string) *Factory {
	return &Factory{
		Config: func() (config.Config, error) {
			return config.Load(dotenvPath)
		},
		Logger: func(cfg config.Config) (*zap.Logger, error) {
			return buildLogger(cfg.LogLevel)
		},
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	logger, err := obslog.New(level)
	if err != nil {
		return nil, fmt.Errorf("cmdutil: build logger: %w", err)
	}
	return logger, nil
}
