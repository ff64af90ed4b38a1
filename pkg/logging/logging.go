package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds the process-wide logger. Local environments get the
// development config (console encoding, debug level); everything else
// gets the production config (JSON, info level).
func New(env string) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if env == "local" || env == "dev" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
