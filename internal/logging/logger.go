package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// NewLogger returns a zap logger configured for structured production logging.
// An empty level selects the production default; anything else must name a
// valid zap level.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()

	trimmed := strings.ToLower(strings.TrimSpace(level))
	if trimmed != "" {
		parsed, err := zap.ParseAtomicLevel(trimmed)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", level, err)
		}
		cfg.Level = parsed
	}

	return cfg.Build()
}
