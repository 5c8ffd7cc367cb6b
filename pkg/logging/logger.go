package logging

import "go.uber.org/zap"

// NewLogger builds the process logger. Local environments get the
// human-readable development encoder; everything else logs JSON at info.
func NewLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
