package observability

import "go.uber.org/zap"

// NewLogger builds the process logger: console output in development, JSON otherwise.
func NewLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
