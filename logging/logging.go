// Package logging provides the zap.Logger every other package accepts as a
// constructor argument, the way the rest of the example corpus's services
// take a *zap.Logger rather than writing through the stdlib log package or a
// package-level global.
package logging

import "go.uber.org/zap"

// New builds a production logger (JSON encoding, info level) for normal
// operation.
func New() (*zap.Logger, error) {
	return zap.NewProduction()
}

// NewDevelopment builds a console-encoded, debug-level logger suited to
// tests and local runs.
func NewDevelopment() (*zap.Logger, error) {
	return zap.NewDevelopment()
}

// NewNop returns a logger that discards everything, for callers (mostly
// tests) that construct core components without caring about their log
// output.
func NewNop() *zap.Logger {
	return zap.NewNop()
}
