package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for client construction and settings validation. Provider
// API failures are not wrapped into these; they surface to the caller
// unchanged.
var (
	ErrUnsupportedEngine     = errors.New("unsupported engine")
	ErrUnknownProvider       = errors.New("unknown provider")
	ErrProviderNotConfigured = errors.New("provider not configured")
)

// ValidationError reports a settings or conversation field that violates the
// schema. Surfaced to the UI as a 400; dispatch is never invoked.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
