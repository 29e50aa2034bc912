// Copyright 2025 James Ross

// Package canary implements the progressive-rollout state machine (C5),
// grounded on internal/canary-deployments/canary-deployments.go's Manager
// shape: a map of active rollouts guarded by a mutex, a monitor loop, and
// non-blocking event emission.
package canary

import "fmt"

type CanaryError struct {
	Code       string
	Message    string
	Underlying error
}

func (e *CanaryError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CanaryError) Unwrap() error { return e.Underlying }

func (e *CanaryError) Is(target error) bool {
	t, ok := target.(*CanaryError)
	return ok && t.Code == e.Code
}

var (
	ErrAlreadyActive  = &CanaryError{Code: "ALREADY_ACTIVE", Message: "deployment already has an active canary"}
	ErrInvalidConfig  = &CanaryError{Code: "INVALID_CONFIG", Message: "canary configuration is invalid"}
	ErrNotFound       = &CanaryError{Code: "NOT_FOUND", Message: "canary not found"}
	ErrAlreadyTerminal = &CanaryError{Code: "ALREADY_TERMINAL", Message: "canary already in a terminal state"}
)
