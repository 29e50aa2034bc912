// Copyright 2025 James Ross

// Package policy implements the Policy Engine (C3): selector matching,
// rule evaluation (cost_ceiling, quota, sla, slo, rate_limit,
// change_freeze) and the enforce/dry_run/shadow evaluation modes.
package policy

import "fmt"

// PolicyError is this package's structured error, grounded on the
// teacher's CanaryError wrapping shape (internal/canary-deployments/errors.go).
type PolicyError struct {
	Code       string
	Message    string
	Details    map[string]string
	Underlying error
}

func (e *PolicyError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PolicyError) Unwrap() error { return e.Underlying }

func (e *PolicyError) Is(target error) bool {
	t, ok := target.(*PolicyError)
	return ok && t.Code == e.Code
}

func newPolicyError(code, message string) *PolicyError {
	return &PolicyError{Code: code, Message: message}
}

var (
	ErrInvalidPolicy = newPolicyError("INVALID_POLICY", "policy failed validation")
	ErrInvalidPlan   = newPolicyError("INVALID_PLAN", "action plan failed validation")
)
