// Copyright 2025 James Ross

// Package planexec implements the Plan Executor (C7): policy-gated,
// blast-radius-checked, approval-gated dispatch of an ActionPlan's
// decisions, grounded on the teacher's SafetyChecker/confirmation-gate
// pattern in internal/worker-fleet-controls/types.go.
package planexec

import "fmt"

type PlanError struct {
	Code       string
	Message    string
	Underlying error
}

func (e *PlanError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PlanError) Unwrap() error { return e.Underlying }

var (
	ErrInvalidPlan  = &PlanError{Code: "INVALID_PLAN", Message: "action plan failed validation"}
	ErrNotFound     = &PlanError{Code: "NOT_FOUND", Message: "plan not found"}
	ErrPolicyReject = &PlanError{Code: "POLICY_REJECTED", Message: "plan rejected by policy"}
)
