// Copyright 2025 James Ross
package clusterdriver

import "fmt"

// FaultCode is the typed fault every Driver method surfaces, per the
// failure model: NOT_FOUND, ALREADY_EXISTS, INVALID, CLUSTER_UNAVAILABLE,
// CLUSTER_TIMEOUT, NO_PREVIOUS_REVISION.
type FaultCode string

const (
	FaultNotFound           FaultCode = "NOT_FOUND"
	FaultAlreadyExists      FaultCode = "ALREADY_EXISTS"
	FaultInvalid            FaultCode = "INVALID"
	FaultClusterUnavailable FaultCode = "CLUSTER_UNAVAILABLE"
	FaultClusterTimeout     FaultCode = "CLUSTER_TIMEOUT"
	FaultNoPreviousRevision FaultCode = "NO_PREVIOUS_REVISION"
)

// Transient reports whether the fault is safe to retry with backoff.
func (c FaultCode) Transient() bool {
	return c == FaultClusterUnavailable || c == FaultClusterTimeout
}

// Fault is the structured error every Driver method returns on failure,
// grounded on the CanaryError shape used across the teacher's subsystems.
type Fault struct {
	Code       FaultCode
	Resource   string
	Namespace  string
	Underlying error
}

func (f *Fault) Error() string {
	if f.Underlying != nil {
		return fmt.Sprintf("%s: %s/%s: %v", f.Code, f.Namespace, f.Resource, f.Underlying)
	}
	return fmt.Sprintf("%s: %s/%s", f.Code, f.Namespace, f.Resource)
}

func (f *Fault) Unwrap() error { return f.Underlying }

func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	if !ok {
		return false
	}
	return t.Code == f.Code
}

func newFault(code FaultCode, namespace, resource string, err error) *Fault {
	return &Fault{Code: code, Resource: resource, Namespace: namespace, Underlying: err}
}
