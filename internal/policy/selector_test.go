// Copyright 2025 James Ross
package policy

import (
	"testing"

	"github.com/fleetctl/workload-controller/internal/domain"
)

func TestMatchesWildcardAlwaysMatches(t *testing.T) {
	ok, err := matches("*", domain.DecisionTarget{WorkloadID: "anything"})
	if err != nil || !ok {
		t.Fatalf("expected wildcard selector to match, got ok=%v err=%v", ok, err)
	}
}

func TestMatchesEmptySelectorAlwaysMatches(t *testing.T) {
	ok, err := matches("", domain.DecisionTarget{WorkloadID: "anything"})
	if err != nil || !ok {
		t.Fatalf("expected empty selector to match, got ok=%v err=%v", ok, err)
	}
}

func TestMatchesExactWorkloadID(t *testing.T) {
	target := domain.DecisionTarget{WorkloadID: "gpu-fleet"}
	ok, err := matches("$.workload_id==gpu-fleet", target)
	if err != nil || !ok {
		t.Fatalf("expected exact match, got ok=%v err=%v", ok, err)
	}
	ok, err = matches("$.workload_id==other", target)
	if err != nil || ok {
		t.Fatalf("expected exact mismatch to not match, got ok=%v err=%v", ok, err)
	}
}

func TestMatchesGlobAgainstLabel(t *testing.T) {
	target := domain.DecisionTarget{Labels: map[string]string{"team": "ml-infra"}}
	ok, err := matches("$.labels.team=ml-*", target)
	if err != nil || !ok {
		t.Fatalf("expected glob match against label, got ok=%v err=%v", ok, err)
	}
}

func TestMatchesMultipleTermsAllMustHold(t *testing.T) {
	target := domain.DecisionTarget{WorkloadID: "w1", ClusterID: "c1"}
	ok, err := matches("$.workload_id==w1,$.cluster_id==c2", target)
	if err != nil || ok {
		t.Fatalf("expected one mismatching term to fail the whole selector, got ok=%v err=%v", ok, err)
	}
}

func TestMatchesInvalidTermErrors(t *testing.T) {
	if _, err := matches("no-operator-here", domain.DecisionTarget{}); err == nil {
		t.Fatal("expected error for a selector term missing = or ==")
	}
}
