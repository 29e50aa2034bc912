// Copyright 2025 James Ross
package health

import (
	"testing"
	"time"

	"github.com/fleetctl/workload-controller/internal/clusterdriver"
	"github.com/fleetctl/workload-controller/internal/domain"
)

func TestEvaluateVacuityCaseIsHealthy(t *testing.T) {
	snap := Evaluate("d1", nil, 0, time.Now())
	if snap.State != domain.HealthHealthy || snap.Score != 1.0 {
		t.Fatalf("expected healthy/1.0 for 0 pods and 0 declared replicas, got %v/%v", snap.State, snap.Score)
	}
}

func TestEvaluateNoPodsWithDeclaredReplicasIsUnknown(t *testing.T) {
	snap := Evaluate("d1", nil, 3, time.Now())
	if snap.State != domain.HealthUnknown || snap.Score != 0.0 {
		t.Fatalf("expected unknown/0.0 for 0 observed pods and >0 declared replicas, got %v/%v", snap.State, snap.Score)
	}
}

func TestEvaluateAllReadyNoRestartsIsHealthy(t *testing.T) {
	now := time.Now()
	pods := []clusterdriver.PodSnapshot{
		{Name: "p1", Ready: true, CreatedAt: now.Add(-time.Minute)},
		{Name: "p2", Ready: true, CreatedAt: now.Add(-time.Minute)},
	}
	snap := Evaluate("d1", pods, 2, now)
	if snap.State != domain.HealthHealthy {
		t.Fatalf("expected healthy, got %v (score %v)", snap.State, snap.Score)
	}
	if snap.ReadyFraction != 1.0 {
		t.Fatalf("expected ready fraction 1.0, got %v", snap.ReadyFraction)
	}
}

func TestEvaluateCrashLoopDegradesScore(t *testing.T) {
	now := time.Now()
	pods := []clusterdriver.PodSnapshot{
		{Name: "p1", Ready: true, CreatedAt: now.Add(-time.Minute)},
		{
			Name: "p2", Ready: false, CreatedAt: now.Add(-time.Minute),
			ContainerStatuses: []clusterdriver.ContainerStatus{{Name: "c", WaitingReason: "CrashLoopBackOff"}},
		},
	}
	snap := Evaluate("d1", pods, 2, now)
	if snap.State == domain.HealthHealthy {
		t.Fatalf("expected degraded score with one crash-looping pod, got healthy (score %v)", snap.Score)
	}
	if snap.BadStateFraction != 0.5 {
		t.Fatalf("expected bad state fraction 0.5, got %v", snap.BadStateFraction)
	}
}

func TestEvaluateRestartPenaltyOnlyCountsRecentPods(t *testing.T) {
	now := time.Now()
	pods := []clusterdriver.PodSnapshot{
		{Name: "old", Ready: true, RestartCount: 50, CreatedAt: now.Add(-time.Hour)},
		{Name: "new", Ready: true, RestartCount: 0, CreatedAt: now.Add(-time.Minute)},
	}
	snap := Evaluate("d1", pods, 2, now)
	if snap.RestartPenalty != 0 {
		t.Fatalf("expected 0 restart penalty since only the old pod has restarts and it's outside the window, got %v", snap.RestartPenalty)
	}
}

func TestEvaluateUnreadyPodsLowerReadyFraction(t *testing.T) {
	now := time.Now()
	pods := []clusterdriver.PodSnapshot{
		{Name: "p1", Ready: true, CreatedAt: now},
	}
	snap := Evaluate("d1", pods, 4, now)
	if snap.ReadyFraction != 0.25 {
		t.Fatalf("expected ready fraction 0.25 (1 ready / 4 declared), got %v", snap.ReadyFraction)
	}
	if snap.State != domain.HealthUnhealthy {
		t.Fatalf("expected unhealthy given low ready fraction, got %v", snap.State)
	}
}
