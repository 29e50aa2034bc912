// Copyright 2025 James Ross

// Package health implements the pure deployment health scoring function
// (C2): given pod snapshots and a declared replica count it produces a
// score in [0.0, 1.0] and a coarse HealthState. It makes no external calls
// and never retries.
package health

import (
	"time"

	"github.com/fleetctl/workload-controller/internal/clusterdriver"
	"github.com/fleetctl/workload-controller/internal/domain"
)

const (
	weightReady    = 0.60
	weightRestart  = 0.25
	weightBadState = 0.15

	healthyThreshold  = 0.85
	degradedThreshold = 0.60

	recentRestartWindow = 30 * time.Minute
	restartPenaltyCap   = 5.0
)

var badWaitingReasons = map[string]bool{
	"CrashLoopBackOff":     true,
	"ImagePullBackOff":     true,
	"ErrImagePull":         true,
	"CreateContainerError": true,
}

// Evaluate computes a HealthSnapshot for one deployment. now is passed
// explicitly so the function stays pure and testable.
func Evaluate(deploymentID string, pods []clusterdriver.PodSnapshot, declaredReplicas int, now time.Time) domain.HealthSnapshot {
	totalPods := len(pods)

	if totalPods == 0 && declaredReplicas == 0 {
		return domain.HealthSnapshot{
			DeploymentID: deploymentID,
			Score:        1.0,
			State:        domain.HealthHealthy,
			SampledAt:    now,
		}
	}
	if totalPods == 0 && declaredReplicas > 0 {
		return domain.HealthSnapshot{
			DeploymentID: deploymentID,
			Score:        0.0,
			State:        domain.HealthUnknown,
			SampledAt:    now,
		}
	}

	readyPods := 0
	var restartSum, restartSamples float64
	badStatePods := 0
	for _, p := range pods {
		if p.Ready {
			readyPods++
		}
		if now.Sub(p.CreatedAt) <= recentRestartWindow {
			restartSum += float64(p.RestartCount)
			restartSamples++
		}
		for _, cs := range p.ContainerStatuses {
			if badWaitingReasons[cs.WaitingReason] {
				badStatePods++
				break
			}
		}
	}

	observedPods := totalPods
	denom := declaredReplicas
	if observedPods > denom {
		denom = observedPods
	}
	readyFraction := 0.0
	if denom > 0 {
		readyFraction = float64(readyPods) / float64(denom)
	}

	meanRecentRestarts := 0.0
	if restartSamples > 0 {
		meanRecentRestarts = restartSum / restartSamples
	}
	restartPenalty := meanRecentRestarts / restartPenaltyCap
	if restartPenalty > 1.0 {
		restartPenalty = 1.0
	}

	badStateFraction := float64(badStatePods) / float64(totalPods)

	score := weightReady*readyFraction +
		weightRestart*(1-restartPenalty) +
		weightBadState*(1-badStateFraction)

	state := domain.HealthUnhealthy
	switch {
	case score >= healthyThreshold:
		state = domain.HealthHealthy
	case score >= degradedThreshold:
		state = domain.HealthDegraded
	}

	return domain.HealthSnapshot{
		DeploymentID:     deploymentID,
		Score:            score,
		State:            state,
		ReadyFraction:    readyFraction,
		RestartPenalty:   restartPenalty,
		BadStateFraction: badStateFraction,
		SampledAt:        now,
	}
}
