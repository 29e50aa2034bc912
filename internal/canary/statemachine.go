// Copyright 2025 James Ross
package canary

import (
	"context"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/fleetctl/workload-controller/internal/domain"
	"github.com/fleetctl/workload-controller/internal/health"
)

// run drives one rollout's state machine to a terminal state. It is
// required to reach promoted or failed within cfg.MaxDuration of start
// even under repeated transient driver errors, so every sample is bounded
// by a hard deadline independent of per-sample retries.
func (m *Manager) run(ctx context.Context, id string) {
	r, err := m.get(id)
	if err != nil {
		return
	}
	defer close(r.done)

	deadline := r.startedAt.Add(r.cfg.MaxDuration)
	sampleInterval := r.cfg.StepDuration / time.Duration(r.cfg.AnalysisSamples)
	if sampleInterval <= 0 {
		sampleInterval = time.Second
	}
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.fail(ctx, r, 0, "cancelled")
			return
		case now := <-ticker.C:
			if now.After(deadline) {
				m.fail(ctx, r, m.lastScore(r), "max_duration_seconds exceeded")
				return
			}
			if m.step(ctx, r, now) {
				return
			}
		}
	}
}

func (m *Manager) lastScore(r *rollout) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state.LastHealth != nil {
		return r.state.LastHealth.Score
	}
	return 0
}

// step pulls one health sample, updates the rolling average, and advances
// the phase. It returns true when the rollout has reached a terminal state.
func (m *Manager) step(ctx context.Context, r *rollout, now time.Time) bool {
	r.mu.Lock()
	phase := r.state.Phase
	canaryName := r.canaryName
	namespace := r.namespace
	r.mu.Unlock()

	pods, err := m.driver.ListPods(ctx, canaryName, namespace)
	var score float64
	if err != nil {
		score = math.NaN()
	} else {
		snap := health.Evaluate(r.state.DeploymentID, pods, len(pods), now)
		score = snap.Score
		r.mu.Lock()
		r.state.LastHealth = &snap
		r.mu.Unlock()
	}

	r.mu.Lock()
	if !math.IsNaN(score) {
		r.samples = append(r.samples, score)
	}
	if len(r.samples) > r.cfg.AnalysisSamples {
		r.samples = r.samples[len(r.samples)-r.cfg.AnalysisSamples:]
	}
	stepScore := averageOrZero(r.samples)
	r.state.SamplesAtStep = len(r.samples)
	r.state.UpdatedAt = now
	r.mu.Unlock()

	m.emit(ctx, "canary.health_sampled", r.state.ID, r.state.DeploymentID, stepScore)

	switch phase {
	case domain.CanaryInitializing:
		return m.handleInitializing(ctx, r, stepScore, now)
	case domain.CanaryDeployingCanary:
		return m.handleDeployingCanary(ctx, r, stepScore, now)
	case domain.CanaryAnalyzing:
		return m.handleAnalyzing(ctx, r, stepScore, now)
	case domain.CanaryPromoting:
		return m.handlePromoting(ctx, r)
	}
	return false
}

func averageOrZero(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	sum := 0.0
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

func (m *Manager) handleInitializing(ctx context.Context, r *rollout, score float64, now time.Time) bool {
	r.mu.RLock()
	enough := r.state.SamplesAtStep >= r.cfg.AnalysisSamples
	r.mu.RUnlock()
	if enough && score >= r.cfg.MinHealthScore {
		m.transition(r, domain.CanaryDeployingCanary, now)
		return false
	}
	if enough && score < r.cfg.MinHealthScore {
		m.fail(ctx, r, score, "canary failed initial health gate")
		return true
	}
	return false
}

func (m *Manager) handleDeployingCanary(ctx context.Context, r *rollout, score float64, now time.Time) bool {
	r.mu.RLock()
	elapsed := now.Sub(r.stepStarted) >= r.cfg.StepDuration
	r.mu.RUnlock()
	if elapsed && score >= r.cfg.MinHealthScore {
		m.transition(r, domain.CanaryAnalyzing, now)
		return false
	}
	if elapsed && score < r.cfg.MinHealthScore {
		m.fail(ctx, r, score, "health degraded during deploying_canary")
		return true
	}
	return false
}

func (m *Manager) handleAnalyzing(ctx context.Context, r *rollout, score float64, now time.Time) bool {
	r.mu.RLock()
	pct := r.state.WeightPercent
	r.mu.RUnlock()

	if score < r.cfg.MinHealthScore {
		m.fail(ctx, r, score, "health below minimum during analysis")
		return true
	}
	if pct >= 100 {
		if r.cfg.AutoPromote {
			m.transition(r, domain.CanaryPromoting, now)
			return false
		}
		return false
	}

	newPct := pct + r.cfg.IncrementPercent
	if newPct > 100 {
		newPct = 100
	}
	canaryReplicas := int32(math.Ceil(float64(r.totalReplicas) * float64(newPct) / 100.0))
	stableReplicas := int32(r.totalReplicas) - canaryReplicas
	if stableReplicas < 0 {
		stableReplicas = 0
	}
	if _, err := m.driver.Scale(ctx, r.canaryName, r.namespace, canaryReplicas); err != nil {
		m.log.Warn("canary: scale canary failed", zap.Error(err))
	}
	if _, err := m.driver.Scale(ctx, r.stableName, r.namespace, stableReplicas); err != nil {
		m.log.Warn("canary: scale stable failed", zap.Error(err))
	}

	r.mu.Lock()
	r.state.WeightPercent = int(newPct)
	r.state.Step++
	r.state.History = append(r.state.History, domain.CanaryEvent{At: now, Message: "promoted step to " + percentStr(newPct)})
	r.stepStarted = now
	r.samples = nil
	r.mu.Unlock()
	m.emit(ctx, "canary.step_promoted", r.state.ID, r.state.DeploymentID, score)
	m.transition(r, domain.CanaryDeployingCanary, now)
	return false
}

func (m *Manager) handlePromoting(ctx context.Context, r *rollout) bool {
	r.mu.RLock()
	spec := r.spec
	stableName := r.stableName
	canaryName := r.canaryName
	namespace := r.namespace
	deploymentID := r.state.DeploymentID
	totalReplicas := r.totalReplicas
	r.mu.RUnlock()

	spec.Name = stableName
	spec.Namespace = namespace
	spec.Replicas = int32(totalReplicas)
	if _, err := m.driver.Create(ctx, spec); err != nil {
		m.fail(ctx, r, m.lastScore(r), "promotion create failed: "+err.Error())
		return true
	}
	// Create returns an existing stable unchanged, so the canary image and
	// the full replica count are applied to it explicitly.
	if _, err := m.driver.Update(ctx, stableName, namespace, map[string]interface{}{"image": spec.Image}); err != nil {
		m.fail(ctx, r, m.lastScore(r), "promotion update failed: "+err.Error())
		return true
	}
	if _, err := m.driver.Scale(ctx, stableName, namespace, int32(totalReplicas)); err != nil {
		m.fail(ctx, r, m.lastScore(r), "promotion scale failed: "+err.Error())
		return true
	}
	// Promotion is atomic at the driver level: create-new-then-delete-old.
	// A failure between the two leaves stable intact and the old canary
	// resource orphaned, matching the spec's accepted residue semantics.
	if err := m.driver.Delete(ctx, canaryName, namespace, 30); err != nil {
		m.log.Warn("canary: delete old canary after promotion failed, leaving orphaned resource", zap.String("canary", canaryName))
	}

	r.mu.Lock()
	r.state.Phase = domain.CanaryPromoted
	r.state.WeightPercent = 100
	r.state.UpdatedAt = time.Now()
	r.mu.Unlock()
	m.emit(ctx, "canary.promoted", r.state.ID, deploymentID, m.lastScore(r))
	return true
}

func (m *Manager) fail(ctx context.Context, r *rollout, lastScore float64, cause string) {
	r.mu.RLock()
	canaryName := r.canaryName
	stableName := r.stableName
	namespace := r.namespace
	stableInitial := r.stableInitialReplicas
	deploymentID := r.state.DeploymentID
	r.mu.RUnlock()

	_ = m.driver.Delete(ctx, canaryName, namespace, 0)
	if _, err := m.driver.Scale(ctx, stableName, namespace, int32(stableInitial)); err != nil {
		m.log.Warn("canary: restore stable replicas after failure hit an error", zap.String("stable", stableName))
	}

	r.mu.Lock()
	r.state.Phase = domain.CanaryFailed
	r.state.UpdatedAt = time.Now()
	r.state.History = append(r.state.History, domain.CanaryEvent{At: time.Now(), Message: cause})
	r.mu.Unlock()
	m.events.Publish(ctx, "canary.failed", map[string]interface{}{
		"canary_id": r.state.ID, "deployment_id": deploymentID, "last_score": lastScore, "cause": cause,
	})
}

func (m *Manager) transition(r *rollout, phase domain.CanaryPhase, at time.Time) {
	r.mu.Lock()
	r.state.Phase = phase
	r.state.UpdatedAt = at
	r.mu.Unlock()
}

func percentStr(p int) string {
	return strconv.Itoa(p)
}
