// Copyright 2025 James Ross
package canary

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetctl/workload-controller/internal/clusterdriver"
	"github.com/fleetctl/workload-controller/internal/domain"
)

// EventSink is the minimal surface the Canary Controller needs from the
// event bus; kept narrow so this package doesn't import internal/eventbus
// directly and create a dependency cycle.
type EventSink interface {
	Publish(ctx context.Context, eventType string, payload map[string]interface{})
}

type rollout struct {
	mu      sync.RWMutex
	state   domain.CanaryState
	cfg     Config
	spec    clusterdriver.ResourceSpec
	stableName string
	canaryName string
	namespace  string
	totalReplicas int
	stableInitialReplicas int
	samples []float64
	stepStarted time.Time
	startedAt   time.Time
	cancel      context.CancelFunc
	done        chan struct{}
}

// Manager drives every active canary rollout, one goroutine per rollout,
// matching the teacher's per-deployment monitor loop shape.
type Manager struct {
	mu       sync.RWMutex
	rollouts map[string]*rollout
	driver   clusterdriver.Driver
	events   EventSink
	log      *zap.Logger
}

func NewManager(driver clusterdriver.Driver, events EventSink, log *zap.Logger) *Manager {
	return &Manager{rollouts: map[string]*rollout{}, driver: driver, events: events, log: log}
}

// StartCanary begins a progressive rollout of newSpec against the
// deployment's current stable resource, per §4.5's state machine.
func (m *Manager) StartCanary(ctx context.Context, deploymentID string, stableName, namespace string, totalReplicas int, newSpec clusterdriver.ResourceSpec, cfg Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	m.mu.Lock()
	for _, r := range m.rollouts {
		r.mu.RLock()
		active := r.state.DeploymentID == deploymentID && r.state.Phase != domain.CanaryPromoted && r.state.Phase != domain.CanaryFailed
		r.mu.RUnlock()
		if active {
			m.mu.Unlock()
			return "", ErrAlreadyActive
		}
	}
	m.mu.Unlock()

	id := "canary_" + uuid.New().String()
	now := time.Now()
	rctx, cancel := context.WithCancel(ctx)
	r := &rollout{
		state: domain.CanaryState{
			ID: id, DeploymentID: deploymentID, Phase: domain.CanaryInitializing,
			WeightPercent: cfg.InitialPercent, StartedAt: now, UpdatedAt: now,
		},
		cfg: cfg, spec: newSpec, stableName: stableName, canaryName: stableName + "-canary",
		namespace: namespace, totalReplicas: totalReplicas, stableInitialReplicas: totalReplicas,
		stepStarted: now, startedAt: now, cancel: cancel, done: make(chan struct{}),
	}

	canaryReplicas := int(math.Ceil(float64(totalReplicas) * float64(cfg.InitialPercent) / 100.0))
	createSpec := newSpec
	createSpec.Name = r.canaryName
	createSpec.Namespace = namespace
	createSpec.Replicas = int32(canaryReplicas)
	if _, err := m.driver.Create(rctx, createSpec); err != nil {
		cancel()
		return "", fmt.Errorf("canary: create canary resource: %w", err)
	}

	m.mu.Lock()
	m.rollouts[id] = r
	m.mu.Unlock()

	m.emit(rctx, "canary.started", id, deploymentID, 0)
	go m.run(rctx, id)
	return id, nil
}

func (m *Manager) get(id string) (*rollout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rollouts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// GetCanaryStatus returns a read-only snapshot; CanaryState is owned by
// its controller instance and only ever externally observed by copy.
func (m *Manager) GetCanaryStatus(id string) (domain.CanaryState, error) {
	r, err := m.get(id)
	if err != nil {
		return domain.CanaryState{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state, nil
}

// AbortCanary cancels an in-flight rollout with the given reason.
func (m *Manager) AbortCanary(id, reason string) error {
	r, err := m.get(id)
	if err != nil {
		return err
	}
	r.mu.RLock()
	terminal := r.state.Phase == domain.CanaryPromoted || r.state.Phase == domain.CanaryFailed
	r.mu.RUnlock()
	if terminal {
		return ErrAlreadyTerminal
	}
	r.mu.Lock()
	r.state.History = append(r.state.History, domain.CanaryEvent{At: time.Now(), Message: "manual abort: " + reason})
	r.mu.Unlock()
	r.cancel()
	return nil
}

// ListActive returns a snapshot of every rollout still in flight, for
// operator-facing status endpoints.
func (m *Manager) ListActive() []domain.CanaryState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.CanaryState, 0, len(m.rollouts))
	for _, r := range m.rollouts {
		r.mu.RLock()
		if r.state.Phase != domain.CanaryPromoted && r.state.Phase != domain.CanaryFailed {
			out = append(out, r.state)
		}
		r.mu.RUnlock()
	}
	return out
}

func (m *Manager) emit(ctx context.Context, eventType, canaryID, deploymentID string, score float64) {
	if m.events == nil {
		return
	}
	m.events.Publish(ctx, eventType, map[string]interface{}{
		"canary_id": canaryID, "deployment_id": deploymentID, "score": score,
	})
}
