// Copyright 2025 James Ross

// Package rollback implements the Rollback Controller (C6): a single
// long-running loop over monitored deployments, grounded on the teacher's
// monitorDeployments/checkActiveDeployments loop shape in
// internal/canary-deployments/canary-deployments.go.
package rollback

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fleetctl/workload-controller/internal/clusterdriver"
	"github.com/fleetctl/workload-controller/internal/domain"
	"github.com/fleetctl/workload-controller/internal/health"
)

var ErrNotFound = errors.New("rollback: deployment not monitored")

// Config is one deployment's monitoring policy.
type Config struct {
	MinHealthScore          float64
	CheckInterval           time.Duration
	ConsecutiveBadThreshold int
	Cooldown                time.Duration
	TargetRevision          *int64
}

func DefaultConfig() Config {
	return Config{
		MinHealthScore:          0.70,
		CheckInterval:           30 * time.Second,
		ConsecutiveBadThreshold: 3,
		Cooldown:                300 * time.Second,
	}
}

type monitored struct {
	mu           sync.Mutex
	deploymentID string
	resourceName string
	namespace    string
	declaredReplicas int
	cfg          Config
	record       domain.RollbackRecord
	unregistered bool
}

// EventSink is the narrow event-bus surface this controller needs.
type EventSink interface {
	Publish(ctx context.Context, eventType string, payload map[string]interface{})
}

// SnapshotRecorder archives a HealthSnapshot for later uptime queries
// (e.g. history.Store). Optional — a nil recorder just skips archival.
type SnapshotRecorder interface {
	RecordSnapshot(ctx context.Context, snap domain.HealthSnapshot) error
}

// Controller runs one monitor loop per cluster, as required by §5's
// concurrency model ("one Rollback Controller loop per managed cluster").
type Controller struct {
	mu       sync.RWMutex
	items    map[string]*monitored
	driver   clusterdriver.Driver
	events   EventSink
	history  SnapshotRecorder
	log      *zap.Logger
}

func NewController(driver clusterdriver.Driver, events EventSink, log *zap.Logger) *Controller {
	return &Controller{items: map[string]*monitored{}, driver: driver, events: events, log: log}
}

// WithHistory attaches a SnapshotRecorder that every checkOne tick archives
// its HealthSnapshot to. Returns c for chaining at construction time.
func (c *Controller) WithHistory(h SnapshotRecorder) *Controller {
	c.history = h
	return c
}

// Register starts monitoring deploymentID. Re-registering replaces the
// existing config.
func (c *Controller) Register(deploymentID, resourceName, namespace string, declaredReplicas int, cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[deploymentID] = &monitored{
		deploymentID: deploymentID, resourceName: resourceName, namespace: namespace,
		declaredReplicas: declaredReplicas, cfg: cfg,
		record: domain.RollbackRecord{ID: "rollback_" + deploymentID, DeploymentID: deploymentID},
	}
}

// Unregister stops monitoring deploymentID. The controller never calls it
// itself; a deployment stays monitored until a caller unregisters it.
func (c *Controller) Unregister(deploymentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, deploymentID)
}

// Run drives the monitor loop until ctx is cancelled. It is safe to call
// once per Controller instance; ticks are driven by the fastest-configured
// check interval and every monitored deployment is checked on its own
// cadence tracked internally.
func (c *Controller) Run(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	lastChecked := map[string]time.Time{}
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.checkAll(ctx, now, lastChecked)
		}
	}
}

func (c *Controller) checkAll(ctx context.Context, now time.Time, lastChecked map[string]time.Time) {
	c.mu.RLock()
	items := make([]*monitored, 0, len(c.items))
	for _, m := range c.items {
		items = append(items, m)
	}
	c.mu.RUnlock()

	for _, m := range items {
		last, ok := lastChecked[m.deploymentID]
		if ok && now.Sub(last) < m.cfg.CheckInterval {
			continue
		}
		lastChecked[m.deploymentID] = now
		// The rollback loop never holds a lock across a driver call.
		c.checkOne(ctx, m, now)
	}
}

func (c *Controller) checkOne(ctx context.Context, m *monitored, now time.Time) {
	pods, err := c.driver.ListPods(ctx, m.resourceName, m.namespace)
	if err != nil {
		c.log.Warn("rollback: list pods failed, will retry next interval", zap.String("deployment", m.deploymentID), zap.Error(err))
		return
	}
	snap := health.Evaluate(m.deploymentID, pods, m.declaredReplicas, now)
	if c.history != nil {
		if err := c.history.RecordSnapshot(ctx, snap); err != nil {
			c.log.Warn("rollback: archive health snapshot failed", zap.String("deployment", m.deploymentID), zap.Error(err))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.record.CooldownUntil != nil && now.Before(*m.record.CooldownUntil) {
		return
	}

	if snap.Score < m.cfg.MinHealthScore {
		m.record.ConsecutiveBad++
	} else {
		m.record.ConsecutiveBad = 0
	}

	if m.record.ConsecutiveBad >= m.cfg.ConsecutiveBadThreshold {
		c.triggerRollback(ctx, m, now)
	}
}

// triggerRollback assumes m.mu is already held.
func (c *Controller) triggerRollback(ctx context.Context, m *monitored, now time.Time) {
	_, err := c.driver.Rollback(ctx, m.resourceName, m.namespace, m.cfg.TargetRevision)
	triggered := now
	m.record.LastTriggered = &triggered
	cooldownUntil := now.Add(m.cfg.Cooldown)
	m.record.CooldownUntil = &cooldownUntil
	m.record.ConsecutiveBad = 0

	if err != nil {
		c.log.Warn("rollback: driver.rollback failed", zap.String("deployment", m.deploymentID), zap.Error(err))
	}
	c.events.Publish(ctx, "deployment.rollback_triggered", map[string]interface{}{
		"deployment_id": m.deploymentID, "error": errString(err),
	})
	if err == nil {
		c.events.Publish(ctx, "deployment.rolled_back", map[string]interface{}{"deployment_id": m.deploymentID})
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ListRecords returns a snapshot of every monitored deployment's rollback
// record, for operator-facing status endpoints.
func (c *Controller) ListRecords() []domain.RollbackRecord {
	c.mu.RLock()
	items := make([]*monitored, 0, len(c.items))
	for _, m := range c.items {
		items = append(items, m)
	}
	c.mu.RUnlock()

	out := make([]domain.RollbackRecord, 0, len(items))
	for _, m := range items {
		m.mu.Lock()
		out = append(out, m.record)
		m.mu.Unlock()
	}
	return out
}

// TriggerRollback implements the §6 TriggerRollback operation: an
// explicit, on-demand rollback outside the periodic check.
func (c *Controller) TriggerRollback(ctx context.Context, deploymentID, reason string, toRevision *int64) (domain.RollbackRecord, error) {
	c.mu.RLock()
	m, ok := c.items[deploymentID]
	c.mu.RUnlock()
	if !ok {
		return domain.RollbackRecord{}, ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if toRevision != nil {
		m.cfg.TargetRevision = toRevision
	}
	c.triggerRollback(ctx, m, time.Now())
	return m.record, nil
}
