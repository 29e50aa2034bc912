// Copyright 2025 James Ross

// Package history archives HealthSnapshot rows to ClickHouse and answers the sla policy rule's long-horizon uptime
// question: what fraction of a deployment's recent health samples were
// in a healthy state. It is optional — a Store is only ever constructed
// when health_history.enabled is set, and the policy ContextFunc it
// backs falls back to a decision's static observed_uptime_7d param when
// no Store is wired.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/fleetctl/workload-controller/internal/domain"
	"github.com/fleetctl/workload-controller/internal/policy"
)

// Config names the ClickHouse sink this Store writes to and the rolling
// window Uptime7d aggregates over.
type Config struct {
	DSN      string
	Database string
	Table    string
	Window   time.Duration
}

// Store archives health snapshots to ClickHouse and serves uptime
// lookups back out of the same table, grounded on the teacher's
// ClickHouseExporter connect/ensureTable/batch-insert shape.
type Store struct {
	db  *sql.DB
	cfg Config
}

// NewStore connects to ClickHouse and ensures the archive table exists.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("health history: dsn is required")
	}
	if cfg.Database == "" {
		cfg.Database = "workload_controller"
	}
	if cfg.Table == "" {
		cfg.Table = "health_snapshots"
	}
	if cfg.Window <= 0 {
		cfg.Window = 7 * 24 * time.Hour
	}

	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{cfg.DSN},
		Auth: clickhouse.Auth{Database: cfg.Database},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		DialTimeout: 10 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("health history: ping clickhouse: %w", err)
	}

	s := &Store{db: conn, cfg: cfg}
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureTable(ctx context.Context) error {
	createSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			deployment_id String,
			score Float64,
			state LowCardinality(String),
			sampled_at DateTime64(3)
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(sampled_at)
		ORDER BY (deployment_id, sampled_at)
		TTL sampled_at + INTERVAL 90 DAY DELETE
	`, s.cfg.Database, s.cfg.Table)
	_, err := s.db.ExecContext(ctx, createSQL)
	if err != nil {
		return fmt.Errorf("health history: ensure table: %w", err)
	}
	return nil
}

// RecordSnapshot archives one health sample for later uptime queries.
func (s *Store) RecordSnapshot(ctx context.Context, snap domain.HealthSnapshot) error {
	insertSQL := fmt.Sprintf(`INSERT INTO %s.%s (deployment_id, score, state, sampled_at) VALUES (?, ?, ?, ?)`,
		s.cfg.Database, s.cfg.Table)
	_, err := s.db.ExecContext(ctx, insertSQL, snap.DeploymentID, snap.Score, string(snap.State), snap.SampledAt)
	if err != nil {
		return fmt.Errorf("health history: insert snapshot: %w", err)
	}
	return nil
}

// Uptime7d returns the fraction of archived samples for deploymentID,
// within the Store's configured window ending at now, that were in the
// healthy state. Returns 1.0 (no evidence of trouble) when no samples
// exist in the window, matching DefaultContextFunc's no-data default.
func (s *Store) Uptime7d(ctx context.Context, deploymentID string, now time.Time) (float64, error) {
	healthy, total, err := s.uptimeCounts(ctx, deploymentID, now)
	if err != nil {
		return 0, err
	}
	return computeUptime(healthy, total), nil
}

// uptimeCounts returns the healthy and total sample counts for
// deploymentID within the Store's window ending at now.
func (s *Store) uptimeCounts(ctx context.Context, deploymentID string, now time.Time) (uint64, uint64, error) {
	since := now.Add(-s.cfg.Window)
	querySQL := fmt.Sprintf(`
		SELECT countIf(state = 'healthy'), count()
		FROM %s.%s
		WHERE deployment_id = ? AND sampled_at >= ?
	`, s.cfg.Database, s.cfg.Table)

	row := s.db.QueryRowContext(ctx, querySQL, deploymentID, since)
	var healthy, total uint64
	if err := row.Scan(&healthy, &total); err != nil {
		return 0, 0, fmt.Errorf("health history: query uptime: %w", err)
	}
	return healthy, total, nil
}

// computeUptime is the pure fraction behind Uptime7d, split out so the
// edge case (no samples yet) is unit-testable without ClickHouse.
func computeUptime(healthy, total uint64) float64 {
	if total == 0 {
		return 1.0
	}
	return float64(healthy) / float64(total)
}

// ContextFunc wraps base with an override that replaces ObservedUptime7d
// with the Store's archived 7-day figure for the decision's target
// workload, when the Store has any samples for it. A query error or an
// empty archive leaves base's result untouched, so a ClickHouse outage
// degrades the sla rule back to the decision's static param rather than
// blocking evaluation.
func (s *Store) ContextFunc(base policy.ContextFunc) policy.ContextFunc {
	return func(d domain.Decision) (policy.EvalContext, error) {
		ctx, err := base(d)
		if err != nil {
			return ctx, err
		}
		if d.Target.WorkloadID == "" {
			return ctx, nil
		}
		healthy, total, err := s.uptimeCounts(context.Background(), d.Target.WorkloadID, time.Now())
		if err != nil || total == 0 {
			return ctx, nil
		}
		ctx.ObservedUptime7d = computeUptime(healthy, total)
		return ctx, nil
	}
}

// Close releases the underlying ClickHouse connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
