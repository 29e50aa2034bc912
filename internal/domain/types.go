// Copyright 2025 James Ross
package domain

import "time"

// Workload identifies a single ML workload (a training job, an inference
// service, or a batch pipeline) tracked by the controller.
type Workload struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Kind        WorkloadKind      `json:"kind"`
	ClusterID   string            `json:"cluster_id"`
	Namespace   string            `json:"namespace"`
	Labels      map[string]string `json:"labels,omitempty"`
	DesiredSize int               `json:"desired_size"`
	CreatedAt   time.Time         `json:"created_at"`
}

// WorkloadKind distinguishes the orchestration shape of a Workload.
type WorkloadKind string

const (
	WorkloadKindTraining  WorkloadKind = "training"
	WorkloadKindInference WorkloadKind = "inference"
	WorkloadKindBatch     WorkloadKind = "batch"
)

// Cluster identifies one container-orchestrated cluster the controller
// drives workloads on.
type Cluster struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Region   string            `json:"region"`
	Labels   map[string]string `json:"labels,omitempty"`
	Disabled bool              `json:"disabled"`
}

// Deployment is a concrete rollout of a Workload onto a Cluster: the unit
// the Cluster Driver creates, scales, updates and rolls back.
type Deployment struct {
	ID         string            `json:"id"`
	WorkloadID string            `json:"workload_id"`
	ClusterID  string            `json:"cluster_id"`
	Image      string            `json:"image"`
	Replicas   int               `json:"replicas"`
	Labels     map[string]string `json:"labels,omitempty"`
	Revision   int               `json:"revision"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// HealthState is the coarse classification the Health Evaluator assigns a
// Deployment based on its weighted composite score.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
	HealthUnknown   HealthState = "unknown"
)

// HealthSnapshot is the Health Evaluator's pure-function output for one
// Deployment at one instant.
type HealthSnapshot struct {
	DeploymentID    string      `json:"deployment_id"`
	Score           float64     `json:"score"`
	State           HealthState `json:"state"`
	ReadyFraction   float64     `json:"ready_fraction"`
	RestartPenalty  float64     `json:"restart_penalty"`
	BadStateFraction float64    `json:"bad_state_fraction"`
	SampledAt       time.Time   `json:"sampled_at"`
}

// PolicyMode controls whether a rule's rejection actually blocks a Decision.
type PolicyMode string

const (
	PolicyModeEnforce PolicyMode = "enforce"
	PolicyModeDryRun  PolicyMode = "dry_run"
	PolicyModeShadow  PolicyMode = "shadow"
)

// RuleKind enumerates the policy rule evaluators the Policy Engine supports.
type RuleKind string

const (
	RuleKindCostCeiling  RuleKind = "cost_ceiling"
	RuleKindQuota        RuleKind = "quota"
	RuleKindSLA          RuleKind = "sla"
	RuleKindSLO          RuleKind = "slo"
	RuleKindRateLimit    RuleKind = "rate_limit"
	RuleKindChangeFreeze RuleKind = "change_freeze"
)

// PolicyRule is one prioritized, selector-scoped admission rule.
type PolicyRule struct {
	ID       string                 `json:"id"`
	Kind     RuleKind               `json:"kind"`
	Priority int                    `json:"priority"`
	Selector string                 `json:"selector"`
	Mode     PolicyMode             `json:"mode"`
	Params   map[string]interface{} `json:"params,omitempty"`
}

// Policy is an ordered, named collection of PolicyRules. Its change history
// is not stored here; policy.Engine keeps it.
type Policy struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Rules     []PolicyRule `json:"rules"`
	Enabled   bool         `json:"enabled"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// DecisionVerb is the action an ActionPlan step proposes to take.
type DecisionVerb string

const (
	VerbScale    DecisionVerb = "scale"
	VerbDeploy   DecisionVerb = "deploy"
	VerbDrain    DecisionVerb = "drain"
	VerbRestart  DecisionVerb = "restart"
	VerbRollback DecisionVerb = "rollback"
	VerbDelete   DecisionVerb = "delete"
)

// DecisionOutcome is the Policy Engine's verdict for a Decision.
type DecisionOutcome string

const (
	OutcomeAllow DecisionOutcome = "allow"
	OutcomeDeny  DecisionOutcome = "deny"
)

// DecisionTarget names the entity a Decision acts on, flattened for
// selector matching (see internal/policy).
type DecisionTarget struct {
	WorkloadID string            `json:"workload_id"`
	ClusterID  string            `json:"cluster_id"`
	Labels     map[string]string `json:"labels,omitempty"`
}

// Decision is one proposed action evaluated by the Policy Engine before
// the Plan Executor may dispatch it.
type Decision struct {
	ID         string                 `json:"id"`
	PlanID     string                 `json:"plan_id"`
	Verb       DecisionVerb           `json:"verb"`
	Target     DecisionTarget         `json:"target"`
	Params     map[string]interface{} `json:"params,omitempty"`
	Outcome    DecisionOutcome        `json:"outcome,omitempty"`
	DeniedBy   string                 `json:"denied_by,omitempty"`
	MatchedIDs []string               `json:"matched_rule_ids,omitempty"`
}

// ActionPlanStatus tracks an ActionPlan across its dispatch lifecycle.
type ActionPlanStatus string

const (
	PlanStatusPending   ActionPlanStatus = "pending"
	PlanStatusExecuting ActionPlanStatus = "executing"
	PlanStatusCompleted ActionPlanStatus = "completed"
	PlanStatusFailed    ActionPlanStatus = "failed"
	PlanStatusRejected  ActionPlanStatus = "rejected"
)

// ActionPlan is a submitted batch of Decisions the Plan Executor dispatches
// under policy gating, blast-radius checks and approval gates.
type ActionPlan struct {
	ID          string           `json:"id"`
	Source      string           `json:"source"`
	Decisions   []Decision       `json:"decisions"`
	Status      ActionPlanStatus `json:"status"`
	RequiresApproval bool        `json:"requires_approval"`
	Approved    bool             `json:"approved"`
	SubmittedAt time.Time        `json:"submitted_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// RateWindow is the per-key sliding-window rate limiter's bookkeeping state.
type RateWindow struct {
	Key       string    `json:"key"`
	Count     int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
}

// CanaryPhase is the progressive-rollout state machine's current stage.
type CanaryPhase string

const (
	CanaryInitializing   CanaryPhase = "initializing"
	CanaryDeployingCanary CanaryPhase = "deploying_canary"
	CanaryAnalyzing      CanaryPhase = "analyzing"
	CanaryPromoting      CanaryPhase = "promoting"
	CanaryPromoted       CanaryPhase = "promoted"
	CanaryFailed         CanaryPhase = "failed"
)

// CanaryState tracks one progressive rollout of a Deployment.
type CanaryState struct {
	ID             string      `json:"id"`
	DeploymentID   string      `json:"deployment_id"`
	Phase          CanaryPhase `json:"phase"`
	WeightPercent  int         `json:"weight_percent"`
	Step           int         `json:"step"`
	LastHealth     *HealthSnapshot `json:"last_health,omitempty"`
	SamplesAtStep  int         `json:"samples_at_step"`
	StartedAt      time.Time   `json:"started_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	History        []CanaryEvent `json:"history,omitempty"`
}

// CanaryEvent is one transition or analysis sample recorded against a
// CanaryState's history.
type CanaryEvent struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// RollbackRecord tracks a Deployment registered for continuous health
// monitoring by the Rollback Controller.
type RollbackRecord struct {
	ID             string    `json:"id"`
	DeploymentID   string    `json:"deployment_id"`
	ConsecutiveBad int       `json:"consecutive_bad"`
	LastTriggered  *time.Time `json:"last_triggered,omitempty"`
	CooldownUntil  *time.Time `json:"cooldown_until,omitempty"`
}
