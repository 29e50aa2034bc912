// Copyright 2025 James Ross
package policy

import "github.com/fleetctl/workload-controller/internal/domain"

// ResourceShape is the post-state resource shape a decision implies,
// enough to price a cost_ceiling rule and aggregate a quota rule. The
// source's free-form decision.params dict is modeled here as one typed
// struct per concern rather than per verb, since pricing/quota care only
// about the resulting shape, not which verb produced it.
type ResourceShape struct {
	Replicas int
	CPUCores float64
	MemGB    float64
	GPUCount int
	GPUSKU   string
}

// EvalContext carries everything a rule evaluation needs beyond the
// decision and policy rule themselves: the resource shape it implies, the
// scope aggregate for quota rules, observed uptime/latency for sla/slo,
// and the wall-clock to evaluate change_freeze and rate_limit against.
type EvalContext struct {
	Shape            ResourceShape
	ScopeReplicas    int
	ScopeCPUCores    float64
	ScopeMemoryBytes int64
	ScopeGPUCount    int
	ObservedUptime7d float64
	LatencyP95Ms     float64
	SuccessRate      float64
	IsScaleDown      bool
}

// DefaultContextFunc builds an EvalContext from a decision's free-form
// Params map, the shape every caller gets unless it supplies a richer
// ContextFunc backed by live fleet inventory.
func DefaultContextFunc(d domain.Decision) (EvalContext, error) {
	replicas := int(paramFloat(d.Params, "replicas", 0))
	return EvalContext{
		Shape: ResourceShape{
			Replicas: replicas,
			CPUCores: paramFloat(d.Params, "cpu_cores", 0),
			MemGB:    paramFloat(d.Params, "mem_gb", 0),
			GPUCount: int(paramFloat(d.Params, "gpu_count", 0)),
			GPUSKU:   paramString(d.Params, "gpu_sku"),
		},
		ScopeReplicas:    int(paramFloat(d.Params, "scope_replicas", float64(replicas))),
		ScopeCPUCores:    paramFloat(d.Params, "scope_cpu_cores", 0),
		ScopeMemoryBytes: int64(paramFloat(d.Params, "scope_memory_bytes", 0)),
		ScopeGPUCount:    int(paramFloat(d.Params, "scope_gpu_count", 0)),
		ObservedUptime7d: paramFloat(d.Params, "observed_uptime_7d", 1),
		LatencyP95Ms:     paramFloat(d.Params, "latency_p95_ms", 0),
		SuccessRate:      paramFloat(d.Params, "success_rate", 1),
		IsScaleDown:      paramFloat(d.Params, "replicas_delta", 0) < 0,
	}, nil
}

func paramString(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return s
}
