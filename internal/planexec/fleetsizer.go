// Copyright 2025 James Ross
package planexec

import (
	"context"

	"github.com/fleetctl/workload-controller/internal/clusterdriver"
	"github.com/fleetctl/workload-controller/internal/domain"
)

// DriverFleetSizer implements FleetSizer by asking the Cluster Driver for
// the target's current pod count, the default way of computing blast
// radius when no richer fleet inventory is wired in.
type DriverFleetSizer struct {
	Driver    clusterdriver.Driver
	Namespace string
}

func (s DriverFleetSizer) FleetSize(ctx context.Context, target domain.DecisionTarget) (int, error) {
	pods, err := s.Driver.ListPods(ctx, target.WorkloadID, s.Namespace)
	if err != nil {
		return 0, err
	}
	return len(pods), nil
}
