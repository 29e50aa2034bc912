// Copyright 2025 James Ross
package canary

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/fleetctl/workload-controller/internal/clusterdriver"
	"github.com/fleetctl/workload-controller/internal/domain"
)

func TestCanaryBehavior(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Canary Controller Suite")
}

var _ = Describe("Manager", func() {
	var (
		driver *clusterdriver.FakeDriver
		sink   *fakeEventSink
		mgr    *Manager
		ctx    context.Context
	)

	BeforeEach(func() {
		driver = clusterdriver.NewFakeDriver()
		sink = &fakeEventSink{}
		mgr = NewManager(driver, sink, zap.NewNop())
		ctx = context.Background()
		_, err := driver.Create(ctx, clusterdriver.ResourceSpec{Name: "stable", Namespace: "ns", Replicas: 10})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("StartCanary", func() {
		It("creates a canary resource scaled to the initial percent", func() {
			id, err := mgr.StartCanary(ctx, "dep1", "stable", "ns", 10, clusterdriver.ResourceSpec{Name: "stable", Image: "v2"}, DefaultConfig())
			Expect(err).NotTo(HaveOccurred())

			res, err := driver.Get(ctx, "stable-canary", "ns")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Replicas).To(Equal(int32(1)))

			status, err := mgr.GetCanaryStatus(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.DeploymentID).To(Equal("dep1"))
			Expect(status.Phase).To(Equal(domain.CanaryInitializing))

			mgr.AbortCanary(id, "suite cleanup")
		})

		It("rejects a second concurrent rollout for the same deployment", func() {
			id, err := mgr.StartCanary(ctx, "dep1", "stable", "ns", 10, clusterdriver.ResourceSpec{Name: "stable"}, DefaultConfig())
			Expect(err).NotTo(HaveOccurred())

			_, err = mgr.StartCanary(ctx, "dep1", "stable", "ns", 10, clusterdriver.ResourceSpec{Name: "stable"}, DefaultConfig())
			Expect(err).To(MatchError(ErrAlreadyActive))

			mgr.AbortCanary(id, "suite cleanup")
		})

		It("rejects an invalid config before touching the driver", func() {
			bad := DefaultConfig()
			bad.InitialPercent = 0
			_, err := mgr.StartCanary(ctx, "dep1", "stable", "ns", 10, clusterdriver.ResourceSpec{}, bad)
			Expect(err).To(MatchError(ErrInvalidConfig))
		})
	})

	Describe("ListActive", func() {
		It("excludes rollouts that reached a terminal phase", func() {
			id, err := mgr.StartCanary(ctx, "dep1", "stable", "ns", 10, clusterdriver.ResourceSpec{Name: "stable"}, DefaultConfig())
			Expect(err).NotTo(HaveOccurred())
			Expect(mgr.ListActive()).To(HaveLen(1))

			r, err2 := mgr.get(id)
			Expect(err2).NotTo(HaveOccurred())
			r.mu.Lock()
			r.state.Phase = domain.CanaryPromoted
			r.mu.Unlock()

			Expect(mgr.ListActive()).To(BeEmpty())
		})
	})

	Describe("AbortCanary", func() {
		It("fails for an unknown rollout id", func() {
			Expect(mgr.AbortCanary("nope", "reason")).To(MatchError(ErrNotFound))
		})
	})
})
