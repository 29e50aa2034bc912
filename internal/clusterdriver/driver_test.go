// Copyright 2025 James Ross
package clusterdriver

import (
	"context"
	"testing"
	"time"

	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"go.uber.org/zap"

	"github.com/fleetctl/workload-controller/internal/breaker"
)

func newTestKubeDriver() *KubeDriver {
	c := fake.NewClientBuilder().WithScheme(scheme.Scheme).Build()
	return NewKubeDriver(c, zap.NewNop(), BreakerSettings{
		Window: time.Minute, CooldownPeriod: time.Hour, FailureThreshold: 0.5, MinSamples: 5,
	})
}

func TestKubeDriverCreateThenGet(t *testing.T) {
	driver := newTestKubeDriver()
	ctx := context.Background()

	out, err := driver.Create(ctx, ResourceSpec{Name: "w1", Namespace: "ns", WorkloadID: "w1", Replicas: 2, Image: "img:1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Replicas != 2 {
		t.Fatalf("expected 2 replicas, got %d", out.Replicas)
	}

	got, err := driver.Get(ctx, "w1", "ns")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "w1" {
		t.Fatalf("expected to get back w1, got %q", got.Name)
	}
}

func TestKubeDriverCreateTwiceIsIdempotent(t *testing.T) {
	driver := newTestKubeDriver()
	ctx := context.Background()
	spec := ResourceSpec{Name: "w1", Namespace: "ns", WorkloadID: "w1", Replicas: 2, Image: "img:1"}

	if _, err := driver.Create(ctx, spec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := driver.Create(ctx, spec)
	if err != nil {
		t.Fatalf("expected a second create on the same managed resource to succeed, got %v", err)
	}
	if out.Name != "w1" {
		t.Fatalf("expected the existing resource back, got %+v", out)
	}
}

func TestKubeDriverGetMissingReturnsNotFound(t *testing.T) {
	driver := newTestKubeDriver()
	_, err := driver.Get(context.Background(), "missing", "ns")
	if code := faultCode(t, err); code != FaultNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", code)
	}
}

func TestKubeDriverScaleRejectsOutOfRangeReplicas(t *testing.T) {
	driver := newTestKubeDriver()
	_, err := driver.Scale(context.Background(), "w1", "ns", -1)
	if code := faultCode(t, err); code != FaultInvalid {
		t.Fatalf("expected INVALID for a negative replica count, got %v", code)
	}
}

func TestKubeDriverScaleBumpsReplicas(t *testing.T) {
	driver := newTestKubeDriver()
	ctx := context.Background()
	if _, err := driver.Create(ctx, ResourceSpec{Name: "w1", Namespace: "ns", WorkloadID: "w1", Replicas: 2, Image: "img:1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := driver.Scale(ctx, "w1", "ns", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Replicas != 7 {
		t.Fatalf("expected 7 replicas after scale, got %d", out.Replicas)
	}
}

func TestKubeDriverDeleteRemovesResource(t *testing.T) {
	driver := newTestKubeDriver()
	ctx := context.Background()
	if _, err := driver.Create(ctx, ResourceSpec{Name: "w1", Namespace: "ns", WorkloadID: "w1", Replicas: 2, Image: "img:1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := driver.Delete(ctx, "w1", "ns", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := driver.Get(ctx, "w1", "ns"); faultCode(t, err) != FaultNotFound {
		t.Fatal("expected the resource to be gone after delete")
	}
}

// TestKubeDriverBreakerStaysClosedOnNonTransientFaults confirms the breaker
// does not trip on permanent faults: NOT_FOUND never counts against it
// since only transient faults are recorded as failures.
func TestKubeDriverBreakerStaysClosedOnNonTransientFaults(t *testing.T) {
	driver := newTestKubeDriver()
	driver.breaker = breaker.New(time.Minute, time.Hour, 0.1, 2)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		driver.Get(ctx, "missing", "ns")
	}
	if driver.breaker.State() != 0 {
		t.Fatal("expected the breaker to remain closed since NOT_FOUND is not a transient fault")
	}
}
