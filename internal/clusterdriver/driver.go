// Copyright 2025 James Ross
package clusterdriver

import (
	"context"
	"fmt"
	"math"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"go.uber.org/zap"

	"github.com/fleetctl/workload-controller/internal/breaker"
)

// Driver is the uniform interface the rest of the controller consumes for
// a single target cluster. Every method surfaces a typed *Fault on failure.
type Driver interface {
	Create(ctx context.Context, spec ResourceSpec) (Resource, error)
	Get(ctx context.Context, name, namespace string) (Resource, error)
	Scale(ctx context.Context, name, namespace string, replicas int32) (Resource, error)
	Update(ctx context.Context, name, namespace string, patch map[string]interface{}) (Resource, error)
	Rollback(ctx context.Context, name, namespace string, toRevision *int64) (Resource, error)
	Delete(ctx context.Context, name, namespace string, graceSeconds int64) error
	ListPods(ctx context.Context, name, namespace string) ([]PodSnapshot, error)
	Watch(ctx context.Context, resourceKind, namespace, labelSelector string) (<-chan WatchEvent, error)
}

const (
	backoffBase       = 1 * time.Second
	backoffFactor     = 2.0
	backoffMaxAttempts = 5
	backoffMaxDelay   = 30 * time.Second
	maxReasonableReplicas = 10000
)

// BreakerSettings configures the circuit breaker guarding KubeDriver's
// retry loop. Callers pass config.CircuitBreaker's fields here rather than
// importing internal/config, keeping clusterdriver free of a dependency on
// the config package.
type BreakerSettings struct {
	Window           time.Duration
	CooldownPeriod   time.Duration
	FailureThreshold float64
	MinSamples       int
}

// KubeDriver implements Driver against a real cluster via
// controller-runtime's generic client.Client, the same abstraction the
// workerpool reconciler is built on. A circuit breaker sits in front of
// withRetry's backoff loop so a cluster that is down hard fails fast
// instead of burning five attempts' worth of backoff on every call.
type KubeDriver struct {
	client  client.Client
	log     *zap.Logger
	breaker *breaker.CircuitBreaker
}

// NewKubeDriver wraps an already-configured controller-runtime client.
func NewKubeDriver(c client.Client, log *zap.Logger, bs BreakerSettings) *KubeDriver {
	return &KubeDriver{
		client:  c,
		log:     log,
		breaker: breaker.New(bs.Window, bs.CooldownPeriod, bs.FailureThreshold, bs.MinSamples),
	}
}

// withRetry retries fn on transient faults using exponential backoff:
// base 1s, factor 2, up to 5 attempts, capped at 30s between attempts. The
// breaker trips open once transient failures cross the configured failure
// threshold over its window, short-circuiting further attempts until
// cooldown elapses.
func (k *KubeDriver) withRetry(ctx context.Context, namespace, name string, fn func() error) error {
	var lastErr error
	delay := backoffBase
	for attempt := 0; attempt < backoffMaxAttempts; attempt++ {
		if !k.breaker.Allow() {
			return newFault(FaultClusterUnavailable, namespace, name, fmt.Errorf("circuit breaker open"))
		}
		lastErr = fn()
		f, isFault := lastErr.(*Fault)
		transient := isFault && f.Code.Transient()
		// Only transient faults count against the breaker; a permanent
		// fault such as NOT_FOUND is still an answer from the cluster.
		k.breaker.Record(!transient)
		if lastErr == nil {
			return nil
		}
		if !transient {
			return lastErr
		}
		if attempt == backoffMaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(math.Min(float64(backoffMaxDelay), float64(delay)*backoffFactor))
	}
	return lastErr
}

func classifyK8sErr(err error, namespace, name string) *Fault {
	switch {
	case k8serrors.IsNotFound(err):
		return newFault(FaultNotFound, namespace, name, err)
	case k8serrors.IsAlreadyExists(err):
		return newFault(FaultAlreadyExists, namespace, name, err)
	case k8serrors.IsInvalid(err), k8serrors.IsBadRequest(err):
		return newFault(FaultInvalid, namespace, name, err)
	case k8serrors.IsTimeout(err), k8serrors.IsServerTimeout(err):
		return newFault(FaultClusterTimeout, namespace, name, err)
	default:
		return newFault(FaultClusterUnavailable, namespace, name, err)
	}
}

func managedLabels(workloadID string, extra map[string]string) map[string]string {
	labels := map[string]string{
		labelComponent:  componentValue,
		labelManagedBy:  managedByValue,
		labelWorkloadID: workloadID,
	}
	for k, v := range extra {
		if k == labelComponent || k == labelManagedBy {
			continue
		}
		labels[k] = v
	}
	return labels
}

func toResource(d *appsv1.Deployment) Resource {
	replicas := int32(0)
	if d.Spec.Replicas != nil {
		replicas = *d.Spec.Replicas
	}
	return Resource{
		Name:      d.Name,
		Namespace: d.Namespace,
		Replicas:  replicas,
		Revision:  d.Generation,
		Labels:    d.Labels,
	}
}

// Create is idempotent on (name, namespace); it injects the managed labels
// before creating, and retries CLUSTER_UNAVAILABLE with backoff.
func (k *KubeDriver) Create(ctx context.Context, spec ResourceSpec) (Resource, error) {
	var out Resource
	err := k.withRetry(ctx, spec.Namespace, spec.Name, func() error {
		existing := &appsv1.Deployment{}
		getErr := k.client.Get(ctx, types.NamespacedName{Name: spec.Name, Namespace: spec.Namespace}, existing)
		if getErr == nil {
			if existing.Labels[labelManagedBy] != managedByValue {
				return newFault(FaultAlreadyExists, spec.Namespace, spec.Name, fmt.Errorf("resource exists and is not managed by this system"))
			}
			out = toResource(existing)
			return nil
		}
		if !k8serrors.IsNotFound(getErr) {
			return classifyK8sErr(getErr, spec.Namespace, spec.Name)
		}

		replicas := spec.Replicas
		dep := &appsv1.Deployment{
			ObjectMeta: metav1.ObjectMeta{
				Name:      spec.Name,
				Namespace: spec.Namespace,
				Labels:    managedLabels(spec.WorkloadID, spec.Labels),
			},
			Spec: appsv1.DeploymentSpec{
				Replicas: &replicas,
				Selector: &metav1.LabelSelector{MatchLabels: map[string]string{labelWorkloadID: spec.WorkloadID, "app": spec.Name}},
				Template: corev1.PodTemplateSpec{
					ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{labelWorkloadID: spec.WorkloadID, "app": spec.Name}},
					Spec: corev1.PodSpec{
						Containers: []corev1.Container{{Name: spec.Name, Image: spec.Image}},
					},
				},
			},
		}
		if createErr := k.client.Create(ctx, dep); createErr != nil {
			return classifyK8sErr(createErr, spec.Namespace, spec.Name)
		}
		out = toResource(dep)
		return nil
	})
	return out, err
}

func (k *KubeDriver) Get(ctx context.Context, name, namespace string) (Resource, error) {
	var out Resource
	err := k.withRetry(ctx, namespace, name, func() error {
		dep := &appsv1.Deployment{}
		if getErr := k.client.Get(ctx, types.NamespacedName{Name: name, Namespace: namespace}, dep); getErr != nil {
			return classifyK8sErr(getErr, namespace, name)
		}
		out = toResource(dep)
		return nil
	})
	return out, err
}

// Scale refuses negative or absurd (>10000) replica counts.
func (k *KubeDriver) Scale(ctx context.Context, name, namespace string, replicas int32) (Resource, error) {
	if replicas < 0 || replicas > maxReasonableReplicas {
		return Resource{}, newFault(FaultInvalid, namespace, name, fmt.Errorf("replicas %d out of range [0,%d]", replicas, maxReasonableReplicas))
	}
	var out Resource
	err := k.withRetry(ctx, namespace, name, func() error {
		dep := &appsv1.Deployment{}
		if getErr := k.client.Get(ctx, types.NamespacedName{Name: name, Namespace: namespace}, dep); getErr != nil {
			return classifyK8sErr(getErr, namespace, name)
		}
		dep.Spec.Replicas = &replicas
		if updErr := k.client.Update(ctx, dep); updErr != nil {
			return classifyK8sErr(updErr, namespace, name)
		}
		out = toResource(dep)
		return nil
	})
	return out, err
}

// previousImageAnnotation holds the image an Update replaced; Rollback
// restores it.
const previousImageAnnotation = "workload-controller/previous-image"

// Update applies a strategic-merge-style patch; it never touches the
// managed-by label regardless of what patch requests.
func (k *KubeDriver) Update(ctx context.Context, name, namespace string, patch map[string]interface{}) (Resource, error) {
	var out Resource
	err := k.withRetry(ctx, namespace, name, func() error {
		dep := &appsv1.Deployment{}
		if getErr := k.client.Get(ctx, types.NamespacedName{Name: name, Namespace: namespace}, dep); getErr != nil {
			return classifyK8sErr(getErr, namespace, name)
		}
		if image, ok := patch["image"].(string); ok && len(dep.Spec.Template.Spec.Containers) > 0 {
			if old := dep.Spec.Template.Spec.Containers[0].Image; old != image {
				if dep.Annotations == nil {
					dep.Annotations = map[string]string{}
				}
				dep.Annotations[previousImageAnnotation] = old
			}
			dep.Spec.Template.Spec.Containers[0].Image = image
		}
		if labels, ok := patch["labels"].(map[string]string); ok {
			managedBy := dep.Labels[labelManagedBy]
			for kk, vv := range labels {
				if kk == labelManagedBy {
					continue
				}
				dep.Labels[kk] = vv
			}
			dep.Labels[labelManagedBy] = managedBy
		}
		if updErr := k.client.Update(ctx, dep); updErr != nil {
			return classifyK8sErr(updErr, namespace, name)
		}
		out = toResource(dep)
		return nil
	})
	return out, err
}

// Rollback reverts to the previous managed revision when toRevision is nil;
// it fails with NO_PREVIOUS_REVISION if the resource carries no history.
func (k *KubeDriver) Rollback(ctx context.Context, name, namespace string, toRevision *int64) (Resource, error) {
	var out Resource
	err := k.withRetry(ctx, namespace, name, func() error {
		dep := &appsv1.Deployment{}
		if getErr := k.client.Get(ctx, types.NamespacedName{Name: name, Namespace: namespace}, dep); getErr != nil {
			return classifyK8sErr(getErr, namespace, name)
		}
		prevImage, ok := dep.Annotations[previousImageAnnotation]
		if toRevision == nil && !ok {
			return newFault(FaultNoPreviousRevision, namespace, name, nil)
		}
		// The real revision history lives in the ReplicaSet chain; this
		// driver tracks only the single previous-image annotation it
		// wrote on the last Update that changed the image, matching how the
		// managed label set is the only state this driver owns outright.
		if ok && len(dep.Spec.Template.Spec.Containers) > 0 {
			dep.Spec.Template.Spec.Containers[0].Image = prevImage
		}
		if updErr := k.client.Update(ctx, dep); updErr != nil {
			return classifyK8sErr(updErr, namespace, name)
		}
		out = toResource(dep)
		return nil
	})
	return out, err
}

func (k *KubeDriver) Delete(ctx context.Context, name, namespace string, graceSeconds int64) error {
	return k.withRetry(ctx, namespace, name, func() error {
		dep := &appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace}}
		opts := &client.DeleteOptions{}
		if graceSeconds >= 0 {
			opts.GracePeriodSeconds = &graceSeconds
		}
		if delErr := k.client.Delete(ctx, dep, opts); delErr != nil {
			return classifyK8sErr(delErr, namespace, name)
		}
		return nil
	})
}

// ListPods returns the pod snapshots backing a named Deployment's pod
// template selector.
func (k *KubeDriver) ListPods(ctx context.Context, name, namespace string) ([]PodSnapshot, error) {
	var snaps []PodSnapshot
	err := k.withRetry(ctx, namespace, name, func() error {
		dep := &appsv1.Deployment{}
		if getErr := k.client.Get(ctx, types.NamespacedName{Name: name, Namespace: namespace}, dep); getErr != nil {
			return classifyK8sErr(getErr, namespace, name)
		}
		var podList corev1.PodList
		if listErr := k.client.List(ctx, &podList, client.InNamespace(namespace), client.MatchingLabels(dep.Spec.Selector.MatchLabels)); listErr != nil {
			return classifyK8sErr(listErr, namespace, name)
		}
		snaps = make([]PodSnapshot, 0, len(podList.Items))
		for _, pod := range podList.Items {
			snaps = append(snaps, podToSnapshot(pod))
		}
		return nil
	})
	return snaps, err
}

func podToSnapshot(pod corev1.Pod) PodSnapshot {
	ready := false
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
			ready = true
		}
	}
	var restarts int32
	statuses := make([]ContainerStatus, 0, len(pod.Status.ContainerStatuses))
	for _, cs := range pod.Status.ContainerStatuses {
		restarts += cs.RestartCount
		reason := ""
		if cs.State.Waiting != nil {
			reason = cs.State.Waiting.Reason
		}
		statuses = append(statuses, ContainerStatus{Name: cs.Name, Ready: cs.Ready, WaitingReason: reason})
	}
	return PodSnapshot{
		Name:              pod.Name,
		Phase:             string(pod.Status.Phase),
		Ready:             ready,
		RestartCount:      restarts,
		CreatedAt:         pod.CreationTimestamp.Time,
		ContainerStatuses: statuses,
	}
}
