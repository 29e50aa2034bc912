// Copyright 2025 James Ross
package clusterdriver

import (
	"context"
	"sync"
)

// FakeDriver is an in-memory Driver used by Health Evaluator, Policy
// Engine, Canary and Rollback controller tests so they don't need a live
// cluster. It mirrors the managed-label and replica-bound rules the real
// KubeDriver enforces.
type FakeDriver struct {
	mu        sync.Mutex
	resources map[string]Resource
	pods      map[string][]PodSnapshot
	events    chan WatchEvent
}

func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		resources: map[string]Resource{},
		pods:      map[string][]PodSnapshot{},
		events:    make(chan WatchEvent, 256),
	}
}

func key(namespace, name string) string { return namespace + "/" + name }

func (f *FakeDriver) Create(ctx context.Context, spec ResourceSpec) (Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(spec.Namespace, spec.Name)
	if existing, ok := f.resources[k]; ok {
		if existing.Labels[labelManagedBy] != managedByValue {
			return Resource{}, newFault(FaultAlreadyExists, spec.Namespace, spec.Name, nil)
		}
		return existing, nil
	}
	res := Resource{Name: spec.Name, Namespace: spec.Namespace, Replicas: spec.Replicas, Revision: 1, Labels: managedLabels(spec.WorkloadID, spec.Labels)}
	f.resources[k] = res
	f.events <- WatchEvent{Type: WatchAdded, Resource: res}
	return res, nil
}

func (f *FakeDriver) Get(ctx context.Context, name, namespace string) (Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.resources[key(namespace, name)]
	if !ok {
		return Resource{}, newFault(FaultNotFound, namespace, name, nil)
	}
	return res, nil
}

func (f *FakeDriver) Scale(ctx context.Context, name, namespace string, replicas int32) (Resource, error) {
	if replicas < 0 || replicas > maxReasonableReplicas {
		return Resource{}, newFault(FaultInvalid, namespace, name, nil)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(namespace, name)
	res, ok := f.resources[k]
	if !ok {
		return Resource{}, newFault(FaultNotFound, namespace, name, nil)
	}
	res.Replicas = replicas
	res.Revision++
	f.resources[k] = res
	f.events <- WatchEvent{Type: WatchModified, Resource: res}
	return res, nil
}

func (f *FakeDriver) Update(ctx context.Context, name, namespace string, patch map[string]interface{}) (Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(namespace, name)
	res, ok := f.resources[k]
	if !ok {
		return Resource{}, newFault(FaultNotFound, namespace, name, nil)
	}
	res.Revision++
	f.resources[k] = res
	f.events <- WatchEvent{Type: WatchModified, Resource: res}
	return res, nil
}

func (f *FakeDriver) Rollback(ctx context.Context, name, namespace string, toRevision *int64) (Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(namespace, name)
	res, ok := f.resources[k]
	if !ok {
		return Resource{}, newFault(FaultNotFound, namespace, name, nil)
	}
	if res.Revision <= 1 && toRevision == nil {
		return Resource{}, newFault(FaultNoPreviousRevision, namespace, name, nil)
	}
	res.Revision++
	f.resources[k] = res
	return res, nil
}

func (f *FakeDriver) Delete(ctx context.Context, name, namespace string, graceSeconds int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(namespace, name)
	res, ok := f.resources[k]
	if !ok {
		return newFault(FaultNotFound, namespace, name, nil)
	}
	delete(f.resources, k)
	delete(f.pods, k)
	f.events <- WatchEvent{Type: WatchDeleted, Resource: res}
	return nil
}

func (f *FakeDriver) ListPods(ctx context.Context, name, namespace string) ([]PodSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.resources[key(namespace, name)]; !ok {
		return nil, newFault(FaultNotFound, namespace, name, nil)
	}
	return append([]PodSnapshot(nil), f.pods[key(namespace, name)]...), nil
}

// SetPods lets tests seed pod snapshots for a given resource.
func (f *FakeDriver) SetPods(name, namespace string, pods []PodSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pods[key(namespace, name)] = pods
}

func (f *FakeDriver) Watch(ctx context.Context, resourceKind, namespace, labelSelector string) (<-chan WatchEvent, error) {
	return f.events, nil
}
