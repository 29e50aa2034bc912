// Copyright 2025 James Ross
package clusterdriver

import "time"

const (
	labelComponent  = "component"
	labelManagedBy  = "managed-by"
	labelWorkloadID = "workload-id"

	componentValue = "workload-controller"
	managedByValue = "this-system"
)

// ResourceSpec describes the Deployment-like resource create/update acts on.
type ResourceSpec struct {
	Name      string
	Namespace string
	WorkloadID string
	Image     string
	Replicas  int32
	Labels    map[string]string
}

// Resource is the Driver's view of a created/updated workload resource.
type Resource struct {
	Name      string
	Namespace string
	Replicas  int32
	Revision  int64
	Labels    map[string]string
}

// ContainerStatus is one container's readiness within a pod snapshot.
type ContainerStatus struct {
	Name          string
	Ready         bool
	WaitingReason string
}

// PodSnapshot is one pod's status as returned by ListPods.
type PodSnapshot struct {
	Name              string
	Phase             string
	Ready             bool
	RestartCount      int32
	CreatedAt         time.Time
	ContainerStatuses []ContainerStatus
}

// WatchEventType enumerates the kinds of events a Watch stream produces.
type WatchEventType string

const (
	WatchAdded    WatchEventType = "ADDED"
	WatchModified WatchEventType = "MODIFIED"
	WatchDeleted  WatchEventType = "DELETED"
)

// WatchEvent is one resource change observed on a Watch stream.
type WatchEvent struct {
	Type     WatchEventType
	Resource Resource
}
