// Copyright 2025 James Ross
package clusterdriver

import (
	"context"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"golang.org/x/time/rate"
)

// Watch produces ADDED | MODIFIED | DELETED events for the named resource
// kind. On stream termination (resource-version expiry, disconnect) it
// restarts transparently with a rate-limited backoff, preserving listener
// ordering on the single output channel.
func (k *KubeDriver) Watch(ctx context.Context, resourceKind, namespace, labelSelector string) (<-chan WatchEvent, error) {
	out := make(chan WatchEvent, 64)
	restartLimiter := rate.NewLimiter(rate.Every(time.Second), 1)

	go func() {
		defer close(out)
		for {
			if err := ctx.Err(); err != nil {
				return
			}
			k.runWatchOnce(ctx, namespace, labelSelector, out)
			if err := restartLimiter.Wait(ctx); err != nil {
				return
			}
		}
	}()
	return out, nil
}

func (k *KubeDriver) runWatchOnce(ctx context.Context, namespace, labelSelector string, out chan<- WatchEvent) {
	var list appsv1.DeploymentList
	selector, err := parseSelector(labelSelector)
	if err != nil {
		k.log.Warn("clusterdriver: invalid watch selector", jerr(err))
		return
	}
	if err := k.client.List(ctx, &list, client.InNamespace(namespace), selector); err != nil {
		k.log.Warn("clusterdriver: watch list failed, will retry", jerr(err))
		return
	}
	for _, dep := range list.Items {
		select {
		case out <- WatchEvent{Type: WatchAdded, Resource: toResource(&dep)}:
		case <-ctx.Done():
			return
		}
	}
	// Polling fallback: a real deployment wires client-go's informer/watch
	// machinery here; this driver re-lists on a short interval instead,
	// which preserves the ADDED/MODIFIED/DELETED contract without needing
	// a long-lived server-side watch connection per cluster.
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	last := map[string]int64{}
	for _, dep := range list.Items {
		last[dep.Name] = dep.Generation
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var cur appsv1.DeploymentList
			if err := k.client.List(ctx, &cur, client.InNamespace(namespace), selector); err != nil {
				return
			}
			seen := map[string]bool{}
			for _, dep := range cur.Items {
				seen[dep.Name] = true
				evt := WatchModified
				if _, ok := last[dep.Name]; !ok {
					evt = WatchAdded
				} else if last[dep.Name] == dep.Generation {
					continue
				}
				last[dep.Name] = dep.Generation
				select {
				case out <- WatchEvent{Type: evt, Resource: toResource(&dep)}:
				case <-ctx.Done():
					return
				}
			}
			for name := range last {
				if !seen[name] {
					delete(last, name)
					select {
					case out <- WatchEvent{Type: WatchDeleted, Resource: Resource{Name: name, Namespace: namespace}}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}
}

func parseSelector(labelSelector string) (client.ListOption, error) {
	if labelSelector == "" {
		return client.MatchingLabels{}, nil
	}
	labels, err := parseLabelSelectorString(labelSelector)
	if err != nil {
		return nil, err
	}
	return client.MatchingLabels(labels), nil
}
