// Copyright 2025 James Ross
package canary

import (
	"context"
	"sync"
)

type fakeEventSink struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEventSink) Publish(ctx context.Context, eventType string, payload map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

func (f *fakeEventSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}
