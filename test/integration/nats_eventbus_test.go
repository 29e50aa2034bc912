//go:build integration_tests
// +build integration_tests

// Copyright 2025 James Ross
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/fleetctl/workload-controller/internal/eventbus"
)

// TestNATSPublisherIntegration publishes through a real JetStream-enabled
// NATS container and confirms the event is durably delivered to a
// subscriber, exercising the staged-then-published outbox path end to end.
func TestNATSPublisherIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, url := startNATSContainer(t, ctx)
	defer container.Terminate(ctx)

	stream := setupStream(t, url, "wc-events-int", "wc.events.int.>")

	outbox := openTestOutbox(t)
	pub, err := eventbus.NewPublisher(url, "wc.events.int", "worker-1", outbox, zap.NewNop())
	require.NoError(t, err)
	defer pub.Close()

	sub, err := stream.js.SubscribeSync("wc.events.int.plan.completed")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	pub.Publish(ctx, "plan.completed", map[string]interface{}{"plan_id": "p1"})

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Contains(t, string(msg.Data), "p1")

	pending, err := outbox.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 0, "expected the staged event to be marked published after a successful send")
}

// TestNATSPublisherDrainRecoversFromOutage stages an event directly in the
// outbox (simulating a publish that happened while NATS was unreachable)
// and confirms Drain republishes it once the broker is back.
func TestNATSPublisherDrainRecoversFromOutage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, url := startNATSContainer(t, ctx)
	defer container.Terminate(ctx)

	stream := setupStream(t, url, "wc-events-drain", "wc.events.drain.>")

	outbox := openTestOutbox(t)
	_, err := outbox.Stage(ctx, eventbus.Event{
		EventType:    "decision.dispatched",
		TimestampUTC: time.Now().UTC(),
		WorkerID:     "worker-1",
		Sequence:     1,
		Payload:      map[string]interface{}{"decision_id": "d1"},
	})
	require.NoError(t, err)

	pub, err := eventbus.NewPublisher(url, "wc.events.drain", "worker-1", outbox, zap.NewNop())
	require.NoError(t, err)
	defer pub.Close()

	sub, err := stream.js.SubscribeSync("wc.events.drain.decision.dispatched")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	drained, err := pub.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, drained)

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Contains(t, string(msg.Data), "d1")
}

func openTestOutbox(t *testing.T) *eventbus.Outbox {
	t.Helper()
	outbox, err := eventbus.OpenOutbox(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { outbox.Close() })
	return outbox
}

type natsStream struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

func setupStream(t *testing.T, url, name, subjects string) *natsStream {
	t.Helper()
	conn, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	js, err := conn.JetStream()
	require.NoError(t, err)

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{subjects},
	})
	require.NoError(t, err)

	return &natsStream{conn: conn, js: js}
}

func startNATSContainer(t *testing.T, ctx context.Context) (testcontainers.Container, string) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "nats:2.10-alpine",
		ExposedPorts: []string{"4222/tcp"},
		Cmd:          []string{"-js"},
		WaitingFor:   wait.ForLog("Server is ready"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	return container, "nats://" + endpoint
}
