// Copyright 2025 James Ross
package eventbus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// compressThreshold is the payload size above which a published event is
// gzipped before publish, grounded on the teacher's payload-compression
// stack (klauspost/compress) applied here to large plan-completion
// payloads carrying many per-decision outcomes.
const compressThreshold = 4096

// Publisher publishes Events to a NATS JetStream subject, staging each one
// in a local Outbox first so a crash between stage and publish does not
// lose the event — it is redelivered by Drain on the next run.
type Publisher struct {
	conn         *nats.Conn
	js           nats.JetStreamContext
	subjectPrefix string
	outbox       *Outbox
	workerID     string
	seq          uint64
	mu           sync.Mutex
	log          *zap.Logger
}

func NewPublisher(natsURL, subjectPrefix, workerID string, outbox *Outbox, log *zap.Logger) (*Publisher, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("eventbus: jetstream context: %w", err)
	}
	return &Publisher{conn: conn, js: js, subjectPrefix: subjectPrefix, outbox: outbox, workerID: workerID, log: log}, nil
}

func (p *Publisher) Close() { p.conn.Close() }

// Publish implements the narrow EventSink surface every other component
// depends on: it assigns a monotonic per-worker sequence number, stages
// the event, and attempts an immediate publish; failures are recovered by
// the next Drain call rather than by retrying inline.
func (p *Publisher) Publish(ctx context.Context, eventType string, payload map[string]interface{}) {
	evt := Event{
		EventType:    eventType,
		TimestampUTC: time.Now().UTC(),
		WorkerID:     p.workerID,
		Sequence:     atomic.AddUint64(&p.seq, 1),
		Payload:      payload,
	}
	id, err := p.outbox.Stage(ctx, evt)
	if err != nil {
		p.log.Warn("eventbus: stage failed, event dropped", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if err := p.publishOne(ctx, evt); err != nil {
		p.log.Warn("eventbus: immediate publish failed, will retry on drain", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if err := p.outbox.MarkPublished(ctx, id); err != nil {
		p.log.Warn("eventbus: mark published failed", zap.Error(err))
	}
}

func (p *Publisher) publishOne(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	body, err = maybeCompress(body)
	if err != nil {
		return err
	}
	subject := p.subjectPrefix + "." + evt.EventType
	_, err = p.js.Publish(subject, body, nats.Context(ctx))
	return err
}

func maybeCompress(body []byte) ([]byte, error) {
	if len(body) < compressThreshold {
		return body, nil
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Drain republishes any outbox rows not yet marked published; callers run
// this periodically (e.g. from the janitor) to recover from transient
// NATS outages.
func (p *Publisher) Drain(ctx context.Context, batch int) (int, error) {
	rows, err := p.outbox.Pending(ctx, batch)
	if err != nil {
		return 0, err
	}
	drained := 0
	for _, row := range rows {
		var evt Event
		if err := json.Unmarshal(row.Payload, &evt); err != nil {
			continue
		}
		if err := p.publishOne(ctx, evt); err != nil {
			continue
		}
		if err := p.outbox.MarkPublished(ctx, row.ID); err != nil {
			continue
		}
		drained++
	}
	return drained, nil
}
