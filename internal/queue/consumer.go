package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/joeycumines/ctf-arena/internal/apperror"
	"github.com/joeycumines/ctf-arena/internal/model"
)

// Message wraps a pulled job with its delivery metadata, letting workers
// distinguish a first delivery from a redelivery (spec.md §4.3: "a
// redelivered job MAY find its metadata already in a terminal state —
// workers MUST treat this as already completed, ack and skip").
type Message[Job any] struct {
	Job      Job
	Redelivered bool
	raw      *nats.Msg
}

// Ack acknowledges successful (or deterministically-failed-and-handled)
// processing, removing the message from the work queue per spec.md §4.3
// ("a message is removed on explicit ack and only on explicit ack").
func (m *Message[Job]) Ack() error {
	return m.raw.Ack()
}

// Nak signals a transient failure, making the message eligible for
// redelivery up to max_deliver (3).
func (m *Message[Job]) Nak() error {
	return m.raw.Nak()
}

// CompileConsumer is a pull-based subscription over the compile stream,
// prefetch=1 per spec.md §5 ("within one replica, jobs are processed
// strictly one at a time").
type CompileConsumer struct {
	sub *nats.Subscription
}

// NewCompileConsumer binds a durable pull consumer to the compiles
// stream. ackWait should be compile_timeout + 60s (spec.md §4.3).
func (q *Queue) NewCompileConsumer(ackWait time.Duration) (*CompileConsumer, error) {
	sub, err := q.js.PullSubscribe(compileSubject, compileConsumerName, nats.AckWait(ackWait), nats.MaxDeliver(3))
	if err != nil {
		return nil, fmt.Errorf(`queue: pull subscribe compiles: %w`, err)
	}
	return &CompileConsumer{sub: sub}, nil
}

// Fetch blocks until a compile job is available or ctx is done.
func (c *CompileConsumer) Fetch(ctx context.Context) (*Message[model.CompileJob], error) {
	msgs, err := c.sub.Fetch(1, nats.Context(ctx))
	if err != nil {
		return nil, err
	}
	raw := msgs[0]

	var job model.CompileJob
	if err := json.Unmarshal(raw.Data, &job); err != nil {
		_ = raw.Ack() // poison message: never deterministically parseable, ack to avoid redelivery storm
		return nil, apperror.Wrap(apperror.KindInternal, `unmarshal compile job`, err)
	}

	meta, err := raw.Metadata()
	redelivered := err == nil && meta.NumDelivered > 1

	return &Message[model.CompileJob]{Job: job, Redelivered: redelivered, raw: raw}, nil
}

// ExecuteConsumer is the execute-stream analogue of CompileConsumer.
type ExecuteConsumer struct {
	sub *nats.Subscription
}

// NewExecuteConsumer binds a durable pull consumer to the executes
// stream. ackWait should be exec_timeout + 30s (spec.md §4.3).
func (q *Queue) NewExecuteConsumer(ackWait time.Duration) (*ExecuteConsumer, error) {
	sub, err := q.js.PullSubscribe(executeSubject, executeConsumerName, nats.AckWait(ackWait), nats.MaxDeliver(3))
	if err != nil {
		return nil, fmt.Errorf(`queue: pull subscribe executes: %w`, err)
	}
	return &ExecuteConsumer{sub: sub}, nil
}

// Fetch blocks until an execute job is available or ctx is done.
func (c *ExecuteConsumer) Fetch(ctx context.Context) (*Message[model.ExecuteJob], error) {
	msgs, err := c.sub.Fetch(1, nats.Context(ctx))
	if err != nil {
		return nil, err
	}
	raw := msgs[0]

	var job model.ExecuteJob
	if err := json.Unmarshal(raw.Data, &job); err != nil {
		_ = raw.Ack()
		return nil, apperror.Wrap(apperror.KindInternal, `unmarshal execute job`, err)
	}

	meta, err := raw.Metadata()
	redelivered := err == nil && meta.NumDelivered > 1

	return &Message[model.ExecuteJob]{Job: job, Redelivered: redelivered, raw: raw}, nil
}
