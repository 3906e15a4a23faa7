package connector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/streamhub-io/pubsub-source/broker"
	"github.com/streamhub-io/pubsub-source/dedupe"
	"github.com/streamhub-io/pubsub-source/errors"
	"github.com/streamhub-io/pubsub-source/internal/worker"
)

// receiver gates inbound deliveries on the pause state. Backpressure is a
// hybrid of the two possible mechanisms: while paused, up to PauseBuffer
// messages are held locally, and anything beyond that is nacked so the
// broker withholds and throttles redelivery. Either way no payload is
// dropped. The gate and the buffer share one mutex, so a delivery observed
// as paused is buffered before any concurrent resume can drain past it.
type receiver struct {
	subscription string
	sink         Sink
	hooks        Hooks
	logger       Logger
	seen         *dedupe.Cache

	pool   *worker.Pool
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	paused  bool
	stopped bool
	buf     []*broker.Message
	bufCap  int

	received atomic.Int64
	acked    atomic.Int64
	nacked   atomic.Int64

	drains sync.WaitGroup
}

func newReceiver(cfg ReceiverConfig, subscription string, sink Sink, hooks Hooks, logger Logger, seen *dedupe.Cache) *receiver {
	ctx, cancel := context.WithCancel(context.Background())
	return &receiver{
		subscription: subscription,
		sink:         sink,
		hooks:        hooks,
		logger:       logger,
		seen:         seen,
		pool:         worker.New(cfg.DrainWorkers, cfg.PauseBuffer),
		ctx:          ctx,
		cancel:       cancel,
		bufCap:       cfg.PauseBuffer,
	}
}

// handle is the broker callback. It runs on SDK-managed goroutines,
// concurrently across in-flight messages, and never blocks on pause state.
func (r *receiver) handle(ctx context.Context, msg *broker.Message) {
	if msg == nil {
		return
	}
	r.received.Add(1)
	d := deliveryOf(msg)
	if r.hooks.OnReceive != nil {
		r.hooks.OnReceive(ctx, r.subscription, d)
	}
	if r.seen != nil && r.seen.Seen(msg.ID) {
		r.logger.Debug(ctx, "duplicate suppressed", "subscription", r.subscription, "message", msg.ID)
		r.acked.Add(1)
		msg.Ack()
		return
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		r.nacked.Add(1)
		msg.Nack()
		return
	}
	if r.paused {
		if len(r.buf) >= r.bufCap {
			r.mu.Unlock()
			// Buffer full: leave the message to broker redelivery.
			r.nacked.Add(1)
			msg.Nack()
			return
		}
		r.buf = append(r.buf, msg)
		depth := len(r.buf)
		r.mu.Unlock()
		if r.hooks.OnBuffered != nil {
			r.hooks.OnBuffered(ctx, r.subscription, depth)
		}
		return
	}
	r.mu.Unlock()
	r.deliver(ctx, msg)
}

func (r *receiver) deliver(ctx context.Context, msg *broker.Message) {
	d := deliveryOf(msg)
	err := r.invokeSink(ctx, d)
	if err != nil {
		r.nacked.Add(1)
		msg.Nack()
		derr := errors.NewDeliveryError(
			fmt.Sprintf("connector: sink rejected message %s: %v", msg.ID, err), err)
		r.logger.Warn(ctx, "sink rejected message, nacked for redelivery",
			"subscription", r.subscription, "message", msg.ID, "err", err)
		if r.hooks.OnNack != nil {
			r.hooks.OnNack(ctx, r.subscription, d, derr)
		}
		return
	}
	if r.seen != nil {
		r.seen.Record(msg.ID)
	}
	r.acked.Add(1)
	msg.Ack()
	if r.hooks.OnAck != nil {
		r.hooks.OnAck(ctx, r.subscription, d)
	}
}

func (r *receiver) invokeSink(ctx context.Context, d Delivery) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sink panic: %v", rec)
		}
	}()
	return r.sink(ctx, d)
}

func (r *receiver) pause() {
	r.mu.Lock()
	if !r.stopped {
		r.paused = true
	}
	r.mu.Unlock()
}

// resume re-opens the gate and drains buffered messages through the worker
// pool. The drain runs in the background; resume never blocks the caller.
// Order across the pause boundary is not preserved.
func (r *receiver) resume() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.paused = false
	msgs := r.buf
	r.buf = nil
	r.mu.Unlock()

	if len(msgs) == 0 {
		return
	}
	r.drains.Add(1)
	go func() {
		defer r.drains.Done()
		for _, msg := range msgs {
			m := msg
			if err := r.pool.Submit(r.ctx, func(execCtx context.Context) {
				r.deliver(execCtx, m)
			}); err != nil {
				r.nacked.Add(1)
				m.Nack()
			}
		}
	}()
}

// stop closes the gate, returns buffered messages to the broker and waits
// for drains and workers to finish.
func (r *receiver) stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.paused = false
	msgs := r.buf
	r.buf = nil
	r.mu.Unlock()

	r.cancel()
	for _, msg := range msgs {
		r.nacked.Add(1)
		msg.Nack()
	}
	r.drains.Wait()
	r.pool.Close()
	r.pool.Wait()
}

func (r *receiver) buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

func deliveryOf(msg *broker.Message) Delivery {
	return Delivery{
		ID:          msg.ID,
		Data:        msg.Data,
		Attributes:  msg.Attributes,
		PublishTime: msg.PublishTime,
		Attempt:     msg.DeliveryAttempt,
	}
}
