// Package connector implements a source connector for a publish/subscribe
// broker: it provisions the subscription idempotently, receives messages and
// forwards each payload to a downstream sink with at-least-once semantics,
// and supports backpressure-aware pause/resume. Delivery progress is tracked
// entirely by the broker; the connector persists nothing across restarts.
package connector

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/streamhub-io/pubsub-source/broker"
	"github.com/streamhub-io/pubsub-source/credentials"
	"github.com/streamhub-io/pubsub-source/dedupe"
	"github.com/streamhub-io/pubsub-source/errors"
	"github.com/streamhub-io/pubsub-source/internal/backoff"
)

// BrokerFactory builds the data-plane broker for a connect attempt. The
// credentials handle is the one loaded during Init.
type BrokerFactory func(ctx context.Context, cfg Config, creds *credentials.Credentials) (broker.Broker, error)

type Connector struct {
	cfg     Config
	factory BrokerFactory
	logger  Logger
	hooks   Hooks

	sm stateMachine

	// mu guards the fields below and orders state transitions against
	// them: every sm call on the connect, pause, resume and disconnect
	// paths runs while mu is held, so a transition and the receiver it
	// refers to are observed together.
	mu          sync.Mutex
	initialized bool
	connecting  bool
	creds       *credentials.Credentials
	brk         broker.Broker
	recv        *receiver
	cancel      context.CancelFunc
	loopWG      sync.WaitGroup
}

type Option func(*Connector)

func WithLogger(logger Logger) Option {
	return func(c *Connector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithHooks(h Hooks) Option {
	return func(c *Connector) {
		c.hooks = h
	}
}

func New(cfg Config, factory BrokerFactory, opts ...Option) *Connector {
	c := &Connector{
		cfg:     cfg,
		factory: factory,
		logger:  NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init validates the configuration and loads the credential file. Failures
// here are fatal configuration errors: the connector stays Stopped and the
// host must not retry.
func (c *Connector) Init(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	if c.factory == nil {
		return errors.NewConfigurationError("connector: broker factory required", nil)
	}
	creds, err := credentials.Load(c.cfg.CredentialPath)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.creds = creds
	c.initialized = true
	c.mu.Unlock()
	c.logger.Info(ctx, "connector initialized",
		"project", c.cfg.ProjectID, "topic", c.cfg.TopicID, "subscription", c.cfg.SubscriptionID)
	return nil
}

// Connect runs one connect attempt: build the broker, ensure the
// subscription exists, start receiving into sink. It returns once the
// subscription is confirmed and the receiver is running. Provisioning and
// transport failures are surfaced as connection-unavailable conditions the
// host may retry by calling Connect again after Disconnect.
func (c *Connector) Connect(ctx context.Context, sink Sink) error {
	if sink == nil {
		return errors.NewConfigurationError("connector: sink required", nil)
	}
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return errors.NewConfigurationError("connector: not initialized", nil)
	}
	if c.connecting || c.cancel != nil || c.sm.current() != StateStopped {
		c.mu.Unlock()
		return stderrors.New("connector: already connected")
	}
	c.connecting = true
	creds := c.creds
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
	}()

	brk, err := c.factory(ctx, c.cfg, creds)
	if err != nil {
		return err
	}
	if err := brk.EnsureSubscription(ctx, broker.EnsureOptions{
		TopicID:        c.cfg.TopicID,
		SubscriptionID: c.cfg.SubscriptionID,
		AckDeadline:    c.cfg.AckDeadline,
	}); err != nil {
		_ = brk.Close(ctx)
		return err
	}

	var seen *dedupe.Cache
	if c.cfg.Dedupe.Enabled {
		seen = dedupe.New(c.cfg.Dedupe.SizeBytes, c.cfg.Dedupe.TTL)
	}
	recv := newReceiver(c.cfg.Receiver, c.cfg.SubscriptionID, sink, c.hooks, c.logger, seen)

	loopCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if err := c.sm.transition(StateStopped, StateRunning); err != nil {
		c.mu.Unlock()
		cancel()
		recv.stop()
		_ = brk.Close(ctx)
		return err
	}
	c.brk = brk
	c.recv = recv
	c.cancel = cancel
	c.loopWG.Add(1)
	c.mu.Unlock()

	go c.receiveLoop(loopCtx, brk, recv)
	c.logger.Info(ctx, "connector running", "subscription", c.cfg.SubscriptionID)
	return nil
}

// receiveLoop keeps the data-plane stream alive, reconnecting with
// exponential backoff on transport failures until the loop context is
// cancelled by Disconnect.
func (c *Connector) receiveLoop(ctx context.Context, brk broker.Broker, recv *receiver) {
	defer c.loopWG.Done()
	bo := backoff.New(backoff.Config{Jitter: 0.2})
	for {
		err := brk.Receive(ctx, recv.handle)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			bo.Reset()
			continue
		}
		if !errors.IsTransport(err) {
			err = errors.NewTransportError("connector: receive failed", err)
		}
		c.logger.Warn(ctx, "receive failed, reconnecting",
			"subscription", c.cfg.SubscriptionID, "err", err)
		if c.hooks.OnConnectionErr != nil {
			c.hooks.OnConnectionErr(ctx, c.cfg.SubscriptionID, err)
		}
		if bo.Sleep(ctx) != nil {
			return
		}
	}
}

// Pause stops forwarding payloads to the sink without blocking the caller.
// In-flight broker callbacks that have not yet reached the sink are buffered
// or withheld; nothing is dropped.
func (c *Connector) Pause(ctx context.Context) error {
	c.mu.Lock()
	recv := c.recv
	if err := c.sm.transition(StateRunning, StatePaused); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()
	recv.pause()
	if c.hooks.OnPause != nil {
		c.hooks.OnPause(ctx, c.cfg.SubscriptionID)
	}
	c.logger.Info(ctx, "connector paused", "subscription", c.cfg.SubscriptionID)
	return nil
}

// Resume re-opens the sink gate and drains anything buffered while paused.
func (c *Connector) Resume(ctx context.Context) error {
	c.mu.Lock()
	recv := c.recv
	if err := c.sm.transition(StatePaused, StateRunning); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()
	recv.resume()
	if c.hooks.OnResume != nil {
		c.hooks.OnResume(ctx, c.cfg.SubscriptionID)
	}
	c.logger.Info(ctx, "connector resumed", "subscription", c.cfg.SubscriptionID)
	return nil
}

// Disconnect halts the receive loop, waits for in-flight callbacks to
// drain, returns buffered messages to the broker and releases the data-plane
// connection. Unacknowledged messages are redelivered by the broker.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	prev := c.sm.stop()
	cancel := c.cancel
	recv := c.recv
	brk := c.brk
	c.cancel, c.recv, c.brk = nil, nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	done := make(chan struct{})
	go func() {
		c.loopWG.Wait()
		recv.stop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	err := brk.Close(ctx)
	c.logger.Info(ctx, "connector stopped",
		"subscription", c.cfg.SubscriptionID, "previous_state", prev.String())
	return err
}

// Destroy is a no-op when Disconnect already ran; otherwise it disconnects.
func (c *Connector) Destroy(ctx context.Context) error {
	c.mu.Lock()
	active := c.cancel != nil
	c.mu.Unlock()
	if !active {
		return nil
	}
	return c.Disconnect(ctx)
}

func (c *Connector) State() State {
	return c.sm.current()
}

// CurrentState returns nil: delivery tracking is fully delegated to the
// broker, so there is no connector-side snapshot.
func (c *Connector) CurrentState() map[string]any {
	return nil
}

// RestoreState is a no-op for the same reason.
func (c *Connector) RestoreState(map[string]any) {}

// Stats is a point-in-time view for the ops surface.
type Stats struct {
	State    string `json:"state"`
	Received int64  `json:"received"`
	Acked    int64  `json:"acked"`
	Nacked   int64  `json:"nacked"`
	Buffered int    `json:"buffered"`
}

func (c *Connector) Stats() Stats {
	s := Stats{State: c.sm.current().String()}
	c.mu.Lock()
	recv := c.recv
	c.mu.Unlock()
	if recv != nil {
		s.Received = recv.received.Load()
		s.Acked = recv.acked.Load()
		s.Nacked = recv.nacked.Load()
		s.Buffered = recv.buffered()
	}
	return s
}
