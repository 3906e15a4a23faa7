// Package inmem provides an in-process broker used in tests and examples.
// A Server holds the durable side (topics, subscriptions, pending messages);
// each Connection models one data-plane attachment with its own lifetime,
// so a connector can disconnect and reconnect against surviving state. It
// models the behavior the connector relies on: subscriptions bound to one
// topic, concurrent delivery, and nack-triggered redelivery.
package inmem

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"

	"github.com/streamhub-io/pubsub-source/broker"
	"github.com/streamhub-io/pubsub-source/errors"
)

type Server struct {
	redeliveryDelay time.Duration
	queueSize       int
	faults          chan error

	mu          sync.Mutex
	topics      map[string]struct{}
	subs        map[string]*subscription
	ensureCalls int
}

type subscription struct {
	topic string
	queue chan *delivery
}

type delivery struct {
	id          string
	data        []byte
	attrs       map[string]string
	publishTime time.Time

	mu      sync.Mutex
	attempt int
}

type ServerOption func(*Server)

func WithRedeliveryDelay(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.redeliveryDelay = d
		}
	}
}

func WithQueueSize(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		redeliveryDelay: 20 * time.Millisecond,
		queueSize:       1024,
		faults:          make(chan error, 4),
		topics:          map[string]struct{}{},
		subs:            map[string]*subscription{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTopic registers a topic. Messages published to unknown topics fail,
// and subscriptions cannot be provisioned against them.
func (s *Server) CreateTopic(topicID string) {
	s.mu.Lock()
	s.topics[topicID] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) ensure(opts broker.EnsureOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureCalls++
	if _, ok := s.topics[opts.TopicID]; !ok {
		return errors.NewProvisioningError(
			fmt.Sprintf("inmem: topic %s not found", opts.TopicID), nil,
		).WithStatusCode(codes.NotFound)
	}
	if existing, ok := s.subs[opts.SubscriptionID]; ok {
		if existing.topic != opts.TopicID {
			return errors.NewProvisioningError(
				fmt.Sprintf("inmem: subscription %s already bound to topic %s",
					opts.SubscriptionID, existing.topic), nil,
			).WithStatusCode(codes.AlreadyExists)
		}
		return nil
	}
	s.subs[opts.SubscriptionID] = &subscription{
		topic: opts.TopicID,
		queue: make(chan *delivery, s.queueSize),
	}
	return nil
}

// Publish enqueues a message on every subscription bound to the topic.
func (s *Server) Publish(topicID string, data []byte, attrs map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[topicID]; !ok {
		return "", fmt.Errorf("inmem: topic %s not found", topicID)
	}
	id := uuid.NewString()
	for _, sub := range s.subs {
		if sub.topic != topicID {
			continue
		}
		sub.queue <- &delivery{
			id:          id,
			data:        append([]byte(nil), data...),
			attrs:       broker.CloneAttributes(attrs),
			publishTime: time.Now(),
		}
	}
	return id, nil
}

// EnsureCalls reports how many provisioning attempts were made.
func (s *Server) EnsureCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureCalls
}

// SubscriptionCount reports how many distinct subscriptions exist.
func (s *Server) SubscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// FailReceive makes an active or future Receive return err, modelling a
// mid-stream transport fault. The subscription state is untouched, so a
// subsequent Receive picks up where the failed one left off.
func (s *Server) FailReceive(err error) {
	s.faults <- err
}

func (s *Server) redeliver(sub *subscription, d *delivery) {
	time.AfterFunc(s.redeliveryDelay, func() {
		select {
		case sub.queue <- d:
		default:
			// Queue full; a nacked message must never be dropped, so
			// try again after another delay.
			s.redeliver(sub, d)
		}
	})
}

// Connection binds a data-plane attachment to the server. SubscriptionID
// names the subscription Receive pulls from.
func (s *Server) Connection(subscriptionID string) broker.Broker {
	return &connection{server: s, subscriptionID: subscriptionID}
}

type connection struct {
	server         *Server
	subscriptionID string

	mu     sync.Mutex
	closed bool
}

func (c *connection) EnsureSubscription(_ context.Context, opts broker.EnsureOptions) error {
	if err := c.guard(); err != nil {
		return err
	}
	if opts.SubscriptionID == "" {
		opts.SubscriptionID = c.subscriptionID
	}
	return c.server.ensure(opts)
}

func (c *connection) Receive(ctx context.Context, handler broker.Handler) error {
	if handler == nil {
		return stderrors.New("inmem: handler required")
	}
	if err := c.guard(); err != nil {
		return errors.NewTransportError("inmem: connection closed", err)
	}
	c.server.mu.Lock()
	sub, ok := c.server.subs[c.subscriptionID]
	c.server.mu.Unlock()
	if !ok {
		return errors.NewTransportError(
			fmt.Sprintf("inmem: subscription %s not found", c.subscriptionID), nil)
	}
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-c.server.faults:
			return err
		case d := <-sub.queue:
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.dispatch(ctx, sub, d, handler)
			}()
		}
	}
}

func (c *connection) dispatch(ctx context.Context, sub *subscription, d *delivery, handler broker.Handler) {
	d.mu.Lock()
	d.attempt++
	attempt := d.attempt
	d.mu.Unlock()

	var once sync.Once
	msg := &broker.Message{
		ID:              d.id,
		Data:            append([]byte(nil), d.data...),
		Attributes:      broker.CloneAttributes(d.attrs),
		PublishTime:     d.publishTime,
		DeliveryAttempt: attempt,
		Ack:             func() { once.Do(func() {}) },
		Nack: func() {
			once.Do(func() { c.server.redeliver(sub, d) })
		},
	}
	handler(ctx, msg)
}

func (c *connection) Close(context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *connection) guard() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return stderrors.New("inmem: connection closed")
	}
	return nil
}
