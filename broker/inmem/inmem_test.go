package inmem

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamhub-io/pubsub-source/broker"
	"github.com/streamhub-io/pubsub-source/errors"
)

func TestEnsureSubscriptionIdempotent(t *testing.T) {
	server := NewServer()
	server.CreateTopic("topicA")
	conn := server.Connection("subA")

	opts := broker.EnsureOptions{TopicID: "topicA", SubscriptionID: "subA"}
	require.NoError(t, conn.EnsureSubscription(context.Background(), opts))
	require.NoError(t, conn.EnsureSubscription(context.Background(), opts))

	assert.Equal(t, 2, server.EnsureCalls())
	assert.Equal(t, 1, server.SubscriptionCount())
}

func TestEnsureSubscriptionTopicMissing(t *testing.T) {
	server := NewServer()
	conn := server.Connection("subA")
	err := conn.EnsureSubscription(context.Background(), broker.EnsureOptions{
		TopicID: "nope", SubscriptionID: "subA",
	})
	require.Error(t, err)
	assert.True(t, errors.IsProvisioning(err))
}

func TestReceiveAndAck(t *testing.T) {
	server := NewServer()
	server.CreateTopic("topicA")
	conn := server.Connection("subA")
	require.NoError(t, conn.EnsureSubscription(context.Background(), broker.EnsureOptions{
		TopicID: "topicA", SubscriptionID: "subA",
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan *broker.Message, 1)
	go func() {
		_ = conn.Receive(ctx, func(_ context.Context, m *broker.Message) {
			m.Ack()
			got <- m
		})
	}()

	_, err := server.Publish("topicA", []byte("hello"), map[string]string{"k": "v"})
	require.NoError(t, err)

	select {
	case m := <-got:
		assert.Equal(t, "hello", string(m.Data))
		assert.Equal(t, "v", m.Attributes["k"])
		assert.Equal(t, 1, m.DeliveryAttempt)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestNackTriggersRedelivery(t *testing.T) {
	server := NewServer(WithRedeliveryDelay(10 * time.Millisecond))
	server.CreateTopic("topicA")
	conn := server.Connection("subA")
	require.NoError(t, conn.EnsureSubscription(context.Background(), broker.EnsureOptions{
		TopicID: "topicA", SubscriptionID: "subA",
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})
	go func() {
		_ = conn.Receive(ctx, func(_ context.Context, m *broker.Message) {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()
			if n == 1 {
				m.Nack()
				return
			}
			m.Ack()
			close(done)
		})
	}()

	_, err := server.Publish("topicA", []byte("retry-me"), nil)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not redelivered after nack")
	}
	mu.Lock()
	assert.Equal(t, 2, attempts)
	mu.Unlock()
}

func TestRedeliveryRetriesWhenQueueFull(t *testing.T) {
	server := NewServer(WithRedeliveryDelay(100*time.Millisecond), WithQueueSize(1))
	server.CreateTopic("topicA")
	conn := server.Connection("subA")
	require.NoError(t, conn.EnsureSubscription(context.Background(), broker.EnsureOptions{
		TopicID: "topicA", SubscriptionID: "subA",
	}))

	id1, err := server.Publish("topicA", []byte("first"), nil)
	require.NoError(t, err)

	// Nack the first message, then stop receiving so the queue can fill up
	// before its redelivery timer fires.
	ctx, cancel := context.WithCancel(context.Background())
	nacked := make(chan struct{})
	recvDone := make(chan struct{})
	go func() {
		defer close(recvDone)
		_ = conn.Receive(ctx, func(_ context.Context, m *broker.Message) {
			m.Nack()
			close(nacked)
		})
	}()
	<-nacked
	cancel()
	<-recvDone

	id2, err := server.Publish("topicA", []byte("second"), nil)
	require.NoError(t, err)

	// Let the redelivery timer fire against the full queue at least once.
	time.Sleep(250 * time.Millisecond)

	var mu sync.Mutex
	attempts := map[string]int{}
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	fresh := server.Connection("subA")
	go func() {
		_ = fresh.Receive(ctx2, func(_ context.Context, m *broker.Message) {
			m.Ack()
			mu.Lock()
			attempts[m.ID] = m.DeliveryAttempt
			mu.Unlock()
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(attempts) == 2
	}, 2*time.Second, 10*time.Millisecond, "nacked message was dropped instead of redelivered")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts[id1])
	assert.Equal(t, 1, attempts[id2])
}

func TestFailReceiveSurfacesMidStream(t *testing.T) {
	server := NewServer()
	server.CreateTopic("topicA")
	conn := server.Connection("subA")
	require.NoError(t, conn.EnsureSubscription(context.Background(), broker.EnsureOptions{
		TopicID: "topicA", SubscriptionID: "subA",
	}))

	done := make(chan error, 1)
	go func() {
		done <- conn.Receive(context.Background(), func(context.Context, *broker.Message) {})
	}()
	server.FailReceive(errors.NewTransportError("inmem: link reset", nil))

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.IsTransport(err))
	case <-time.After(time.Second):
		t.Fatal("receive did not surface the injected fault")
	}
}

func TestReceiveUnknownSubscription(t *testing.T) {
	server := NewServer()
	conn := server.Connection("ghost")
	err := conn.Receive(context.Background(), func(context.Context, *broker.Message) {})
	require.Error(t, err)
	assert.True(t, errors.IsTransport(err))
}

func TestClosedConnectionLeavesServerIntact(t *testing.T) {
	server := NewServer()
	server.CreateTopic("topicA")
	conn := server.Connection("subA")
	require.NoError(t, conn.EnsureSubscription(context.Background(), broker.EnsureOptions{
		TopicID: "topicA", SubscriptionID: "subA",
	}))
	require.NoError(t, conn.Close(context.Background()))

	err := conn.Receive(context.Background(), func(context.Context, *broker.Message) {})
	require.Error(t, err)

	// A fresh connection still sees the durable subscription.
	fresh := server.Connection("subA")
	require.NoError(t, fresh.EnsureSubscription(context.Background(), broker.EnsureOptions{
		TopicID: "topicA", SubscriptionID: "subA",
	}))
	assert.Equal(t, 1, server.SubscriptionCount())
}
