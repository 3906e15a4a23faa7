package google

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/streamhub-io/pubsub-source/broker"
	"github.com/streamhub-io/pubsub-source/connector"
	"github.com/streamhub-io/pubsub-source/errors"
)

const defaultAckDeadline = 10 * time.Second

type Config struct {
	ProjectID       string
	SubscriptionID  string
	CredentialsJSON []byte
	Endpoint        string
	UserAgent       string
	// Client overrides the connector-owned data-plane client, used by tests
	// to point at a fake server. When set the driver does not close it.
	Client  *gcppubsub.Client
	Logger  connector.Logger
	Receive broker.ReceiveSettings
}

type gcpBroker struct {
	cfg        Config
	client     *gcppubsub.Client
	ownsClient bool
	logger     connector.Logger
}

// New builds a broker backed by Google Cloud Pub/Sub. The returned broker
// holds the data-plane client; the administrative client used for
// provisioning is opened and closed inside EnsureSubscription.
func New(ctx context.Context, cfg Config) (broker.Broker, error) {
	if cfg.SubscriptionID == "" {
		return nil, stderrors.New("googlebroker: subscription id required")
	}

	var (
		client *gcppubsub.Client
		err    error
		owns   bool
	)
	if cfg.Client != nil {
		client = cfg.Client
	} else {
		if cfg.ProjectID == "" {
			return nil, stderrors.New("googlebroker: project id required when client is not provided")
		}
		client, err = gcppubsub.NewClient(ctx, cfg.ProjectID, clientOptions(cfg)...)
		if err != nil {
			return nil, errors.NewTransportError(
				fmt.Sprintf("googlebroker: create client: %v", err), err)
		}
		owns = true
	}

	b := &gcpBroker{
		cfg:        cfg,
		client:     client,
		ownsClient: owns,
		logger:     cfg.Logger,
	}
	if b.logger == nil {
		b.logger = connector.NopLogger()
	}
	return b, nil
}

func clientOptions(cfg Config) []option.ClientOption {
	opts := make([]option.ClientOption, 0, 3)
	if len(cfg.CredentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, option.WithUserAgent(cfg.UserAgent))
	}
	return opts
}

// EnsureSubscription attempts to create the subscription and treats
// already-exists as success. The administrative client lives only for the
// duration of this call, whatever the outcome.
func (b *gcpBroker) EnsureSubscription(ctx context.Context, opts broker.EnsureOptions) error {
	if opts.TopicID == "" {
		return errors.NewConfigurationError("googlebroker: topic id required", nil)
	}
	subID := opts.SubscriptionID
	if subID == "" {
		subID = b.cfg.SubscriptionID
	}
	deadline := opts.AckDeadline
	if deadline <= 0 {
		deadline = defaultAckDeadline
	}

	admin, ownsAdmin, err := b.adminClient(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if ownsAdmin {
			_ = admin.Close()
		}
	}()

	_, err = admin.CreateSubscription(ctx, subID, gcppubsub.SubscriptionConfig{
		Topic:       admin.Topic(opts.TopicID),
		AckDeadline: deadline,
	})
	if err == nil {
		b.logger.Info(ctx, "subscription created", "subscription", subID, "topic", opts.TopicID)
		return nil
	}
	if status.Code(err) == codes.AlreadyExists {
		b.logger.Info(ctx, "subscription already exists", "subscription", subID, "topic", opts.TopicID)
		return nil
	}
	return errors.NewProvisioningError(
		fmt.Sprintf("googlebroker: create subscription %s on topic %s: %v", subID, opts.TopicID, err),
		err,
	).WithStatusCode(status.Code(err))
}

func (b *gcpBroker) adminClient(ctx context.Context) (*gcppubsub.Client, bool, error) {
	if b.cfg.Client != nil {
		return b.cfg.Client, false, nil
	}
	admin, err := gcppubsub.NewClient(ctx, b.cfg.ProjectID, clientOptions(b.cfg)...)
	if err != nil {
		return nil, false, errors.NewProvisioningError(
			fmt.Sprintf("googlebroker: create admin client: %v", err), err)
	}
	return admin, true, nil
}

func (b *gcpBroker) Receive(ctx context.Context, handler broker.Handler) error {
	if handler == nil {
		return stderrors.New("googlebroker: handler required")
	}
	sub := b.client.Subscription(b.cfg.SubscriptionID)

	ok, err := sub.Exists(ctx)
	if err != nil {
		return errors.NewTransportError(
			fmt.Sprintf("googlebroker: check subscription %s: %v", b.cfg.SubscriptionID, err), err)
	}
	if !ok {
		return errors.NewTransportError(
			fmt.Sprintf("googlebroker: subscription %s not found", b.cfg.SubscriptionID), nil)
	}

	settings := sub.ReceiveSettings
	if b.cfg.Receive.NumGoroutines > 0 {
		settings.NumGoroutines = b.cfg.Receive.NumGoroutines
	}
	if b.cfg.Receive.MaxOutstandingMessages > 0 {
		settings.MaxOutstandingMessages = b.cfg.Receive.MaxOutstandingMessages
	}
	if b.cfg.Receive.MaxOutstandingBytes > 0 {
		settings.MaxOutstandingBytes = b.cfg.Receive.MaxOutstandingBytes
	}
	if b.cfg.Receive.MaxExtension > 0 {
		settings.MaxExtension = b.cfg.Receive.MaxExtension
	}
	sub.ReceiveSettings = settings

	err = sub.Receive(ctx, func(msgCtx context.Context, m *gcppubsub.Message) {
		var once sync.Once
		bm := &broker.Message{
			ID:          m.ID,
			Data:        append([]byte(nil), m.Data...),
			Attributes:  broker.CloneAttributes(m.Attributes),
			PublishTime: m.PublishTime,
			Ack:         func() { once.Do(m.Ack) },
			Nack:        func() { once.Do(m.Nack) },
		}
		if m.DeliveryAttempt != nil {
			bm.DeliveryAttempt = int(*m.DeliveryAttempt)
		}

		defer func() {
			if r := recover(); r != nil {
				b.logger.Error(msgCtx, "handler panic",
					"subscription", b.cfg.SubscriptionID, "panic", r)
				bm.Nack()
			}
		}()

		handler(msgCtx, bm)
	})
	if err != nil {
		if stderrors.Is(err, context.Canceled) {
			return ctx.Err()
		}
		return errors.NewTransportError(
			fmt.Sprintf("googlebroker: receive on %s: %v", b.cfg.SubscriptionID, err), err)
	}
	return nil
}

func (b *gcpBroker) Close(context.Context) error {
	if b.ownsClient {
		return b.client.Close()
	}
	return nil
}
