package connector

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/lo"

	"github.com/streamhub-io/pubsub-source/errors"
)

// Recognized configuration keys. The four identifiers are required; the rest
// tune the receiver and are optional.
const (
	keyProjectID      = "project.id"
	keyTopicID        = "topic.id"
	keySubscriptionID = "subscription.id"
	keyCredentialPath = "credential.path"
)

const envPrefix = "PUBSUB_SOURCE__"

type Config struct {
	ProjectID      string
	TopicID        string
	SubscriptionID string
	CredentialPath string

	// AckDeadline is passed to subscription provisioning.
	AckDeadline time.Duration

	Receiver ReceiverConfig
	Dedupe   DedupeConfig
	Ops      OpsConfig
}

type ReceiverConfig struct {
	// PauseBuffer bounds how many deliveries are held locally while paused.
	// Beyond it, messages are nacked so the broker throttles redelivery.
	PauseBuffer            int
	DrainWorkers           int
	NumGoroutines          int
	MaxOutstandingMessages int
	MaxOutstandingBytes    int
	MaxExtension           time.Duration
}

type DedupeConfig struct {
	Enabled   bool
	TTL       time.Duration
	SizeBytes int
}

type OpsConfig struct {
	Port int64
}

// LoadConfig merges a YAML file (if present) with environment overrides
// (prefix PUBSUB_SOURCE__, delimiter __, e.g. PUBSUB_SOURCE__PROJECT__ID).
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!stderrors.Is(err, fs.ErrNotExist) {
			return Config{}, errors.NewConfigurationError(
				fmt.Sprintf("config: load %s: %v", path, err), err)
		}
	}
	_ = k.Load(env.Provider(envPrefix, "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil)

	cfg := Config{
		ProjectID:      k.String(keyProjectID),
		TopicID:        k.String(keyTopicID),
		SubscriptionID: k.String(keySubscriptionID),
		CredentialPath: k.String(keyCredentialPath),
		AckDeadline:    k.Duration("subscription.ack_deadline"),
		Receiver: ReceiverConfig{
			PauseBuffer:            k.Int("receiver.pause_buffer"),
			DrainWorkers:           k.Int("receiver.drain_workers"),
			NumGoroutines:          k.Int("receiver.num_goroutines"),
			MaxOutstandingMessages: k.Int("receiver.max_outstanding_messages"),
			MaxOutstandingBytes:    k.Int("receiver.max_outstanding_bytes"),
			MaxExtension:           k.Duration("receiver.max_extension"),
		},
		Dedupe: DedupeConfig{
			Enabled:   k.Bool("dedupe.enabled"),
			TTL:       k.Duration("dedupe.ttl"),
			SizeBytes: k.Int("dedupe.size"),
		},
		Ops: OpsConfig{
			Port: k.Int64("ops.port"),
		},
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.AckDeadline <= 0 {
		c.AckDeadline = 10 * time.Second
	}
	if c.Receiver.PauseBuffer <= 0 {
		c.Receiver.PauseBuffer = 256
	}
	if c.Receiver.DrainWorkers <= 0 {
		c.Receiver.DrainWorkers = 4
	}
	if c.Dedupe.TTL <= 0 {
		c.Dedupe.TTL = 5 * time.Minute
	}
}

// Validate reports every missing required key at once.
func (c Config) Validate() error {
	required := map[string]string{
		keyProjectID:      c.ProjectID,
		keyTopicID:        c.TopicID,
		keySubscriptionID: c.SubscriptionID,
		keyCredentialPath: c.CredentialPath,
	}
	missing := lo.Filter(lo.Keys(required), func(key string, _ int) bool {
		return required[key] == ""
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.NewConfigurationError(
			fmt.Sprintf("config: missing required keys: %s", strings.Join(missing, ", ")), nil)
	}
	return nil
}
