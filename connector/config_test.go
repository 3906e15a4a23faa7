package connector

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamhub-io/pubsub-source/errors"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "connector.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, `
project:
  id: proj-1
topic:
  id: topicA
subscription:
  id: subA
  ack_deadline: 30s
credential:
  path: ./sa.json
receiver:
  pause_buffer: 64
  num_goroutines: 2
dedupe:
  enabled: true
ops:
  port: 9090
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "proj-1", cfg.ProjectID)
	assert.Equal(t, "topicA", cfg.TopicID)
	assert.Equal(t, "subA", cfg.SubscriptionID)
	assert.Equal(t, "./sa.json", cfg.CredentialPath)
	assert.Equal(t, 30*time.Second, cfg.AckDeadline)
	assert.Equal(t, 64, cfg.Receiver.PauseBuffer)
	assert.Equal(t, 2, cfg.Receiver.NumGoroutines)
	assert.True(t, cfg.Dedupe.Enabled)
	assert.Equal(t, int64(9090), cfg.Ops.Port)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfigFile(t, `
project:
  id: proj-1
topic:
  id: topicA
subscription:
  id: subA
credential:
  path: ./sa.json
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.AckDeadline)
	assert.Equal(t, 256, cfg.Receiver.PauseBuffer)
	assert.Equal(t, 4, cfg.Receiver.DrainWorkers)
	assert.False(t, cfg.Dedupe.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Dedupe.TTL)
}

func TestLoadConfigMissingKeys(t *testing.T) {
	path := writeConfigFile(t, `
project:
  id: proj-1
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
	assert.Contains(t, err.Error(), "credential.path")
	assert.Contains(t, err.Error(), "subscription.id")
	assert.Contains(t, err.Error(), "topic.id")
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("PUBSUB_SOURCE__PROJECT__ID", "proj-env")
	t.Setenv("PUBSUB_SOURCE__TOPIC__ID", "topic-env")
	t.Setenv("PUBSUB_SOURCE__SUBSCRIPTION__ID", "sub-env")
	t.Setenv("PUBSUB_SOURCE__CREDENTIAL__PATH", "/etc/sa.json")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "proj-env", cfg.ProjectID)
	assert.Equal(t, "topic-env", cfg.TopicID)
	assert.Equal(t, "sub-env", cfg.SubscriptionID)
	assert.Equal(t, "/etc/sa.json", cfg.CredentialPath)
}

func TestLoadConfigFileAbsentIsNotAnError(t *testing.T) {
	t.Setenv("PUBSUB_SOURCE__PROJECT__ID", "proj-1")
	t.Setenv("PUBSUB_SOURCE__TOPIC__ID", "topicA")
	t.Setenv("PUBSUB_SOURCE__SUBSCRIPTION__ID", "subA")
	t.Setenv("PUBSUB_SOURCE__CREDENTIAL__PATH", "./sa.json")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "proj-1", cfg.ProjectID)
}

func TestValidate(t *testing.T) {
	cfg := Config{ProjectID: "p", TopicID: "t", SubscriptionID: "s", CredentialPath: "c"}
	assert.NoError(t, cfg.Validate())

	cfg.ProjectID = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project.id")
}
