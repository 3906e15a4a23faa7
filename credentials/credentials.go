package credentials

import (
	"encoding/json"
	"fmt"
	"os"

	"google.golang.org/api/option"

	"github.com/streamhub-io/pubsub-source/errors"
)

// Credentials is an opaque handle over service-account material loaded from
// disk. It is created once at startup and never mutated.
type Credentials struct {
	raw []byte
}

type serviceAccountFile struct {
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	PrivateKey string `json:"private_key"`
}

// Load reads a service-account JSON file. A missing, unreadable or malformed
// file is a fatal configuration error and must not be retried.
func Load(path string) (*Credentials, error) {
	if path == "" {
		return nil, errors.NewConfigurationError("credentials: path required", nil)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("credentials: read %s: %v", path, err), err)
	}
	var sa serviceAccountFile
	if err := json.Unmarshal(raw, &sa); err != nil {
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("credentials: %s is not a valid service account file: %v", path, err), err)
	}
	if sa.Type == "" {
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("credentials: %s is missing the account type field", path), nil)
	}
	return &Credentials{raw: raw}, nil
}

// JSON returns a copy of the raw key material.
func (c *Credentials) JSON() []byte {
	return append([]byte(nil), c.raw...)
}

// ClientOption adapts the credentials for Google API clients.
func (c *Credentials) ClientOption() option.ClientOption {
	return option.WithCredentialsJSON(c.raw)
}

// ProjectID returns the project embedded in the key file, when present.
func (c *Credentials) ProjectID() string {
	var sa serviceAccountFile
	if err := json.Unmarshal(c.raw, &sa); err != nil {
		return ""
	}
	return sa.ProjectID
}
