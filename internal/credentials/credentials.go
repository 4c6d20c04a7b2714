// Package credentials resolves API keys: platform defaults from AWS Secrets
// Manager and per-user overrides sealed in the database.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"golang.org/x/sync/singleflight"
)

// SecretsAPI is the Secrets Manager surface the manager needs.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Manager fetches a single JSON secret blob and memoizes the parsed map.
// Concurrent first-time callers share one fetch.
type Manager struct {
	api      SecretsAPI
	secretID string

	group  singleflight.Group
	mu     sync.RWMutex
	cache  map[string]string
	loaded bool
}

// NewManager wraps an existing Secrets Manager client.
func NewManager(api SecretsAPI, secretID string) *Manager {
	return &Manager{api: api, secretID: secretID}
}

// NewManagerFromEnv builds a Secrets Manager client for the given region,
// using static credentials when supplied and the default chain otherwise.
func NewManagerFromEnv(ctx context.Context, region, accessKey, secretAccessKey, secretID string) (*Manager, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if accessKey != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(accessKey, secretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("credentials: load aws config: %w", err)
	}
	return NewManager(secretsmanager.NewFromConfig(cfg), secretID), nil
}

// Get returns one named value from the secret blob.
func (m *Manager) Get(ctx context.Context, name string) (string, error) {
	m.mu.RLock()
	if m.loaded {
		v := m.cache[name]
		m.mu.RUnlock()
		if v == "" {
			return "", fmt.Errorf("credentials: secret %q has no value for %q", m.secretID, name)
		}
		return v, nil
	}
	m.mu.RUnlock()

	_, err, _ := m.group.Do("fetch", func() (interface{}, error) {
		return nil, m.fetch(ctx)
	})
	if err != nil {
		return "", err
	}

	m.mu.RLock()
	v := m.cache[name]
	m.mu.RUnlock()
	if v == "" {
		return "", fmt.Errorf("credentials: secret %q has no value for %q", m.secretID, name)
	}
	return v, nil
}

func (m *Manager) fetch(ctx context.Context) error {
	m.mu.RLock()
	loaded := m.loaded
	m.mu.RUnlock()
	if loaded {
		return nil
	}

	out, err := m.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(m.secretID),
	})
	if err != nil {
		return fmt.Errorf("credentials: fetch secret %q: %w", m.secretID, err)
	}
	if out.SecretString == nil {
		return fmt.Errorf("credentials: secret %q has no string payload", m.secretID)
	}

	parsed := make(map[string]string)
	if err := json.Unmarshal([]byte(*out.SecretString), &parsed); err != nil {
		return fmt.Errorf("credentials: parse secret %q: %w", m.secretID, err)
	}

	m.mu.Lock()
	m.cache = parsed
	m.loaded = true
	m.mu.Unlock()
	return nil
}
