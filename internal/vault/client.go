// Package vault loads exchange and LLM credentials from HashiCorp Vault.
// When Vault is disabled the environment-derived config values stand.
package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/vault/api"

	"collab-trading-bot/config"
	"collab-trading-bot/internal/logging"
)

// Secrets holds the credential set read from Vault
type Secrets struct {
	ExchangeAPIKey     string
	ExchangeSecretKey  string
	ExchangePassphrase string
	LLMAPIKey          string
	JWTSecret          string
}

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	cfg    config.VaultConfig
	logger *logging.Logger
}

// NewClient creates a Vault client. Returns nil, nil when Vault is
// disabled so callers can skip the overlay entirely.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{
		client: client,
		cfg:    cfg,
		logger: logging.Default().WithComponent("vault"),
	}, nil
}

// LoadSecrets reads the credential set from the configured KV v2 path
func (c *Client) LoadSecrets(ctx context.Context) (*Secrets, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	path := fmt.Sprintf("%s/data/%s", c.cfg.MountPath, c.cfg.SecretPath)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault secret: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no secret found at %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected secret format at %s", path)
	}

	s := &Secrets{
		ExchangeAPIKey:     stringField(data, "exchange_api_key"),
		ExchangeSecretKey:  stringField(data, "exchange_secret_key"),
		ExchangePassphrase: stringField(data, "exchange_passphrase"),
		LLMAPIKey:          stringField(data, "llm_api_key"),
		JWTSecret:          stringField(data, "jwt_secret"),
	}
	c.logger.Info("Secrets loaded from vault", "path", path)
	return s, nil
}

// Overlay writes the non-empty Vault values over the loaded config
func (s *Secrets) Overlay(cfg *config.Config) {
	if s == nil {
		return
	}
	if s.ExchangeAPIKey != "" {
		cfg.ExchangeConfig.APIKey = s.ExchangeAPIKey
	}
	if s.ExchangeSecretKey != "" {
		cfg.ExchangeConfig.SecretKey = s.ExchangeSecretKey
	}
	if s.ExchangePassphrase != "" {
		cfg.ExchangeConfig.Passphrase = s.ExchangePassphrase
	}
	if s.LLMAPIKey != "" {
		cfg.AIConfig.APIKey = s.LLMAPIKey
	}
	if s.JWTSecret != "" {
		cfg.AuthConfig.JWTSecret = s.JWTSecret
	}
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
