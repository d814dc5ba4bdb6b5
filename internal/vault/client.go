package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"nse-trading-bot/config"
)

// BrokerCredentials are the secrets the live gateway needs
type BrokerCredentials struct {
	APIKey      string `json:"api_key"`
	AccessToken string `json:"access_token"`
}

// Client wraps the HashiCorp Vault client for broker credential storage.
// With Vault disabled the client falls through to config/env values.
type Client struct {
	client *api.Client
	config config.VaultConfig

	mu     sync.RWMutex
	cached *BrokerCredentials
}

// NewClient creates a Vault client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg}, nil
}

// BrokerCredentials fetches the broker API key and access token. fallback
// is returned when Vault is disabled or the secret is absent.
func (c *Client) BrokerCredentials(ctx context.Context, fallback BrokerCredentials) (BrokerCredentials, error) {
	if !c.config.Enabled {
		return fallback, nil
	}

	c.mu.RLock()
	if c.cached != nil {
		creds := *c.cached
		c.mu.RUnlock()
		return creds, nil
	}
	c.mu.RUnlock()

	path := fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return fallback, fmt.Errorf("failed to read broker secret: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return fallback, nil
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return fallback, fmt.Errorf("unexpected secret shape at %s", path)
	}

	creds := fallback
	if v, ok := data["api_key"].(string); ok && v != "" {
		creds.APIKey = v
	}
	if v, ok := data["access_token"].(string); ok && v != "" {
		creds.AccessToken = v
	}

	c.mu.Lock()
	c.cached = &creds
	c.mu.Unlock()
	return creds, nil
}

// StoreBrokerCredentials writes the broker secrets to Vault
func (c *Client) StoreBrokerCredentials(ctx context.Context, creds BrokerCredentials) error {
	if !c.config.Enabled {
		return fmt.Errorf("vault is disabled")
	}

	path := fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
	_, err := c.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":      creds.APIKey,
			"access_token": creds.AccessToken,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to store broker secret: %w", err)
	}

	c.mu.Lock()
	c.cached = &creds
	c.mu.Unlock()
	return nil
}
