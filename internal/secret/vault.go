package secret

import (
	"context"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig holds connection settings for the Vault backend.
type VaultConfig struct {
	Address string `yaml:"address"`
	Token   string `yaml:"token"`
	Mount   string `yaml:"mount"` // KV mount prefix, default "secret"
}

// Vault resolves secrets from a HashiCorp Vault KV store.
type Vault struct {
	client *vault.Client
	mount  string
}

// NewVault builds a Vault resolver with token auth.
func NewVault(cfg VaultConfig) (*Vault, error) {
	vcfg := vault.DefaultConfig()
	if cfg.Address != "" {
		vcfg.Address = cfg.Address
	}
	client, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	mount := cfg.Mount
	if mount == "" {
		mount = "secret"
	}
	return &Vault{client: client, mount: mount}, nil
}

// Resolve reads a secret from Vault. Ref names use "path/to/secret#key";
// when #key is omitted the key defaults to "value". KV v2 data wrappers are
// unwrapped transparently.
func (v *Vault) Resolve(ctx context.Context, ref Ref) (string, error) {
	path, key := ref.Name, "value"
	if idx := strings.LastIndex(path, "#"); idx != -1 {
		path, key = path[:idx], path[idx+1:]
	}

	sec, err := v.client.Logical().ReadWithContext(ctx, v.mount+"/data/"+path)
	if err != nil {
		return "", fmt.Errorf("read vault secret %s: %w", ref, err)
	}
	if sec == nil || sec.Data == nil {
		return "", fmt.Errorf("secret %s not found", ref)
	}

	data := sec.Data
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}

	val, ok := data[key].(string)
	if !ok || val == "" {
		return "", fmt.Errorf("key %q not found in secret %s", key, ref)
	}
	return val, nil
}
