package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigAPIKeyTable(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":0"
api_keys:
  - key: acme-key
    enabled: true
    adapters: [docs, faq]
    system_prompt: "You answer for Acme."
  - key: retired-key
    enabled: false
`)

	cfg, err := LoadConfig(path, nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.APIKeys) != 2 {
		t.Fatalf("api_keys: %+v", cfg.APIKeys)
	}

	resolver := cfg.StaticResolver()
	if resolver == nil {
		t.Fatal("Configured keys must yield a resolver")
	}

	rec, err := resolver.Resolve(context.Background(), "acme-key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(rec.AdapterNames) != 2 || rec.AdapterNames[0] != "docs" {
		t.Errorf("AdapterNames: %v", rec.AdapterNames)
	}
	if rec.SystemPrompt != "You answer for Acme." {
		t.Errorf("SystemPrompt: %q", rec.SystemPrompt)
	}

	if _, err := resolver.Resolve(context.Background(), "retired-key"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Disabled key must be rejected, got %v", err)
	}
	if _, err := resolver.Resolve(context.Background(), "unknown"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Unknown key must be rejected, got %v", err)
	}
}

func TestStaticResolverEmptyTableIsNil(t *testing.T) {
	path := writeConfig(t, "server:\n  address: \":0\"\n")
	cfg, err := LoadConfig(path, nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.StaticResolver() != nil {
		t.Error("No configured keys must leave the gateway keyless")
	}
}
