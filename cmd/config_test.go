package cmd

import (
	"encoding/hex"
	"strings"
	"testing"
)

func TestRootKeySourceStatic(t *testing.T) {
	key := strings.Repeat("ab", 32)
	src := RootKeySourceConfig{
		Source:    "static",
		RawParams: map[string]any{"hex_key": key},
	}
	if err := src.UnmarshalParams(); err != nil {
		t.Fatalf("UnmarshalParams: %v", err)
	}
	got, err := src.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want, _ := hex.DecodeString(key)
	if string(got) != string(want) {
		t.Fatalf("resolved key mismatch")
	}
}

func TestRootKeySourceEnv(t *testing.T) {
	key := strings.Repeat("cd", 32)
	t.Setenv("KEYMINT_TEST_ROOT_KEY", key)

	src := RootKeySourceConfig{
		Source:    "env",
		RawParams: map[string]any{"env_var": "KEYMINT_TEST_ROOT_KEY"},
	}
	if err := src.UnmarshalParams(); err != nil {
		t.Fatalf("UnmarshalParams: %v", err)
	}
	got, err := src.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want, _ := hex.DecodeString(key)
	if string(got) != string(want) {
		t.Fatalf("resolved key mismatch")
	}
}

func TestRootKeySourceUnsupported(t *testing.T) {
	src := RootKeySourceConfig{Source: "hsm", RawParams: map[string]any{}}
	if err := src.UnmarshalParams(); err == nil {
		t.Fatalf("expected an error for an unsupported source")
	}
}

func TestConfigValidateDefaultsRateLimit(t *testing.T) {
	cfg := Config{
		SecurityLevel: "tee",
		Storage:       StorageConfig{Driver: "memory"},
		Listen:        ListenConfig{Network: "tcp", Address: "127.0.0.1:0"},
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 || cfg.RateLimit.Burst <= 0 {
		t.Fatalf("expected default rate limit values to be filled in, got %+v", cfg.RateLimit)
	}
}

func TestStorageValidateRejectsSqliteWithoutDSN(t *testing.T) {
	s := StorageConfig{Driver: "sqlite"}
	if err := s.validate(); err == nil {
		t.Fatalf("expected an error when sqlite driver has no dsn")
	}
}

func TestListenValidateRejectsUnsupportedNetwork(t *testing.T) {
	l := ListenConfig{Network: "udp", Address: "127.0.0.1:0"}
	if err := l.validate(); err == nil {
		t.Fatalf("expected an error for an unsupported network")
	}
}
