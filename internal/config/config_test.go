package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("unexpected path %q", resolved)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.Database.Driver != DriverSQLite || !cfg.Policy.RequireParticipant {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("generated config should validate: %v", err)
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := strings.Join([]string{
		`addr: ":9000"`,
		`message_key: "` + testKey + `"`,
		`jwt:`,
		`  secret: "file-secret"`,
		`  ttl: 1h`,
		`policy:`,
		`  require_identity: true`,
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DMCHAT_ADDR", ":9100")
	t.Setenv("DMCHAT_DATABASE_DRIVER", "postgres")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9100" {
		t.Fatalf("env should override file, got %q", cfg.Addr)
	}
	if cfg.Database.Driver != DriverPostgres {
		t.Fatalf("nested env not applied: %q", cfg.Database.Driver)
	}
	if cfg.JWT.Secret != "file-secret" || cfg.JWT.TTL != time.Hour {
		t.Fatalf("file values lost: %+v", cfg.JWT)
	}
	if !cfg.Policy.RequireIdentity || !cfg.Policy.RequireParticipant {
		t.Fatalf("unexpected policy %+v", cfg.Policy)
	}
	if !errors.Is(cfg.Validate(), ErrMissingDSN) {
		t.Fatalf("postgres without dsn should not validate")
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.MessageKey = testKey
	valid.JWT.Secret = "s"

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "short key", mutate: func(c *Config) { c.MessageKey = "abcd" }, want: ErrInvalidMessageKey},
		{name: "non hex key", mutate: func(c *Config) { c.MessageKey = strings.Repeat("z", 64) }, want: ErrInvalidMessageKey},
		{name: "driver", mutate: func(c *Config) { c.Database.Driver = "mongo" }, want: ErrUnknownDriver},
		{name: "secret", mutate: func(c *Config) { c.JWT.Secret = "" }, want: ErrMissingJWTSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestUpdateFrom(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Addr: ":7000", Database: DatabaseConfig{Path: "x.db"}})
	if cfg.Addr != ":7000" || cfg.Database.Path != "x.db" || cfg.Database.Driver != DriverSQLite {
		t.Fatalf("unexpected merge %+v", cfg)
	}
}
