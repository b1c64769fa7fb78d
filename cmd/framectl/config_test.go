package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/framelink/internal/messaging"
	"github.com/danmuck/framelink/internal/testutil/testlog"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "framectl.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)

	path := writeConfig(t, `
host = "127.0.0.1"
port = 9777
chunk_size = 256
write_timeout = "2s"
max_payload_bytes = 4096
connect_timeout = "750ms"
accept_rate = 50.5
accept_burst = 10
admin_addr = "127.0.0.1:9102"
log_level = "debug"
`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9777 {
		t.Fatalf("unexpected listen address: %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Server.Connection.ChunkSize != 256 || cfg.Client.Connection.ChunkSize != 256 {
		t.Fatalf("chunk size not applied: %+v", cfg.Server.Connection)
	}
	if cfg.Server.Connection.WriteTimeout != 2*time.Second {
		t.Fatalf("unexpected write timeout: %v", cfg.Server.Connection.WriteTimeout)
	}
	if cfg.Client.Connection.Limits.MaxPayloadBytes != 4096 {
		t.Fatalf("unexpected payload limit: %d", cfg.Client.Connection.Limits.MaxPayloadBytes)
	}
	if cfg.Client.ConnectTimeout != 750*time.Millisecond {
		t.Fatalf("unexpected connect timeout: %v", cfg.Client.ConnectTimeout)
	}
	if cfg.Server.AcceptRate != 50.5 || cfg.Server.AcceptBurst != 10 {
		t.Fatalf("unexpected accept rate: %v/%d", cfg.Server.AcceptRate, cfg.Server.AcceptBurst)
	}
	if cfg.AdminAddr != "127.0.0.1:9102" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected ambient settings: %+v", cfg)
	}
}

func TestLoadConfigEmptyPathUsesDefaults(t *testing.T) {
	testlog.Start(t)

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Host != messaging.DefaultHost || cfg.Server.Port != messaging.DefaultPort {
		t.Fatalf("unexpected defaults: %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Server.Connection.ChunkSize != 1024 {
		t.Fatalf("unexpected default chunk size: %d", cfg.Server.Connection.ChunkSize)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	testlog.Start(t)

	_, err := loadConfig(writeConfig(t, `chunk_size = 0`))
	if !errors.Is(err, messaging.ErrInvalidChunkSize) {
		t.Fatalf("expected ErrInvalidChunkSize, got %v", err)
	}
	if _, err := loadConfig(writeConfig(t, `port = 70000`)); err == nil {
		t.Fatalf("expected out-of-range port error")
	}
	if _, err := loadConfig(writeConfig(t, `write_timeout = "soon"`)); err == nil {
		t.Fatalf("expected duration parse error")
	}
	if _, err := loadConfig(writeConfig(t, `chunksize = 12`)); err == nil {
		t.Fatalf("expected unknown key error")
	}
}
