package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/framelink/internal/messaging"
)

// framectl.toml key mapping to server/client runtime settings.
type fileConfig struct {
	Host            string  `toml:"host"`
	Port            int     `toml:"port"`
	ChunkSize       int     `toml:"chunk_size"`
	WriteTimeout    string  `toml:"write_timeout"`
	MaxPayloadBytes uint64  `toml:"max_payload_bytes"`
	ConnectTimeout  string  `toml:"connect_timeout"`
	AcceptRate      float64 `toml:"accept_rate"`
	AcceptBurst     int     `toml:"accept_burst"`
	AdminAddr       string  `toml:"admin_addr"`
	LogLevel        string  `toml:"log_level"`
}

type runtimeConfig struct {
	Server    messaging.ServerConfig
	Client    messaging.ClientConfig
	AdminAddr string
	LogLevel  string
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{
		Server: messaging.DefaultServerConfig(),
		Client: messaging.DefaultClientConfig(),
	}
}

// framectl loader for TOML config with default overlay. An empty path
// yields the defaults.
func loadConfig(path string) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runtimeConfig{}, fmt.Errorf("load framectl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return runtimeConfig{}, fmt.Errorf("load framectl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("host") {
		cfg.Server.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		if raw.Port < 0 || raw.Port > 65535 {
			return runtimeConfig{}, fmt.Errorf("load framectl config: port %d out of range", raw.Port)
		}
		cfg.Server.Port = raw.Port
	}
	if meta.IsDefined("chunk_size") {
		if raw.ChunkSize <= 0 {
			return runtimeConfig{}, fmt.Errorf("load framectl config: %w: %d", messaging.ErrInvalidChunkSize, raw.ChunkSize)
		}
		cfg.Server.Connection.ChunkSize = raw.ChunkSize
		cfg.Client.Connection.ChunkSize = raw.ChunkSize
	}
	if meta.IsDefined("write_timeout") {
		d, err := parseDuration("write_timeout", raw.WriteTimeout)
		if err != nil {
			return runtimeConfig{}, err
		}
		cfg.Server.Connection.WriteTimeout = d
		cfg.Client.Connection.WriteTimeout = d
	}
	if meta.IsDefined("max_payload_bytes") {
		cfg.Server.Connection.Limits.MaxPayloadBytes = raw.MaxPayloadBytes
		cfg.Client.Connection.Limits.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	if meta.IsDefined("connect_timeout") {
		d, err := parseDuration("connect_timeout", raw.ConnectTimeout)
		if err != nil {
			return runtimeConfig{}, err
		}
		cfg.Client.ConnectTimeout = d
	}
	if meta.IsDefined("accept_rate") {
		if raw.AcceptRate < 0 {
			return runtimeConfig{}, fmt.Errorf("load framectl config: accept_rate must not be negative")
		}
		cfg.Server.AcceptRate = raw.AcceptRate
	}
	if meta.IsDefined("accept_burst") {
		cfg.Server.AcceptBurst = raw.AcceptBurst
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	cfg.Server = cfg.Server.WithDefaults()
	cfg.Client = cfg.Client.WithDefaults()
	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("load framectl config: %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("load framectl config: %s must not be negative", key)
	}
	return d, nil
}
