package messaging

import (
	"time"

	"github.com/danmuck/framelink/internal/protocol/frame"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 7777
)

// ConnectionConfig applies to every Connection a Server or Client creates.
type ConnectionConfig struct {
	ChunkSize    int
	WriteTimeout time.Duration
	Limits       frame.Limits
	// Logger defaults to the global zerolog logger at construction time.
	Logger *zerolog.Logger
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		ChunkSize: frame.DefaultChunkSize,
		Limits:    frame.DefaultLimits(),
	}
}

func (c ConnectionConfig) WithDefaults() ConnectionConfig {
	def := DefaultConnectionConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = def.ChunkSize
	}
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = def.Limits
	}
	if c.WriteTimeout < 0 {
		c.WriteTimeout = 0
	}
	return c
}

func (c ConnectionConfig) logger() zerolog.Logger {
	if c.Logger != nil {
		return *c.Logger
	}
	return log.Logger
}

// ServerConfig defines the listen address and per-connection defaults.
type ServerConfig struct {
	Host          string
	Port          int
	Connection    ConnectionConfig
	AcceptBackoff BackoffConfig
	// AcceptRate caps new connections per second; zero disables the cap.
	// AcceptBurst defaults to one when a rate is set.
	AcceptRate  float64
	AcceptBurst int
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:       DefaultHost,
		Port:       DefaultPort,
		Connection: DefaultConnectionConfig(),
		AcceptBackoff: BackoffConfig{
			InitialDelay: 5 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     time.Second,
		},
	}
}

func (c ServerConfig) WithDefaults() ServerConfig {
	def := DefaultServerConfig()
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.AcceptBackoff.InitialDelay <= 0 {
		c.AcceptBackoff = def.AcceptBackoff
	}
	if c.AcceptRate < 0 {
		c.AcceptRate = 0
	}
	if c.AcceptRate > 0 && c.AcceptBurst <= 0 {
		c.AcceptBurst = 1
	}
	c.Connection = c.Connection.WithDefaults()
	return c
}

type ClientConfig struct {
	ConnectTimeout time.Duration
	Connection     ConnectionConfig
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ConnectTimeout: 5 * time.Second,
		Connection:     DefaultConnectionConfig(),
	}
}

func (c ClientConfig) WithDefaults() ClientConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultClientConfig().ConnectTimeout
	}
	c.Connection = c.Connection.WithDefaults()
	return c
}
