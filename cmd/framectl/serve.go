package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/framelink/internal/admin"
	"github.com/danmuck/framelink/internal/messaging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		host        string
		port        int
		adminAddr   string
		drain       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept framed connections and answer ping with pong",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCommandConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("admin-addr") {
				cfg.AdminAddr = adminAddr
			}
			return runServer(cmd.Context(), cfg, drain)
		},
	}
	cmd.Flags().StringVar(&host, "host", messaging.DefaultHost, "bind host")
	cmd.Flags().IntVar(&port, "port", messaging.DefaultPort, "bind port")
	cmd.Flags().StringVar(&adminAddr, "admin-addr", "", "serve health, metrics, and connections over HTTP on this address")
	cmd.Flags().DurationVar(&drain, "drain-timeout", 10*time.Second, "how long to wait for connections to drain on exit")
	return cmd
}

func runServer(parent context.Context, cfg runtimeConfig, drain time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := messaging.NewServerWithConfig(cfg.Server)
	srv.AddListener(messaging.ServerHandler{
		Accepted: func(c *messaging.Connection) {
			c.AddListener(messaging.ConnectionHandler{IncomingData: reply})
		},
		Error: func(err error) {
			log.Error().Err(err).Msg("framectl.serve server error")
		},
	})
	if err := srv.Listen(); err != nil {
		return err
	}

	var side *admin.Server
	if cfg.AdminAddr != "" {
		side = admin.New(cfg.AdminAddr, srv)
		go func() {
			if err := side.Serve(); err != nil {
				log.Error().Err(err).Str("addr", cfg.AdminAddr).Msg("framectl.serve admin listener")
			}
		}()
	}

	<-ctx.Done()
	log.Warn().Msg("framectl.serve shutting down")
	if side != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = side.Shutdown(shutdownCtx)
		cancel()
	}
	if err := srv.Shutdown(); err != nil {
		return err
	}
	select {
	case <-srv.Done():
		return nil
	case <-time.After(drain):
		log.Warn().Int("connections", srv.ConnectionCount()).Msg("framectl.serve drain timeout")
		return srv.Close()
	}
}

// reply answers "ping" with "pong" and echoes anything else under the
// following request id.
func reply(c *messaging.Connection, m messaging.Message) {
	text := m.Text()
	if text == "ping" {
		text = "pong"
	}
	out := messaging.NewTextMessage(text).WithRequestID(m.RequestID() + 1)
	if err := c.Send(out); err != nil {
		log.Warn().Err(err).Str("conn_id", c.ID()).Msg("framectl.serve reply")
	}
}
