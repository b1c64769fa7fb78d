package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/framelink/internal/messaging"
	"github.com/spf13/cobra"
)

func sendCmd() *cobra.Command {
	var (
		host      string
		port      int
		requestID uint32
		wait      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send [text...]",
		Short: "Send one text message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCommandConfig(cmd)
			if err != nil {
				return err
			}
			msg := messaging.NewTextMessage(strings.Join(args, " "))
			if requestID != 0 {
				msg = msg.WithRequestID(requestID)
			}
			reply, err := sendOnce(cmd.Context(), cfg.Client, host, port, msg, wait)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", reply.RequestID(), reply.Text())
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "server host")
	cmd.Flags().IntVar(&port, "port", messaging.DefaultPort, "server port")
	cmd.Flags().Uint32Var(&requestID, "request-id", 0, "request id (0 assigns the next one)")
	cmd.Flags().DurationVar(&wait, "timeout", 5*time.Second, "how long to wait for a reply")
	return cmd
}

// sendOnce connects, sends msg, and returns the first message received back.
func sendOnce(
	ctx context.Context,
	cfg messaging.ClientConfig,
	host string,
	port int,
	msg messaging.Message,
	wait time.Duration,
) (messaging.Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	opened := make(chan *messaging.Connection, 1)
	replies := make(chan messaging.Message, 1)
	closed := make(chan error, 1)
	failed := make(chan error, 1)

	cl := messaging.NewClientWithConfig(cfg)
	cl.AddListener(messaging.ClientHandler{
		Opened: func(c *messaging.Connection) {
			c.AddListener(messaging.ConnectionHandler{
				IncomingData: func(_ *messaging.Connection, m messaging.Message) {
					select {
					case replies <- m:
					default:
					}
				},
			})
			opened <- c
		},
		Closed: func(_ *messaging.Connection, cause error) { closed <- cause },
		Error:  func(err error) { failed <- err },
	})
	if err := cl.Connect(ctx, host, port); err != nil {
		return messaging.Message{}, err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case err := <-failed:
		return messaging.Message{}, err
	case <-opened:
	case <-timer.C:
		return messaging.Message{}, fmt.Errorf("framectl: connect timed out after %v", wait)
	}
	defer func() { _ = cl.Close() }()

	if err := cl.Send(msg); err != nil {
		return messaging.Message{}, err
	}
	select {
	case m := <-replies:
		return m, nil
	case cause := <-closed:
		return messaging.Message{}, fmt.Errorf("framectl: connection closed before reply: %w", cause)
	case <-timer.C:
		return messaging.Message{}, fmt.Errorf("framectl: no reply after %v", wait)
	case <-ctx.Done():
		return messaging.Message{}, ctx.Err()
	}
}
