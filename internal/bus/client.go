// Package bus carries interpreter traffic over NATS: audio frames in,
// transcripts, translations and page state out.
package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/nats-io/nats.go"
)

const (
	clientName    = "loqa-interpreter"
	reconnectWait = time.Second
	flushTimeout  = 5 * time.Second
)

type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

// Connect dials the configured servers. Once connected the client keeps
// reconnecting in the background; dropped links are logged, not returned.
func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log = log.With(slog.String("component", "bus"))

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, connectOptions(cfg, log)...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	log.Info("connected to NATS", slog.String("servers", url), slog.String("server_id", conn.ConnectedServerId()))
	return &Client{conn: conn, log: log}, nil
}

func connectOptions(cfg config.BusConfig, log *slog.Logger) []nats.Option {
	opts := []nats.Option{
		nats.Name(clientName),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS connection lost", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", slog.String("url", c.ConnectedUrlRedacted()))
		}),
	}
	if cfg.Username != "" || cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		opts = append(opts, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}
	return opts
}

// Close drains pending publishes before closing. Nil-safe.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	_ = c.conn.Drain()
	c.conn.Close()
}

// Healthy is false while the connection is reconnecting or closed.
func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

// PublishJSON encodes a protocol message and publishes it on subject.
func (c *Client) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	return c.conn.Publish(subject, data)
}

// Flush blocks until the server has acknowledged everything published so far.
// Without a deadline on ctx it gives up after five seconds.
func (c *Client) Flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	return c.conn.FlushWithContext(ctx)
}

// Conn exposes the raw connection for subscribers.
func (c *Client) Conn() *nats.Conn {
	return c.conn
}
