package statsd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const dialTimeout = 5 * time.Second

// Config describes how to reach a DogStatsD-compatible agent.
type Config struct {
	Enabled bool
	Address string
	// Prefix is prepended to every metric name, separated by a dot.
	Prefix string
	// Tags are attached to every line. Per-emission tags with the same key win.
	Tags   map[string]string
	Logger *slog.Logger
}

// Client writes auth metrics to a UDP agent, one datagram per metric.
// A nil or disabled Client drops everything. Safe for concurrent use.
type Client struct {
	prefix string
	tags   map[string]string
	logger *slog.Logger

	mu   sync.Mutex
	conn net.Conn

	dropped atomic.Uint64
	warned  atomic.Bool
}

var _ Sink = (*Client)(nil)

// NewClient dials the agent when cfg is enabled and has an address. Otherwise it
// returns a Client that drops every metric.
func NewClient(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		prefix: sanitizePrefix(cfg.Prefix),
		tags:   cloneTags(cfg.Tags),
		logger: logger.With("component", "statsd"),
	}

	address := strings.TrimSpace(cfg.Address)
	if !cfg.Enabled || address == "" {
		return c, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, err := (&net.Dialer{}).DialContext(ctx, "udp", address)
	if err != nil {
		return nil, fmt.Errorf("statsd dial %s: %w", address, err)
	}
	c.conn = conn
	c.logger.Debug("statsd client ready", "address", address, "prefix", c.prefix)
	return c, nil
}

// Enabled reports whether metrics are being sent.
func (c *Client) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Dropped reports how many lines failed to send.
func (c *Client) Dropped() uint64 {
	if c == nil {
		return 0
	}
	return c.dropped.Load()
}

func (c *Client) Count(name string, value int64, tags map[string]string) {
	c.emit(countMetric(name, value, tags))
}

func (c *Client) Gauge(name string, value float64, tags map[string]string) {
	c.emit(gaugeMetric(name, value, tags))
}

func (c *Client) Timing(name string, value time.Duration, tags map[string]string) {
	c.emit(timingMetric(name, value, tags))
}

// Close releases the connection. Later emissions are dropped silently.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) emit(m Metric) {
	if c == nil {
		return
	}
	line := m.Line(c.prefix, c.tags)
	if line == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	if _, err := c.conn.Write([]byte(line)); err != nil {
		c.dropped.Add(1)
		// The first failure warns, the rest log at debug.
		if c.warned.CompareAndSwap(false, true) {
			c.logger.Warn("statsd write failed", "metric", m.Name, "error", err)
			return
		}
		c.logger.Debug("statsd write failed", "metric", m.Name, "error", err)
	}
}
