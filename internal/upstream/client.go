// Package upstream provides the single shared HTTP client the health
// supervisor and the request proxier both use: one connection-pooled
// *http.Transport, tuned the way the teacher's SharedClientFactory and
// proxy transport are tuned, serving both a short-timeout probe mode and a
// longer-timeout forwarding mode.
package upstream

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/corvidae/relay/internal/logger"
)

const (
	DefaultDialTimeout     = 5 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultMaxIdleConns    = 100
	DefaultIdleConnTimeout = 90 * time.Second
	DefaultTLSHandshake    = 10 * time.Second
)

// Client wraps the shared transport used for both probing and forwarding.
type Client struct {
	transport *http.Transport
	log       *logger.StyledLogger
}

// New builds the shared transport, enabling TCP_NODELAY on every dialed
// connection the way the teacher's proxy transport does for low-latency
// streaming.
func New(log *logger.StyledLogger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        DefaultMaxIdleConns,
		MaxIdleConnsPerHost: DefaultMaxIdleConns,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		TLSHandshakeTimeout: DefaultTLSHandshake,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{
				Timeout:   DefaultDialTimeout,
				KeepAlive: DefaultKeepAlive,
			}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				if terr := tcpConn.SetNoDelay(true); terr != nil && log != nil {
					log.Warn("failed to set TCP_NODELAY", "error", terr)
				}
			}
			return conn, nil
		},
	}

	return &Client{transport: transport, log: log}
}

// Transport exposes the shared *http.Transport for the request proxier's
// RoundTrip calls.
func (c *Client) Transport() *http.Transport {
	return c.transport
}

// Probe issues a health check against baseURL+path with the given method
// and timeout. Success is transport completion AND an HTTP status in
// [200, 400); anything else, including a timeout or transport error, is a
// failure whose textual description is returned as the probe error.
func (c *Client) Probe(ctx context.Context, baseURL, method, path string, timeout time.Duration) error {
	if method == "" {
		method = http.MethodGet
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, method, baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}

	client := &http.Client{Transport: c.transport}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe transport error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}
