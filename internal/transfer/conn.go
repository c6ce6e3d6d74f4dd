package transfer

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultPort is used when the server address carries no port.
	DefaultPort = "80"

	// UserAgent is sent with every request.
	UserAgent = "galah-installer/1.0"
)

// Conn is an HTTP client bound to one update server. It is created with an
// established TCP connection, and every read and write on the socket is
// bounded by the dial timeout.
type Conn struct {
	server  string
	addr    string
	timeout time.Duration

	mu      sync.Mutex
	pending net.Conn

	transport *http.Transport
	client    *http.Client
}

// Dial connects to server ("host" or "host:port") within timeout. A zero
// timeout disables all deadlines.
func Dial(ctx context.Context, server string, timeout time.Duration) (*Conn, error) {
	addr := withDefaultPort(server)

	c := &Conn{
		server:  server,
		addr:    addr,
		timeout: timeout,
	}

	raw, err := c.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, &TransportError{Op: "connect", Server: server, Err: err}
	}
	c.pending = raw

	c.transport = &http.Transport{
		Proxy:                 nil,
		DialContext:           c.nextConn,
		DisableCompression:    true,
		MaxIdleConns:          1,
		MaxIdleConnsPerHost:   1,
		ResponseHeaderTimeout: timeout,
	}
	c.client = &http.Client{
		Transport: c.transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return c, nil
}

func withDefaultPort(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(strings.Trim(server, "[]"), DefaultPort)
}

func (c *Conn) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	d := &net.Dialer{Timeout: c.timeout}
	raw, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return &deadlineConn{Conn: raw, timeout: c.timeout}, nil
}

// nextConn hands the connection established by Dial to the first request and
// dials again only after the server dropped it.
func (c *Conn) nextConn(ctx context.Context, network, addr string) (net.Conn, error) {
	c.mu.Lock()
	raw := c.pending
	c.pending = nil
	c.mu.Unlock()

	if raw != nil {
		return raw, nil
	}
	return c.dial(ctx, network, c.addr)
}

// Server returns the address the Conn was dialed with.
func (c *Conn) Server() string {
	return c.server
}

// Get issues a GET for path. Any status other than 200 is a TransportError;
// on success the caller owns the response body.
func (c *Conn) Get(ctx context.Context, path string) (*http.Response, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%q: %w", path, ErrInvalidPath)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+c.addr+path, nil)
	if err != nil {
		return nil, &TransportError{Op: "get", Server: c.server, Path: path, Err: err}
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "get", Server: c.server, Path: path, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &TransportError{Op: "get", Server: c.server, Path: path, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// Close releases the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	raw := c.pending
	c.pending = nil
	c.mu.Unlock()

	c.transport.CloseIdleConnections()
	if raw != nil {
		return raw.Close()
	}
	return nil
}

// deadlineConn refreshes the socket deadline before every Read and Write.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(p)
}
