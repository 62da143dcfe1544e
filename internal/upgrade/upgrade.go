package upgrade

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Config controls the WebSocket handshake.
type Config struct {
	Subprotocols      []string
	HandshakeTimeout  time.Duration
	ReadBufferSize    int
	WriteBufferSize   int
	EnableCompression bool

	// TLSConfig is used for wss targets. ServerName defaults to the target
	// host.
	TLSConfig *tls.Config
}

// HandshakeError is returned when the server refuses the upgrade.
type HandshakeError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("websocket handshake with %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("websocket handshake with %s: %v", e.URL, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

var errConnUsed = errors.New("upgrade: tunnel connection already used")

// Plain upgrades ws targets.
type Plain struct {
	cfg Config
}

// NewPlain returns an upgrader for ws targets.
func NewPlain(cfg Config) *Plain {
	return &Plain{cfg: cfg}
}

// Upgrade sends the opening handshake for target over conn.
func (p *Plain) Upgrade(ctx context.Context, conn net.Conn, target *url.URL, header http.Header) (*websocket.Conn, error) {
	d := newDialer(p.cfg)
	d.NetDialContext = onceDialer(conn)
	return handshake(ctx, d, target, header)
}

// TLS upgrades wss targets, running the TLS handshake with the target over
// the tunnel first.
type TLS struct {
	cfg Config
}

// NewTLS returns an upgrader for wss targets.
func NewTLS(cfg Config) *TLS {
	return &TLS{cfg: cfg}
}

// Upgrade runs TLS and then the opening handshake for target over conn.
func (t *TLS) Upgrade(ctx context.Context, conn net.Conn, target *url.URL, header http.Header) (*websocket.Conn, error) {
	cfg := &tls.Config{}
	if t.cfg.TLSConfig != nil {
		cfg = t.cfg.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = target.Hostname()
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}

	tc := tls.Client(conn, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", target.Host, err)
	}

	d := newDialer(t.cfg)
	d.NetDialTLSContext = onceDialer(tc)
	return handshake(ctx, d, target, header)
}

func newDialer(cfg Config) *websocket.Dialer {
	return &websocket.Dialer{
		Subprotocols:      cfg.Subprotocols,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		ReadBufferSize:    cfg.ReadBufferSize,
		WriteBufferSize:   cfg.WriteBufferSize,
		EnableCompression: cfg.EnableCompression,
	}
}

// onceDialer hands out conn to the first dial only.
func onceDialer(conn net.Conn) func(context.Context, string, string) (net.Conn, error) {
	var mu sync.Mutex
	return func(context.Context, string, string) (net.Conn, error) {
		mu.Lock()
		defer mu.Unlock()

		if conn == nil {
			return nil, errConnUsed
		}
		c := conn
		conn = nil
		return c, nil
	}
}

func handshake(ctx context.Context, d *websocket.Dialer, target *url.URL, header http.Header) (*websocket.Conn, error) {
	ws, resp, err := d.DialContext(ctx, target.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		he := &HandshakeError{URL: target.Redacted(), Err: err}
		if resp != nil {
			he.StatusCode = resp.StatusCode
		}
		return nil, he
	}
	return ws, nil
}
