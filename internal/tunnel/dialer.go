package tunnel

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/die-net/wsconnect/internal/dialer"
)

// Upgrader performs the WebSocket opening handshake over an established
// tunnel.
type Upgrader interface {
	Upgrade(ctx context.Context, conn net.Conn, target *url.URL, header http.Header) (*websocket.Conn, error)
}

// UpgradeRequest is the WebSocket request sent once the tunnel is up.
type UpgradeRequest struct {
	URL    *url.URL
	Header http.Header
}

// Dialer opens WebSocket connections through an HTTP CONNECT proxy.
type Dialer struct {
	cfg     Config
	proxy   ProxyConfig
	forward dialer.Dialer
	pool    *bufferPool
	log     logrus.FieldLogger
}

// NewDialer returns a Dialer for proxy. The proxy itself is reached through
// forward, which may be nil for a direct connection.
func NewDialer(cfg Config, proxy ProxyConfig, forward dialer.Dialer) (*Dialer, error) {
	if err := proxy.validate(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
	if forward == nil {
		forward = dialer.NewDirectDialer(dialer.Config{})
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Dialer{
		cfg:     cfg,
		proxy:   proxy,
		forward: forward,
		pool:    newBufferPool(cfg.ReadBufferSize),
		log:     log.WithField("proxy", proxy.Addr()),
	}, nil
}

// Connect establishes the tunnel and performs the upgrade on a separate
// goroutine. Canceling ctx aborts the attempt.
func (d *Dialer) Connect(ctx context.Context, req UpgradeRequest) *Future[*websocket.Conn] {
	f := newFuture[*websocket.Conn]()
	go func() {
		f.resolve(d.Dial(ctx, req))
	}()
	return f
}

// Dial is like Connect but blocks until the WebSocket is open.
func (d *Dialer) Dial(ctx context.Context, req UpgradeRequest) (*websocket.Conn, error) {
	if req.URL == nil {
		return nil, errors.New("tunnel: missing upgrade url")
	}

	var up Upgrader
	switch strings.ToLower(req.URL.Scheme) {
	case "ws":
		up = d.cfg.Plain
	case "wss":
		up = d.cfg.TLS
	default:
		return nil, fmt.Errorf("tunnel: unsupported url scheme %q", req.URL.Scheme)
	}
	if up == nil {
		return nil, fmt.Errorf("tunnel: no upgrader configured for %s", req.URL.Scheme)
	}

	conn, err := d.handshake(ctx, req.URL)
	if err != nil {
		return nil, err
	}

	ws, err := up.Upgrade(ctx, conn, req.URL, req.Header)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return ws, nil
}

// DialContext returns a raw tunnel to address through the proxy.
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("tunnel: unsupported network %q", network)
	}

	if _, _, err := net.SplitHostPort(address); err != nil {
		return nil, fmt.Errorf("tunnel: invalid address %q: %w", address, err)
	}

	return d.handshake(ctx, &url.URL{Scheme: "ws", Host: address})
}

func (d *Dialer) handshake(ctx context.Context, target *url.URL) (net.Conn, error) {
	if d.cfg.NegotiationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.NegotiationTimeout)
		defer cancel()
	}

	req := NewRequest(target)
	for name, values := range d.cfg.ConnectHeader {
		if err := req.SetHeader(name, strings.Join(values, ", ")); err != nil {
			return nil, err
		}
	}

	log := d.log.WithField("target", req.Authority())
	auths := newAuthenticators(d.proxy, log)

	for {
		ep, err := d.open(ctx)
		if err != nil {
			return nil, &ConnectError{URI: target, Op: "dial", Err: err}
		}

		conn, err := newConnection(ep, req, d.proxy, auths, d.pool, log).run(ctx)
		if errors.Is(err, errReconnect) {
			log.Debug("proxy closed connection during authentication, reconnecting")
			continue
		}
		return conn, err
	}
}

func (d *Dialer) open(ctx context.Context) (Endpoint, error) {
	conn, err := d.forward.DialContext(ctx, "tcp", d.proxy.Addr())
	if err != nil {
		return nil, err
	}

	if d.proxy.TLS {
		cfg := &tls.Config{}
		if d.cfg.TLSConfig != nil {
			cfg = d.cfg.TLSConfig.Clone()
		}
		if cfg.ServerName == "" {
			cfg.ServerName = d.proxy.Host
		}
		if cfg.MinVersion == 0 {
			cfg.MinVersion = tls.VersionTLS12
		}

		tc := tls.Client(conn, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("tls handshake with proxy: %w", err)
		}
		conn = tc
	}

	return newNetEndpoint(conn), nil
}
