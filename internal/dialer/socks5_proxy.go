package dialer

import (
	"context"
	"fmt"
	"net"

	"github.com/die-net/wsconnect/internal/socks5"
)

// SOCKS5ProxyDialer reaches addresses through a SOCKS5 server.
type SOCKS5ProxyDialer struct {
	direct    Dialer
	proxyAddr string
	auth      socks5.Auth
}

func NewSOCKS5ProxyDialer(cfg Config, proxyAddr, user, pass string) *SOCKS5ProxyDialer {
	return &SOCKS5ProxyDialer{
		direct:    NewDirectDialer(cfg),
		proxyAddr: proxyAddr,
		auth:      socks5.Auth{Username: user, Password: pass},
	}
}

func (f *SOCKS5ProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("socks5 proxy dial %s %s: unsupported network", network, address)
	}

	conn, err := f.direct.DialContext(ctx, "tcp", f.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy: %w", err)
	}

	if err := socks5.Dial(ctx, conn, f.auth, address); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("socks5 proxy dial %s %s: %w", network, address, err)
	}

	return conn, nil
}
