package dialer

import (
	"context"
	"net"
	"testing"
	"time"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/wsconnect/internal/socks5"
	"github.com/die-net/wsconnect/internal/testutil"
)

func TestSOCKS5ProxyDialerDialSuccess(t *testing.T) {
	tests := []struct {
		name string
		user string
		pass string
	}{
		{name: "no_auth"},
		{name: "user_pass", user: "user", pass: "pass"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
			defer cancel()

			echoLn := testutil.StartEchoTCPServer(t, ctx)
			defer echoLn.Close()

			upLn, waitUp := testutil.StartScriptedServer(t, ctx, func(c net.Conn) {
				dst, err := socks5.ServeConnect(ctx, c, socks5.Auth{Username: tt.user, Password: tt.pass})
				if err != nil {
					return
				}
				_ = testutil.CopyBidirectional(ctx, c, dst)
			})

			f := NewSOCKS5ProxyDialer(Config{DialTimeout: 2 * time.Second}, upLn.Addr().String(), tt.user, tt.pass)

			conn, err := f.DialContext(ctx, "tcp", echoLn.Addr().String())
			if err != nil {
				t.Fatal(err)
			}

			testutil.AssertEcho(t, conn, conn, []byte("hello"))
			_ = conn.Close()

			waitUp()
		})
	}
}

func TestSOCKS5ProxyDialerDialContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	// The hop accepts but never answers the negotiation.
	upLn, waitUp := testutil.StartScriptedServer(t, t.Context(), func(c net.Conn) {
		buf := make([]byte, 64)
		for {
			if _, err := c.Read(buf); err != nil {
				return
			}
		}
	})

	f := NewSOCKS5ProxyDialer(Config{DialTimeout: 2 * time.Second}, upLn.Addr().String(), "", "")

	_, err := f.DialContext(ctx, "tcp", "127.0.0.1:1")
	if err == nil {
		t.Fatalf("expected error")
	}

	waitUp()
}

func TestSOCKS5ProxyDialerDialFail(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	upLn, waitUp := testutil.StartScriptedServer(t, ctx, func(c net.Conn) {
		if err := socks5.ServerNegotiate(c, socks5.Auth{}); err != nil {
			return
		}
		req, err := socks5.ServerReadRequest(c)
		if err != nil {
			return
		}
		socks5.WriteFailureReply(c, txsocks5.RepConnectionRefused, req.Atyp)
	})

	f := NewSOCKS5ProxyDialer(Config{DialTimeout: 2 * time.Second}, upLn.Addr().String(), "", "")

	_, err := f.DialContext(ctx, "tcp", "127.0.0.1:1")
	if err == nil {
		t.Fatalf("expected error")
	}

	waitUp()
}

func TestSOCKS5ProxyDialerNetwork(t *testing.T) {
	f := NewSOCKS5ProxyDialer(Config{}, "127.0.0.1:1", "", "")
	if _, err := f.DialContext(t.Context(), "udp", "127.0.0.1:53"); err == nil {
		t.Fatal("expected error")
	}
}
