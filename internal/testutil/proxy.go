package testutil

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"
)

// ConnectProxy is a minimal HTTP CONNECT forward proxy for tests.
type ConnectProxy struct {
	// Username and Password, when set, require Basic proxy authentication.
	Username string
	Password string

	// Tunnels counts successfully opened tunnels.
	Tunnels atomic.Int64

	ln     net.Listener
	srv    *http.Server
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// StartConnectProxy serves a ConnectProxy on loopback until the test ends.
func StartConnectProxy(t *testing.T, username, password string) *ConnectProxy {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(t.Context(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	p := &ConnectProxy{Username: username, Password: password, ln: ln}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.srv = &http.Server{Handler: http.HandlerFunc(p.handle)}
	p.wg.Go(func() {
		_ = p.srv.Serve(ln)
	})
	t.Cleanup(p.Close)

	return p
}

// Addr returns the proxy's listen address.
func (p *ConnectProxy) Addr() string {
	return p.ln.Addr().String()
}

// Close stops the proxy and waits for open tunnels to finish.
func (p *ConnectProxy) Close() {
	_ = p.srv.Close()
	p.cancel()
	p.wg.Wait()
}

func (p *ConnectProxy) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodConnect {
		http.Error(w, "only CONNECT is supported", http.StatusMethodNotAllowed)
		return
	}

	if p.Username != "" && !p.authorized(r) {
		w.Header().Set("Proxy-Authenticate", `Basic realm="test"`)
		http.Error(w, "proxy authentication required", http.StatusProxyAuthRequired)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, brw, err := hj.Hijack()
	if err != nil {
		http.Error(w, "hijack failed", http.StatusInternalServerError)
		return
	}

	dd := net.Dialer{}
	serverConn, err := dd.DialContext(r.Context(), "tcp", r.Host)
	if err != nil {
		_, _ = writeError(brw, err, http.StatusBadGateway)
		_ = brw.Flush()
		_ = clientConn.Close()
		return
	}

	p.Tunnels.Add(1)
	_, _ = brw.WriteString("HTTP/1.1 200 Connection Established\r\n\r\n")
	_ = brw.Flush()

	p.wg.Go(func() {
		_ = CopyBidirectional(p.ctx, &bufferedConn{Conn: clientConn, r: brw.Reader}, serverConn)
	})
}

func (p *ConnectProxy) authorized(r *http.Request) bool {
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte(p.Username+":"+p.Password))
	return r.Header.Get("Proxy-Authorization") == want
}

// writeError simulates http.Error() for use on a hijacked connection.
func writeError(brw *bufio.ReadWriter, err error, code int) (int, error) {
	return fmt.Fprintf(brw, "HTTP/1.1 %d %s\r\nContent-Type: text/plain; charset=utf-8\r\nConnection: close\r\n\r\n%s\r\n", code, http.StatusText(code), err.Error())
}

// bufferedConn reads through the hijacked bufio.Reader so bytes the client
// sent right behind its CONNECT request are not lost.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}

// CopyBidirectional copies between left and right until either side is
// done or ctx is canceled, then closes both.
func CopyBidirectional(ctx context.Context, left, right net.Conn) error {
	var g errgroup.Group

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = left.Close()
			_ = right.Close()
		})
	}
	defer closeBoth()

	// If the context is canceled, ensure we close both sides to unblock Copy.
	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	g.Go(func() error {
		defer closeBoth()
		_, err := io.Copy(left, right)
		return err
	})

	g.Go(func() error {
		defer closeBoth()
		_, err := io.Copy(right, left)
		return err
	})

	return g.Wait()
}
