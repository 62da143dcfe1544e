package upgrade

import (
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/die-net/wsconnect/internal/dialer"
	"github.com/die-net/wsconnect/internal/socks5"
	"github.com/die-net/wsconnect/internal/testutil"
	"github.com/die-net/wsconnect/internal/tunnel"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTunnelDialer(t *testing.T, p *testutil.ConnectProxy, user, pass string, cfg Config) *tunnel.Dialer {
	t.Helper()

	host, port, err := net.SplitHostPort(p.Addr())
	require.NoError(t, err)
	n, err := strconv.Atoi(port)
	require.NoError(t, err)

	log, _ := test.NewNullLogger()
	d, err := tunnel.NewDialer(tunnel.Config{
		Plain:  NewPlain(cfg),
		TLS:    NewTLS(cfg),
		Logger: log,
	}, tunnel.ProxyConfig{Host: host, Port: n, Username: user, Password: pass}, nil)
	require.NoError(t, err)
	return d
}

func assertWSEcho(t *testing.T, ws *websocket.Conn, mt int, msg string) {
	t.Helper()

	require.NoError(t, ws.WriteMessage(mt, []byte(msg)))
	gotType, got, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, mt, gotType)
	assert.Equal(t, msg, string(got))
}

func TestUpgradeThroughProxy(t *testing.T) {
	t.Parallel()

	for _, secure := range []bool{false, true} {
		t.Run("tls="+strconv.FormatBool(secure), func(t *testing.T) {
			t.Parallel()

			srv := testutil.StartWebSocketEcho(t, secure)
			proxy := testutil.StartConnectProxy(t, "user", "pass")

			cfg := Config{Subprotocols: []string{"chat"}}
			if secure {
				cfg.TLSConfig = srv.Client().Transport.(*http.Transport).TLSClientConfig
			}
			d := newTunnelDialer(t, proxy, "user", "pass", cfg)

			target := testutil.WebSocketURL(t, srv, "/echo")
			ws, err := d.Dial(t.Context(), tunnel.UpgradeRequest{URL: target})
			require.NoError(t, err)
			defer ws.Close()

			assert.Equal(t, "chat", ws.Subprotocol())
			assertWSEcho(t, ws, websocket.TextMessage, "hello")
			assertWSEcho(t, ws, websocket.BinaryMessage, "\x00\x01\x02")
			assert.EqualValues(t, 1, proxy.Tunnels.Load())
		})
	}
}

func TestUpgradeConnectFuture(t *testing.T) {
	t.Parallel()

	srv := testutil.StartWebSocketEcho(t, false)
	proxy := testutil.StartConnectProxy(t, "", "")
	d := newTunnelDialer(t, proxy, "", "", Config{})

	f := d.Connect(t.Context(), tunnel.UpgradeRequest{
		URL:    testutil.WebSocketURL(t, srv, "/"),
		Header: http.Header{"Origin": {srv.URL}},
	})
	ws, err := f.Wait(t.Context())
	require.NoError(t, err)
	defer ws.Close()

	assertWSEcho(t, ws, websocket.TextMessage, "future")
}

func TestUpgradeRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	proxy := testutil.StartConnectProxy(t, "", "")
	d := newTunnelDialer(t, proxy, "", "", Config{})

	_, err := d.Dial(t.Context(), tunnel.UpgradeRequest{URL: testutil.WebSocketURL(t, srv, "/missing")})
	var he *HandshakeError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusNotFound, he.StatusCode)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
}

func TestProxyRequiresCredentials(t *testing.T) {
	t.Parallel()

	srv := testutil.StartWebSocketEcho(t, false)
	proxy := testutil.StartConnectProxy(t, "user", "pass")
	d := newTunnelDialer(t, proxy, "user", "wrong", Config{})

	_, err := d.Dial(t.Context(), tunnel.UpgradeRequest{URL: testutil.WebSocketURL(t, srv, "/")})
	var pe *tunnel.ProxyError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusProxyAuthRequired, pe.StatusCode)
}

func TestOnceDialer(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	dial := onceDialer(a)
	c, err := dial(t.Context(), "tcp", "x:1")
	require.NoError(t, err)
	assert.Same(t, a, c)

	_, err = dial(t.Context(), "tcp", "x:1")
	assert.ErrorIs(t, err, errConnUsed)
}

func TestHandshakeError(t *testing.T) {
	t.Parallel()

	u, err := url.Parse("ws://user:secret@example.com/")
	require.NoError(t, err)

	e := &HandshakeError{URL: u.Redacted(), StatusCode: 403, Err: websocket.ErrBadHandshake}
	assert.ErrorIs(t, e, websocket.ErrBadHandshake)
	assert.NotContains(t, e.Error(), "secret")
	assert.Contains(t, e.Error(), "403")
}

func TestUpgradeThroughSOCKS5Hop(t *testing.T) {
	t.Parallel()

	srv := testutil.StartWebSocketEcho(t, false)
	proxy := testutil.StartConnectProxy(t, "", "")

	hop, _ := testutil.StartScriptedServer(t, t.Context(), func(c net.Conn) {
		dst, err := socks5.ServeConnect(t.Context(), c, socks5.Auth{Username: "hop", Password: "secret"})
		if err != nil {
			return
		}
		_ = testutil.CopyBidirectional(t.Context(), c, dst)
	})

	forward, err := dialer.New(dialer.Config{}, "socks5://hop:secret@"+hop.Addr().String())
	require.NoError(t, err)

	host, port, err := net.SplitHostPort(proxy.Addr())
	require.NoError(t, err)
	n, err := strconv.Atoi(port)
	require.NoError(t, err)

	log, _ := test.NewNullLogger()
	d, err := tunnel.NewDialer(tunnel.Config{Plain: NewPlain(Config{}), Logger: log},
		tunnel.ProxyConfig{Host: host, Port: n}, forward)
	require.NoError(t, err)

	ws, err := d.Dial(t.Context(), tunnel.UpgradeRequest{URL: testutil.WebSocketURL(t, srv, "/")})
	require.NoError(t, err)
	defer ws.Close()

	assertWSEcho(t, ws, websocket.TextMessage, "via socks5")
}
