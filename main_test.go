package main

import (
	"bytes"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/die-net/wsconnect/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunEcho(t *testing.T) {
	t.Parallel()

	srv := testutil.StartWebSocketEcho(t, false)
	proxy := testutil.StartConnectProxy(t, "user", "pass")

	var stdout, stderr bytes.Buffer
	err := run(t.Context(), []string{
		"--proxy", "http://user:pass@" + proxy.Addr(),
		"--via", "direct://",
		"--connect-header", "User-Agent: wsconnect-test",
		"--header", "Origin: " + srv.URL,
		"--subprotocol", "echo",
		testutil.WebSocketURL(t, srv, "/").String(),
	}, strings.NewReader("hello\nworld\n"), &stdout, &stderr)
	require.NoError(t, err, stderr.String())

	assert.Equal(t, "hello\nworld\n", stdout.String())
	assert.Contains(t, stderr.String(), "connected to")
	assert.EqualValues(t, 1, proxy.Tunnels.Load())
}

func TestRunErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing url", []string{"--proxy", "http://127.0.0.1:1"}, "expected exactly one"},
		{"bad scheme", []string{"--proxy", "http://127.0.0.1:1", "http://example.com/"}, "invalid url scheme"},
		{"bad keepalive", []string{"--proxy", "http://127.0.0.1:1", "--tcp-keepalive", "1:2", "ws://example.com/"}, "invalid --tcp-keepalive"},
		{"bad proxy", []string{"--proxy", "ftp://proxy", "ws://example.com/"}, "invalid --proxy"},
		{"bad hop", []string{"--proxy", "http://127.0.0.1:1", "--via", "ssh://hop", "ws://example.com/"}, "invalid --via"},
		{"bad header", []string{"--proxy", "http://127.0.0.1:1", "--header", "NoColon", "ws://example.com/"}, "invalid --header"},
		{"bad buffer", []string{"--proxy", "http://127.0.0.1:1", "--buffer-size", "0", "ws://example.com/"}, "invalid --buffer-size"},
		{"unknown flag", []string{"--nope"}, "unknown flag"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			err := run(t.Context(), tt.args, strings.NewReader(""), &stdout, &stderr)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunNoProxy(t *testing.T) {
	for _, name := range []string{"HTTP_PROXY", "http_proxy", "HTTPS_PROXY", "https_proxy", "NO_PROXY", "no_proxy"} {
		t.Setenv(name, "")
	}

	var stdout, stderr bytes.Buffer
	err := run(t.Context(), []string{"ws://example.com/"}, strings.NewReader(""), &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no proxy configured")
}

func TestParseHeaders(t *testing.T) {
	t.Parallel()

	h, err := parseHeaders([]string{"User-Agent: a", "x-extra:  b ", "X-Extra: c"})
	require.NoError(t, err)
	assert.Equal(t, "a", h.Get("User-Agent"))
	assert.Equal(t, []string{"b", "c"}, h.Values("X-Extra"))

	_, err = parseHeaders([]string{": value"})
	assert.Error(t, err)
}

func TestDefaultHop(t *testing.T) {
	t.Setenv("ALL_PROXY", "")
	t.Setenv("all_proxy", "")
	assert.Equal(t, "direct://", defaultHop())

	t.Setenv("ALL_PROXY", "http://proxy:3128")
	assert.Equal(t, "direct://", defaultHop())

	t.Setenv("all_proxy", "socks5://hop:1080")
	assert.Equal(t, "socks5://hop:1080", defaultHop())
}

func TestParseTCPKeepAlive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    net.KeepAliveConfig
		wantErr bool
	}{
		{in: "on", want: net.KeepAliveConfig{Enable: true}},
		{in: " OFF ", want: net.KeepAliveConfig{}},
		{in: "45:45:3", want: net.KeepAliveConfig{Enable: true, Idle: 45 * time.Second, Interval: 45 * time.Second, Count: 3}},
		{in: "", wantErr: true},
		{in: "1:2", wantErr: true},
		{in: "0:1:1", wantErr: true},
		{in: "1:x:1", wantErr: true},
		{in: "1:1:-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := parseTCPKeepAlive(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
