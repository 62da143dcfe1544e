package tunnel

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestRequestRender(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target string
		want   string
	}{
		{
			name:   "ws default port",
			target: "ws://example.com/chat",
			want:   "CONNECT example.com:80 HTTP/1.1\r\nHost: example.com\r\n\r\n",
		},
		{
			name:   "wss default port",
			target: "wss://example.com/chat",
			want:   "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com\r\n\r\n",
		},
		{
			name:   "explicit default port",
			target: "wss://example.com:443/",
			want:   "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com\r\n\r\n",
		},
		{
			name:   "explicit port",
			target: "ws://example.com:8080/",
			want:   "CONNECT example.com:8080 HTTP/1.1\r\nHost: example.com:8080\r\n\r\n",
		},
		{
			name:   "ipv6",
			target: "ws://[::1]:9000/",
			want:   "CONNECT [::1]:9000 HTTP/1.1\r\nHost: [::1]:9000\r\n\r\n",
		},
		{
			name:   "ipv6 default port",
			target: "wss://[2001:db8::1]/",
			want:   "CONNECT [2001:db8::1]:443 HTTP/1.1\r\nHost: [2001:db8::1]\r\n\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := NewRequest(mustURL(t, tt.target))
			got := string(req.Render())
			assert.Equal(t, tt.want, got)
			assert.True(t, strings.HasPrefix(got, "CONNECT "))
			assert.True(t, strings.HasSuffix(got, "\r\n\r\n"))
		})
	}
}

func TestRequestHeaders(t *testing.T) {
	t.Parallel()

	req := NewRequest(mustURL(t, "ws://example.com/"))
	require.NoError(t, req.SetHeader("user-agent", "wsconnect"))
	require.NoError(t, req.SetHeader("Proxy-Authorization", "Basic old"))
	require.NoError(t, req.SetHeader("proxy-authorization", "Basic new"))

	assert.Equal(t, "Basic new", req.Header("Proxy-Authorization"))
	assert.Equal(t,
		"CONNECT example.com:80 HTTP/1.1\r\nHost: example.com\r\nProxy-Authorization: Basic new\r\nUser-Agent: wsconnect\r\n\r\n",
		string(req.Render()))

	assert.Error(t, req.SetHeader("bad name", "x"))
	assert.Error(t, req.SetHeader("X-Injected", "a\r\nEvil: yes"))
}

func TestRequestAuthState(t *testing.T) {
	t.Parallel()

	req := NewRequest(mustURL(t, "ws://example.com/"))
	assert.False(t, req.AuthComplete())
	assert.Nil(t, req.Authenticator())

	a := newBasicAuth(ProxyConfig{Username: "u", Password: "p"})
	req.setAuthenticator(a)
	req.SetAuthComplete(true)
	assert.True(t, req.AuthComplete())
	assert.Same(t, a, req.Authenticator())
}
