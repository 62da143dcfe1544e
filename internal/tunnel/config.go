package tunnel

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/http/httpproxy"
)

// DefaultReadBufferSize is the size of the pooled buffers used to read
// proxy responses.
const DefaultReadBufferSize = 4096

// Config controls a Dialer.
type Config struct {
	// NegotiationTimeout bounds the whole CONNECT exchange, including
	// authentication rounds and reconnects. Zero means no limit beyond the
	// caller's context.
	NegotiationTimeout time.Duration

	// ReadBufferSize is the size of each read from the proxy. Zero means
	// DefaultReadBufferSize.
	ReadBufferSize int

	// ConnectHeader holds extra headers sent with every CONNECT request,
	// such as User-Agent.
	ConnectHeader http.Header

	// TLSConfig is used when the proxy itself is reached over TLS. The
	// ServerName defaults to the proxy host.
	TLSConfig *tls.Config

	// Plain and TLS perform the WebSocket upgrade for ws and wss targets.
	Plain Upgrader
	TLS   Upgrader

	// Logger receives handshake progress. Nil means logrus.StandardLogger().
	Logger logrus.FieldLogger
}

func (c Config) validate() error {
	for name := range c.ConnectHeader {
		switch http.CanonicalHeaderKey(name) {
		case "Host", proxyAuthorizationHeader:
			return fmt.Errorf("tunnel: ConnectHeader may not set %s", name)
		}
	}
	return nil
}

// ProxyConfig describes the forward proxy and the credentials used to
// answer its challenges. It is read-only while a handshake runs.
type ProxyConfig struct {
	Host string
	Port int

	// Username may carry an NTLM domain as DOMAIN\user.
	Username string
	Password string

	// TLS reaches the proxy over TLS (an https:// proxy URL).
	TLS bool
}

// Addr returns the proxy host:port.
func (p ProxyConfig) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// HasCredentials reports whether both username and password are set.
func (p ProxyConfig) HasCredentials() bool {
	return p.Username != "" && p.Password != ""
}

// Domain returns the part of Username before a backslash.
func (p ProxyConfig) Domain() (string, bool) {
	domain, _, ok := strings.Cut(p.Username, `\`)
	return domain, ok
}

// BareUsername returns Username without any DOMAIN\ prefix.
func (p ProxyConfig) BareUsername() string {
	if _, user, ok := strings.Cut(p.Username, `\`); ok {
		return user
	}
	return p.Username
}

func (p ProxyConfig) validate() error {
	if p.Host == "" {
		return errors.New("tunnel: missing proxy host")
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("tunnel: invalid proxy port %d", p.Port)
	}
	return nil
}

// ParseProxyURL builds a ProxyConfig from http[s]://[user:pass@]host[:port].
// Missing ports default to 80 for http and 443 for https.
func ParseProxyURL(raw string) (ProxyConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ProxyConfig{}, fmt.Errorf("invalid proxy url: %w", err)
	}
	return proxyFromURL(u)
}

func proxyFromURL(u *url.URL) (ProxyConfig, error) {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ProxyConfig{}, fmt.Errorf("invalid proxy url scheme: %q", u.Scheme)
	}
	if u.Path != "" && u.Path != "/" {
		return ProxyConfig{}, errors.New("invalid proxy url: path should be empty")
	}

	p := ProxyConfig{Host: u.Hostname(), TLS: scheme == "https"}
	if p.Host == "" {
		return ProxyConfig{}, errors.New("invalid proxy url: missing host")
	}

	p.Port = 80
	if p.TLS {
		p.Port = 443
	}
	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return ProxyConfig{}, fmt.Errorf("invalid proxy port %q: %w", port, err)
		}
		p.Port = n
	}

	if u.User != nil {
		p.Username = u.User.Username()
		p.Password, _ = u.User.Password()
	}

	return p, p.validate()
}

// ProxyFromEnvironment returns the proxy configured for target by the
// HTTP_PROXY, HTTPS_PROXY and NO_PROXY environment variables (ws uses the
// http setting, wss the https one). It returns nil when no proxy applies.
func ProxyFromEnvironment(target *url.URL) (*ProxyConfig, error) {
	u := *target
	switch strings.ToLower(u.Scheme) {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}

	pu, err := httpproxy.FromEnvironment().ProxyFunc()(&u)
	if err != nil || pu == nil {
		return nil, err
	}

	p, err := proxyFromURL(pu)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
