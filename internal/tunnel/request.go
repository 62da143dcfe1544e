package tunnel

import (
	"fmt"
	"net"
	"net/textproto"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Request is the CONNECT request for one target. It is mutated in place
// across authentication rounds and moved, never shared, into a replacement
// connection when the proxy drops the socket mid-handshake.
type Request struct {
	target *url.URL
	header map[string]string

	authComplete bool
	auth         Authenticator

	// reconnected is set once the single reconnect allowed per
	// authentication round has been used.
	reconnected bool

	rounds int
}

// NewRequest returns a Request for the ws or wss target URI.
func NewRequest(target *url.URL) *Request {
	return &Request{target: target, header: make(map[string]string)}
}

// Target returns the WebSocket URI being tunnelled to.
func (r *Request) Target() *url.URL {
	return r.target
}

// SetHeader sets an extra request header, replacing any previous value.
func (r *Request) SetHeader(name, value string) error {
	if !httpguts.ValidHeaderFieldName(name) {
		return fmt.Errorf("tunnel: invalid header name %q", name)
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return fmt.Errorf("tunnel: invalid value for header %q", name)
	}
	r.header[textproto.CanonicalMIMEHeaderKey(name)] = value
	return nil
}

// Header returns the value of an extra request header.
func (r *Request) Header(name string) string {
	return r.header[textproto.CanonicalMIMEHeaderKey(name)]
}

// AuthComplete reports whether the selected Authenticator expects no
// further rounds.
func (r *Request) AuthComplete() bool {
	return r.authComplete
}

// SetAuthComplete records whether authentication is finished.
func (r *Request) SetAuthComplete(complete bool) {
	r.authComplete = complete
}

// Authenticator returns the authentication method selected for this
// request, or nil.
func (r *Request) Authenticator() Authenticator {
	return r.auth
}

func (r *Request) setAuthenticator(a Authenticator) {
	r.auth = a
}

// Authority returns the CONNECT request-target, host:port. The port is the
// explicit one or the scheme default.
func (r *Request) Authority() string {
	return net.JoinHostPort(r.target.Hostname(), strconv.Itoa(r.port()))
}

func (r *Request) port() int {
	if p, err := strconv.Atoi(r.target.Port()); err == nil && p > 0 {
		return p
	}
	return defaultPort(r.target.Scheme)
}

func (r *Request) hostHeader() string {
	host := r.target.Hostname()
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if p, err := strconv.Atoi(r.target.Port()); err == nil && p > 0 && p != defaultPort(r.target.Scheme) {
		host += ":" + strconv.Itoa(p)
	}
	return host
}

// Render returns the request head:
//
//	CONNECT host:port HTTP/1.1
//	Host: host[:port]
//	<extra headers>
//
// terminated by a blank line. Extra headers are written in name order.
func (r *Request) Render() []byte {
	var b strings.Builder
	b.Grow(512)

	b.WriteString("CONNECT ")
	b.WriteString(r.Authority())
	b.WriteString(" HTTP/1.1\r\nHost: ")
	b.WriteString(r.hostHeader())
	b.WriteString("\r\n")

	names := make([]string, 0, len(r.header))
	for name := range r.header {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(r.header[name])
		b.WriteString("\r\n")
	}

	b.WriteString("\r\n")
	return []byte(b.String())
}

func defaultPort(scheme string) int {
	switch strings.ToLower(scheme) {
	case "wss", "https":
		return 443
	default:
		return 80
	}
}
