package tunnel

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrProxyClosed is reported when the proxy closes the connection while
	// no authentication exchange is in progress.
	ErrProxyClosed = errors.New("tunnel: proxy closed connection")

	// ErrNoChallenge is reported for a 407 without Proxy-Authenticate.
	ErrNoChallenge = errors.New("tunnel: proxy requires authentication but failed to provide a challenge")

	// ErrNoAuthenticator is reported when no authentication method accepts
	// any of the offered challenges.
	ErrNoAuthenticator = errors.New("tunnel: failed to respond to proxy authentication challenge")

	// ErrAuthenticatorMismatch is reported when the proxy switches schemes
	// in the middle of a multi-round exchange.
	ErrAuthenticatorMismatch = errors.New("tunnel: selected authentication method can't handle challenge")

	errReconnect = errors.New("tunnel: reconnect")
)

// ConnectError is a connection-level or protocol-level failure: the proxy
// could not be reached, the connection broke, or the response was not
// valid HTTP.
type ConnectError struct {
	URI *url.URL
	Op  string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("tunnel %s %s: %v", e.Op, e.URI.Redacted(), e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ProxyError is returned when the proxy answers CONNECT with a final status
// other than 200.
type ProxyError struct {
	URI        *url.URL
	StatusCode int
	Reason     string
	Message    string
}

func (e *ProxyError) Error() string {
	msg := fmt.Sprintf("tunnel: proxy CONNECT for %s failed: %d %s", e.URI.Redacted(), e.StatusCode, e.Reason)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// AuthError is returned when a 407 challenge cannot be answered.
type AuthError struct {
	URI        *url.URL
	StatusCode int
	Scheme     string
	Err        error
}

func (e *AuthError) Error() string {
	if e.Scheme != "" {
		return fmt.Sprintf("tunnel: %s proxy authentication for %s: %v", e.Scheme, e.URI.Redacted(), e.Err)
	}
	return fmt.Sprintf("tunnel: proxy authentication for %s: %v", e.URI.Redacted(), e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
