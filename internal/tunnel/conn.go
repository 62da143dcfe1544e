package tunnel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

type connState int

const (
	stateOpened connState = iota
	stateSendingRequest
	stateAwaitingResponse
	stateAuthenticating
	stateEstablished
	stateFailed
)

func (s connState) String() string {
	switch s {
	case stateOpened:
		return "opened"
	case stateSendingRequest:
		return "sending-request"
	case stateAwaitingResponse:
		return "awaiting-response"
	case stateAuthenticating:
		return "authenticating"
	case stateEstablished:
		return "established"
	case stateFailed:
		return "failed"
	default:
		return fmt.Sprintf("connState(%d)", int(s))
	}
}

// maxAuthRounds bounds the 407 loop for schemes that never report
// completion, such as a Digest proxy that keeps issuing fresh nonces.
const maxAuthRounds = 8

var aLongTimeAgo = time.Unix(1, 0)

// connection drives one CONNECT exchange over one proxy socket. The Request
// outlives it when the proxy closes the socket mid-authentication.
type connection struct {
	ep     Endpoint
	req    *Request
	proxy  ProxyConfig
	auths  []Authenticator
	framer *Framer
	pool   *bufferPool
	log    logrus.FieldLogger

	state  connState
	excess []byte
}

func newConnection(ep Endpoint, req *Request, proxy ProxyConfig, auths []Authenticator, pool *bufferPool, log logrus.FieldLogger) *connection {
	return &connection{
		ep:     ep,
		req:    req,
		proxy:  proxy,
		auths:  auths,
		framer: NewFramer(NewResponse()),
		pool:   pool,
		log:    log,
	}
}

// run sends the request and reads responses until the tunnel is
// established or fails. errReconnect means the caller should open a new
// socket and run a new connection with the same Request.
func (c *connection) run(ctx context.Context) (net.Conn, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.ep.NetConn().SetDeadline(aLongTimeAgo)
	})

	err := c.onOpen()
	for err == nil && c.state != stateEstablished {
		err = c.onFillable()
	}

	if !stop() {
		err = &ConnectError{URI: c.req.Target(), Op: "negotiate", Err: context.Cause(ctx)}
	}

	switch {
	case errors.Is(err, errReconnect):
		c.disconnect()
		return nil, err
	case err != nil:
		c.fail(err)
		return nil, err
	}

	return c.establish(), nil
}

func (c *connection) setState(s connState) {
	if c.state == s {
		return
	}
	c.state = s
	c.log.WithField("state", s).Debug("tunnel state")
}

func (c *connection) onOpen() error {
	c.setState(stateSendingRequest)
	if err := c.ep.Flush(c.req.Render()); err != nil {
		return c.lost("write", err)
	}
	c.setState(stateAwaitingResponse)
	return nil
}

func (c *connection) onFillable() error {
	buf := c.pool.Get()
	defer c.pool.Put(buf)

	n, err := c.ep.Fill(buf)

	chunk := buf[:n]
	for len(chunk) > 0 {
		resp, consumed, ferr := c.framer.Feed(chunk)
		if ferr != nil {
			return &ConnectError{URI: c.req.Target(), Op: "read response", Err: ferr}
		}
		chunk = chunk[consumed:]
		if resp == nil {
			continue
		}

		c.req.reconnected = false
		if verr := c.validate(resp); verr != nil {
			return verr
		}
		if c.state == stateEstablished {
			c.excess = bytes.Clone(chunk)
			return nil
		}
	}

	if err != nil {
		return c.lost("read", err)
	}
	return nil
}

// validate acts on a complete response. It returns nil once the tunnel is
// established or the next request has been sent.
func (c *connection) validate(resp *Response) error {
	c.log.Debugf("proxy responded %d %s", resp.StatusCode, resp.Reason)

	switch {
	case resp.StatusCode == 200:
		c.setState(stateEstablished)
		return nil
	case resp.StatusCode != 407:
		return c.rejected(resp, "")
	case c.req.AuthComplete():
		return c.rejected(resp, "credentials rejected")
	case !c.proxy.HasCredentials():
		return c.rejected(resp, "proxy requires authentication but no credentials are configured")
	}

	c.req.rounds++
	if c.req.rounds > maxAuthRounds {
		return c.rejected(resp, "too many authentication rounds")
	}

	c.setState(stateAuthenticating)

	challenges := resp.Values(proxyAuthenticateHeader)
	if len(challenges) == 0 {
		return &AuthError{URI: c.req.Target(), StatusCode: resp.StatusCode, Err: ErrNoChallenge}
	}

	a, err := selectAuthenticator(c.req, c.auths, challenges, c.log)
	if err != nil {
		return &AuthError{URI: c.req.Target(), StatusCode: resp.StatusCode, Err: err}
	}
	c.req.setAuthenticator(a)

	if err := a.Apply(c.req); err != nil {
		return &AuthError{URI: c.req.Target(), StatusCode: resp.StatusCode, Scheme: a.Scheme(), Err: err}
	}
	c.log.WithField("scheme", a.Scheme()).Debug("answering proxy authentication challenge")

	c.framer = NewFramer(NewResponse())

	if resp.Unframed || resp.hasToken("connection", "close") || resp.hasToken("proxy-connection", "close") {
		c.req.reconnected = true
		return errReconnect
	}

	return c.onOpen()
}

func (c *connection) rejected(resp *Response, msg string) error {
	return &ProxyError{URI: c.req.Target(), StatusCode: resp.StatusCode, Reason: resp.Reason, Message: msg}
}

// lost handles a broken socket. Once an authentication method is selected
// the proxy may recycle the connection between rounds, so the first loss
// per round asks for a reconnect.
func (c *connection) lost(op string, err error) error {
	if isConnectionClosed(err) {
		if c.req.Authenticator() != nil && !c.req.reconnected {
			c.req.reconnected = true
			return errReconnect
		}
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: %w", ErrProxyClosed, io.ErrUnexpectedEOF)
		}
	}
	return &ConnectError{URI: c.req.Target(), Op: op, Err: err}
}

func (c *connection) fail(err error) {
	c.setState(stateFailed)
	c.log.WithError(err).Debug("tunnel failed")
	c.disconnect()
}

func (c *connection) disconnect() {
	_ = c.ep.ShutdownOutput()
	_ = c.ep.Close()
}

func (c *connection) establish() net.Conn {
	conn := c.ep.NetConn()
	if len(c.excess) == 0 {
		return conn
	}
	return &prefixConn{Conn: conn, pending: c.excess}
}

func isConnectionClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
