package tunnel

import (
	"net"
	"sync"
)

// Endpoint is the byte stream to the proxy.
type Endpoint interface {
	// Fill reads into b. It returns 0 and a nil error when no data is
	// available yet.
	Fill(b []byte) (int, error)

	// Flush writes all of b.
	Flush(b []byte) error

	// ShutdownOutput half-closes the stream, if supported.
	ShutdownOutput() error

	Close() error

	// NetConn returns the underlying connection.
	NetConn() net.Conn
}

type closeWriter interface {
	CloseWrite() error
}

type netEndpoint struct {
	conn net.Conn
}

func newNetEndpoint(conn net.Conn) *netEndpoint {
	return &netEndpoint{conn: conn}
}

func (e *netEndpoint) Fill(b []byte) (int, error) {
	return e.conn.Read(b)
}

func (e *netEndpoint) Flush(b []byte) error {
	for len(b) > 0 {
		n, err := e.conn.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func (e *netEndpoint) ShutdownOutput() error {
	if cw, ok := e.conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return nil
}

func (e *netEndpoint) Close() error {
	return e.conn.Close()
}

func (e *netEndpoint) NetConn() net.Conn {
	return e.conn
}

// prefixConn returns pending bytes before reading from Conn. It holds data
// the proxy sent after its 200 response.
type prefixConn struct {
	net.Conn
	pending []byte
}

func (c *prefixConn) Read(b []byte) (int, error) {
	if len(c.pending) > 0 {
		n := copy(b, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}
	return c.Conn.Read(b)
}

func (c *prefixConn) CloseWrite() error {
	if cw, ok := c.Conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return nil
}

type bufferPool struct {
	pool sync.Pool
}

func newBufferPool(size int) *bufferPool {
	bp := &bufferPool{}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}

	return bp
}

func (p *bufferPool) Get() []byte {
	b := p.pool.Get().(*[]byte)
	return *b
}

func (p *bufferPool) Put(b []byte) {
	// This &b forces a 32-byte heap allocation.  There's no way to avoid this when converting a non-pointer to an interface{}.
	p.pool.Put(&b)
}
