package testutil

import (
	"context"
	"net"
	"sync"
	"testing"
)

// StartScriptedServer listens on loopback and hands the i'th accepted
// connection to handlers[i], one at a time. The returned wait func closes
// the listener and waits for the handlers to return.
func StartScriptedServer(t *testing.T, ctx context.Context, handlers ...func(net.Conn)) (net.Listener, func()) {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		for _, handler := range handlers {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			func() {
				defer c.Close()
				handler(c)
			}()
		}
	})

	var once sync.Once
	wait := func() {
		once.Do(func() {
			_ = ln.Close()
			wg.Wait()
		})
	}
	t.Cleanup(wait)

	return ln, wait
}
