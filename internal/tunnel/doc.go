// Package tunnel opens WebSocket connections through a forward HTTP proxy
// using CONNECT.
//
// A Dialer sends "CONNECT host:port", answers 407 challenges with Basic,
// Digest or NTLM credentials (in that reverse order of preference), drains
// any response body so the stream stays aligned, reconnects when the proxy
// drops the socket between authentication rounds, and finally hands the
// proxy-transparent connection to a plain or TLS WebSocket Upgrader.
//
// Each handshake runs on a single goroutine that owns all of its state. The
// outcome is published through a Future that is resolved exactly once.
package tunnel
