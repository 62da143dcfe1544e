// Package upgrade performs the WebSocket opening handshake over a
// connection that has already been tunnelled through a proxy.
package upgrade
