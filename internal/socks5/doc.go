// Package socks5 is the SOCKS5 handshake used when the HTTP proxy itself is
// only reachable through a SOCKS5 hop.
//
// It wraps the wire types in github.com/txthinking/socks5: the client side
// negotiates methods, authenticates and issues CONNECT; the server side is
// enough to stand up a loopback hop in tests.
package socks5
