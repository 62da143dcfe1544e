// Package dialer decides how the HTTP proxy itself is reached: directly, or
// through a SOCKS5 hop. It also applies TCP socket options to the
// connections it makes.
package dialer
