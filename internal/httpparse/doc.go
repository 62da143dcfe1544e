// Package httpparse incrementally parses the status line and header block of
// an HTTP/1.1 response.
//
// The parser is fed arbitrary byte chunks as they arrive from the network and
// reports the status, each header field, and finally any bytes it read past
// the end of the header block to a Listener. Running out of input is not an
// error; Parse simply reports that the header block is not complete yet.
package httpparse
