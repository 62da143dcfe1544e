package socks5

import (
	"context"
	"fmt"
	"net"
	"slices"

	txsocks5 "github.com/txthinking/socks5"
)

// ServerNegotiate performs the server side of method negotiation, requiring
// auth when auth.Username is set.
func ServerNegotiate(conn net.Conn, auth Auth) error {
	neg, err := txsocks5.NewNegotiationRequestFrom(conn)
	if err != nil {
		return fmt.Errorf("negotiation request: %w", err)
	}

	if auth.Username != "" {
		if !slices.Contains(neg.Methods, txsocks5.MethodUsernamePassword) {
			writeNoAcceptableMethods(conn)
			return fmt.Errorf("client does not support username/password")
		}
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodUsernamePassword).WriteTo(conn); err != nil {
			return fmt.Errorf("negotiation reply: %w", err)
		}

		urq, err := txsocks5.NewUserPassNegotiationRequestFrom(conn)
		if err != nil {
			return fmt.Errorf("read userpass: %w", err)
		}
		if string(urq.Uname) != auth.Username || string(urq.Passwd) != auth.Password {
			_, _ = txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(conn)
			return ErrAuthFailed
		}
		if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(conn); err != nil {
			return fmt.Errorf("write userpass: %w", err)
		}
		return nil
	}

	if !slices.Contains(neg.Methods, txsocks5.MethodNone) {
		writeNoAcceptableMethods(conn)
		return fmt.Errorf("client does not support no-auth")
	}
	if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(conn); err != nil {
		return fmt.Errorf("negotiation reply: %w", err)
	}
	return nil
}

// ServerReadRequest reads the client's command request.
func ServerReadRequest(conn net.Conn) (*txsocks5.Request, error) {
	req, err := txsocks5.NewRequestFrom(conn)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	return req, nil
}

// ServeConnect answers one client on conn: it negotiates, dials the
// requested address and returns the upstream connection after a success
// reply. The caller owns both connections.
func ServeConnect(ctx context.Context, conn net.Conn, auth Auth) (net.Conn, error) {
	if err := ServerNegotiate(conn, auth); err != nil {
		return nil, err
	}

	req, err := ServerReadRequest(conn)
	if err != nil {
		return nil, err
	}
	if req.Cmd != CmdConnect {
		WriteFailureReply(conn, txsocks5.RepCommandNotSupported, req.Atyp)
		return nil, fmt.Errorf("unsupported command %#x", req.Cmd)
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", req.Address())
	if err != nil {
		WriteFailureReply(conn, txsocks5.RepConnectionRefused, req.Atyp)
		return nil, err
	}

	if err := WriteSuccessReply(conn, dst.LocalAddr()); err != nil {
		_ = dst.Close()
		return nil, err
	}
	return dst, nil
}
