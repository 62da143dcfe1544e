package socks5

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	txsocks5 "github.com/txthinking/socks5"
)

var (
	// ErrAuthRequired is returned when the server insists on
	// username/password authentication and none was configured.
	ErrAuthRequired = errors.New("socks5: server requires username/password")

	// ErrAuthFailed is returned when the server rejects the credentials.
	ErrAuthFailed = errors.New("socks5: authentication failed")
)

// Dial performs the client handshake on conn and asks the server to
// CONNECT to address. The handshake is aborted when ctx is done.
func Dial(ctx context.Context, conn net.Conn, auth Auth, address string) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})

	err := negotiate(conn, auth)
	if err == nil {
		err = connect(conn, address)
	}

	if !stop() {
		return fmt.Errorf("socks5 handshake: %w", context.Cause(ctx))
	}
	return err
}

func negotiate(conn net.Conn, auth Auth) error {
	methods := []byte{txsocks5.MethodNone}
	if auth.Username != "" {
		methods = append(methods, txsocks5.MethodUsernamePassword)
	}

	if _, err := txsocks5.NewNegotiationRequest(methods).WriteTo(conn); err != nil {
		return fmt.Errorf("write negotiation: %w", err)
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("read negotiation: %w", err)
	}

	switch neg.Method {
	case txsocks5.MethodNone:
		return nil
	case txsocks5.MethodUsernamePassword:
		if auth.Username == "" {
			return ErrAuthRequired
		}

		if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(auth.Username), []byte(auth.Password)).WriteTo(conn); err != nil {
			return fmt.Errorf("write userpass: %w", err)
		}
		rep, err := txsocks5.NewUserPassNegotiationReplyFrom(conn)
		if err != nil {
			return fmt.Errorf("read userpass: %w", err)
		}
		if rep.Status != txsocks5.UserPassStatusSuccess {
			return ErrAuthFailed
		}
		return nil
	default:
		return fmt.Errorf("socks5: no acceptable authentication method (server chose %#x)", neg.Method)
	}
}

func connect(conn net.Conn, address string) error {
	atyp, dstAddr, dstPort, err := txsocks5.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("parse address: %w", err)
	}
	if atyp == txsocks5.ATYPDomain {
		dstAddr = dstAddr[1:]
	}

	if _, err := txsocks5.NewRequest(txsocks5.CmdConnect, atyp, dstAddr, dstPort).WriteTo(conn); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	rep, err := txsocks5.NewReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	if rep.Rep != txsocks5.RepSuccess {
		return &ReplyError{Code: rep.Rep}
	}
	return nil
}
