package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/wsconnect/internal/dialer"
	"github.com/die-net/wsconnect/internal/tunnel"
	"github.com/die-net/wsconnect/internal/upgrade"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("wsconnect", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: wsconnect [flags] ws[s]://host[:port]/path\n\n")
		fs.PrintDefaults()
	}

	var (
		proxyURL = fs.String("proxy", "", "HTTP proxy URL: http[s]://[user:pass@]host:port. Empty uses HTTP_PROXY/HTTPS_PROXY/NO_PROXY.")
		via      = fs.String("via", defaultHop(), "How to reach the proxy: direct:// | socks5://[user:pass@]host:port")

		dialTimeout        = fs.Duration("dial-timeout", 10*time.Second, "Timeout for DNS lookup and TCP connect to the proxy")
		negotiationTimeout = fs.Duration("negotiation-timeout", 10*time.Second, "Timeout for the proxy CONNECT exchange, including authentication")
		handshakeTimeout   = fs.Duration("handshake-timeout", 10*time.Second, "Timeout for the WebSocket opening handshake")
		tcpKeepAlive       = fs.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		tcpUserTimeout     = fs.Duration("tcp-user-timeout", 0, "TCP_USER_TIMEOUT for the proxy connection (Linux only, 0 for system default)")
		bufferSize         = fs.Int("buffer-size", tunnel.DefaultReadBufferSize, "Read buffer size for proxy responses")

		connectHeaders = fs.StringArray("connect-header", nil, "Extra header for the CONNECT request, as 'Name: value' (repeatable)")
		headers        = fs.StringArray("header", nil, "Extra header for the WebSocket upgrade request, as 'Name: value' (repeatable)")
		subprotocols   = fs.StringSlice("subprotocol", nil, "WebSocket subprotocols to offer")
		insecure       = fs.Bool("insecure", false, "Skip TLS certificate verification for the proxy and the target")
		binary         = fs.Bool("binary", false, "Send stdin lines as binary messages")
		verbose        = fs.Bool("verbose", false, "Enable debug logging of the proxy handshake")
	)

	fs.SortFlags = false
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := logrus.New()
	log.SetOutput(stderr)
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("expected exactly one ws:// or wss:// URL")
	}
	target, err := url.Parse(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if s := strings.ToLower(target.Scheme); s != "ws" && s != "wss" {
		return fmt.Errorf("invalid url scheme: %q", target.Scheme)
	}

	ka, err := parseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}
	if *bufferSize <= 0 {
		return errors.New("invalid --buffer-size: must be > 0")
	}

	proxy, err := resolveProxy(*proxyURL, target)
	if err != nil {
		return err
	}

	connectHeader, err := parseHeaders(*connectHeaders)
	if err != nil {
		return fmt.Errorf("invalid --connect-header: %w", err)
	}
	upgradeHeader, err := parseHeaders(*headers)
	if err != nil {
		return fmt.Errorf("invalid --header: %w", err)
	}

	forward, err := dialer.New(dialer.Config{
		DialTimeout: *dialTimeout,
		KeepAlive:   ka,
		UserTimeout: *tcpUserTimeout,
	}, *via)
	if err != nil {
		return fmt.Errorf("invalid --via: %w", err)
	}

	var tlsConfig *tls.Config
	if *insecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // Explicitly requested with --insecure.
	}

	upCfg := upgrade.Config{
		Subprotocols:     *subprotocols,
		HandshakeTimeout: *handshakeTimeout,
		TLSConfig:        tlsConfig,
	}

	d, err := tunnel.NewDialer(tunnel.Config{
		NegotiationTimeout: *negotiationTimeout,
		ReadBufferSize:     *bufferSize,
		ConnectHeader:      connectHeader,
		TLSConfig:          tlsConfig,
		Plain:              upgrade.NewPlain(upCfg),
		TLS:                upgrade.NewTLS(upCfg),
		Logger:             log,
	}, proxy, forward)
	if err != nil {
		return err
	}

	ws, err := d.Dial(ctx, tunnel.UpgradeRequest{URL: target, Header: upgradeHeader})
	if err != nil {
		return err
	}
	log.Infof("connected to %s via proxy %s", target.Redacted(), proxy.Addr())

	messageType := websocket.TextMessage
	if *binary {
		messageType = websocket.BinaryMessage
	}

	return pump(ctx, ws, messageType, stdin, stdout)
}

// pump copies stdin lines to ws and ws messages to stdout until either side
// closes or ctx is done.
func pump(ctx context.Context, ws *websocket.Conn, messageType int, stdin io.Reader, stdout io.Writer) error {
	g, ctx := errgroup.WithContext(ctx)

	stop := context.AfterFunc(ctx, func() {
		_ = ws.Close()
	})
	defer stop()

	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("read: %w", err)
			}
			if _, err := fmt.Fprintf(stdout, "%s\n", msg); err != nil {
				return err
			}
		}
	})

	lines := make(chan string)
	scanErr := make(chan error, 1)
	// The scanner goroutine can't be interrupted while blocked on stdin, so
	// it stays outside the group.
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	g.Go(func() error {
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					var err error
					select {
					case err = <-scanErr:
					default:
					}
					if err != nil {
						return fmt.Errorf("stdin: %w", err)
					}
					return closeAndWait(ctx, ws, done)
				}
				if err := ws.WriteMessage(messageType, []byte(line)); err != nil {
					return fmt.Errorf("write: %w", err)
				}
			case <-done:
				return nil
			case <-ctx.Done():
				return nil
			}
		}
	})

	err := g.Wait()
	_ = ws.Close()
	return err
}

// closeAndWait sends a close frame and waits for the peer to answer it.
func closeAndWait(ctx context.Context, ws *websocket.Conn, done <-chan struct{}) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second)); err != nil {
		return fmt.Errorf("close: %w", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
	}
	return nil
}

func resolveProxy(raw string, target *url.URL) (tunnel.ProxyConfig, error) {
	if raw != "" {
		p, err := tunnel.ParseProxyURL(raw)
		if err != nil {
			return tunnel.ProxyConfig{}, fmt.Errorf("invalid --proxy: %w", err)
		}
		return p, nil
	}

	p, err := tunnel.ProxyFromEnvironment(target)
	if err != nil {
		return tunnel.ProxyConfig{}, fmt.Errorf("proxy from environment: %w", err)
	}
	if p == nil {
		return tunnel.ProxyConfig{}, fmt.Errorf("no proxy configured for %s (set --proxy or HTTP_PROXY/HTTPS_PROXY)", target.Host)
	}
	return *p, nil
}

func parseHeaders(values []string) (http.Header, error) {
	h := make(http.Header, len(values))
	for _, v := range values {
		name, value, ok := strings.Cut(v, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("expected 'Name: value', got %q", v)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := parsePositiveInt(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

// defaultHop honors a SOCKS5 ALL_PROXY as the way to reach the HTTP proxy.
func defaultHop() string {
	for _, name := range []string{"ALL_PROXY", "all_proxy"} {
		if p := os.Getenv(name); strings.HasPrefix(strings.ToLower(p), "socks5://") {
			return p
		}
	}

	return "direct://"
}
