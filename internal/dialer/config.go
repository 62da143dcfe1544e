package dialer

import (
	"net"
	"time"
)

type Config struct {
	DialTimeout time.Duration
	KeepAlive   net.KeepAliveConfig

	// UserTimeout bounds how long transmitted data may stay unacknowledged
	// before the kernel drops the connection (TCP_USER_TIMEOUT). Zero leaves
	// the system default. It is ignored where unsupported.
	UserTimeout time.Duration
}
