package relay

import (
	"net"
	"time"
)

// socketBufferSize is the 512 KiB send/receive buffer size spec.md §4.5
// names for every accepted relay socket.
const socketBufferSize = 512 * 1024

// keepAliveIdle, keepAliveInterval, and keepAliveCount are the
// aggressive keepalive parameters spec.md §4.5 names (30s/5s/3 probes).
const (
	keepAliveIdle     = 30 * time.Second
	keepAliveInterval = 5 * time.Second
	keepAliveCount    = 3
)

// tuneSocket applies TCP_NODELAY, keepalive, and buffer-size settings to
// a freshly accepted relay connection. Non-TCP connections (used in
// tests via net.Pipe) are left untouched. Go 1.23's SetKeepAliveConfig
// exposes Idle/Interval/Count directly on net.TCPConn without any raw
// syscall or OS-specific tcp_info parsing.
func tuneSocket(conn net.Conn) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tcp.SetNoDelay(true)
	_ = tcp.SetKeepAliveConfig(net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepAliveIdle,
		Interval: keepAliveInterval,
		Count:    keepAliveCount,
	})
	_ = tcp.SetReadBuffer(socketBufferSize)
	_ = tcp.SetWriteBuffer(socketBufferSize)
}
