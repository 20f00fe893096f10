// Package xport implements the per-connection state machine (spec §4.2)
// over a reliable-datagram socket. The real fabric runs this over rsocket
// (RDMA transport with TCP-like semantics, §6); rsocket and the verbs
// library are out of scope (spec §1), so this package talks to a Socket
// interface and ships a TCP-backed implementation that applies the same
// socket options (§6: SO_REUSEADDR, TCP_NODELAY, keep-alive).
/*
 * Copyright (c) 2024, OpenFabrics Alliance. All rights reserved.
 */
package xport

import (
	"context"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Socket is the minimal surface the connection engine needs out of the
// underlying transport. A real rsocket binding and this net.Conn-backed
// one both satisfy it.
type Socket interface {
	net.Conn
}

// Dial opens an upstream connection to addr (host:port), applying
// TCP_NODELAY and keep-alive per §6.
func Dial(ctx context.Context, addr string, keepalive time.Duration) (Socket, error) {
	d := net.Dialer{Control: controlReuseAddr}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	tc := conn.(*net.TCPConn)
	_ = tc.SetNoDelay(true)
	if keepalive > 0 {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(keepalive)
	}
	return tc, nil
}

// Listen opens a listening socket on addr, setting SO_REUSEADDR so a
// restarted service can rebind its well-known replication/admin port
// immediately (§6).
func Listen(addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: controlReuseAddr}
	return lc.Listen(context.Background(), "tcp", addr)
}

// AcceptTuning applies the accept-side socket options §4.6 requires
// ("enable keep-alive, set TCP_NODELAY and non-blocking") to a freshly
// accepted child connection.
func AcceptTuning(conn net.Conn, keepalive time.Duration) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetNoDelay(true)
	if keepalive > 0 {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(keepalive)
	}
}

func controlReuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
