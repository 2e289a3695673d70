// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package scpi speaks newline-framed SCPI over TCP. It provides the byte
// transport, a profile-driven driver for supplies and loads, and a static
// enumerator over configured endpoints.
package scpi

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"time"

	"github.com/ManuGH/labctl/internal/fault"
)

// maxResponseSize bounds one framed response line.
const maxResponseSize = 1 << 20

// Transport is a TCP connection carrying newline-terminated SCPI exchanges.
// Not safe for concurrent use; the owning session serializes access.
type Transport struct {
	conn net.Conn
	rd   *bufio.Reader
}

// Dial connects to an instrument at addr (host:port).
func Dial(ctx context.Context, addr string) (*Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransport, "scpi.dial", err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &Transport{
		conn: conn,
		rd:   bufio.NewReaderSize(conn, maxResponseSize),
	}, nil
}

// Send writes one request line and reads one response line. A request with
// no query form still produces a response because drivers append an error
// query to every write. The ctx deadline bounds the whole exchange.
func (t *Transport) Send(ctx context.Context, request []byte) ([]byte, error) {
	const op = "scpi.send"

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(2 * time.Second)
	}
	if err := t.conn.SetDeadline(deadline); err != nil {
		return nil, fault.Wrap(fault.KindTransport, op, err)
	}

	msg := request
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		msg = append(append([]byte(nil), request...), '\n')
	}
	if _, err := t.conn.Write(msg); err != nil {
		return nil, fault.Wrap(fault.KindTransport, op, err)
	}

	line, err := t.rd.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		return nil, fault.Newf(fault.KindProtocol, op, "response exceeds %d bytes", maxResponseSize)
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindTransport, op, err)
	}
	return bytes.TrimRight(append([]byte(nil), line...), "\r\n"), nil
}

// Close shuts the connection down.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// Addr returns the remote address, for logging.
func (t *Transport) Addr() string {
	return t.conn.RemoteAddr().String()
}
