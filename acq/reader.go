// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// ReadFrame fills p with exactly len(p) bytes read from conn.
//
// Each read is bounded by timeout. ReadFrame returns the number of bytes
// consumed from conn, which may be non-zero on error.
func ReadFrame(conn net.Conn, p []byte, timeout time.Duration) (int, error) {
	if conn == nil {
		return 0, ErrDisconnected
	}

	n := 0
	for n < len(p) {
		if timeout > 0 {
			err := conn.SetReadDeadline(time.Now().Add(timeout))
			if err != nil {
				return n, fmt.Errorf("acq: could not set read deadline: %w: %w", ErrDisconnected, err)
			}
		}
		nn, err := conn.Read(p[n:])
		n += nn
		if nn > 0 {
			continue
		}
		switch {
		case err == nil:
			return n, fmt.Errorf("acq: zero-byte read after %d/%d bytes: %w", n, len(p), ErrRead)
		case isTimeout(err):
			return n, fmt.Errorf("acq: read stalled after %d/%d bytes: %w", n, len(p), ErrTimeout)
		case errors.Is(err, net.ErrClosed):
			return n, fmt.Errorf("acq: data connection closed: %w", ErrDisconnected)
		default:
			return n, fmt.Errorf("acq: could not read frame (%d/%d bytes): %w: %w", n, len(p), ErrRead, err)
		}
	}
	return n, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// DialFunc connects to the data endpoint of a unit.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// dataLink is the connection to the data endpoint.
// It is only used from the acquisition goroutine.
type dataLink struct {
	addr    string
	dial    DialFunc
	timeout time.Duration

	conn net.Conn
	auto bool // re-dial on the next read when the link dropped
}

func (dl *dataLink) open(ctx context.Context) error {
	dl.auto = true
	return dl.connect(ctx)
}

func (dl *dataLink) connect(ctx context.Context) error {
	if dl.conn != nil {
		return nil
	}
	if dl.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dl.timeout)
		defer cancel()
	}
	conn, err := dl.dial(ctx, "tcp", dl.addr)
	if err != nil {
		return fmt.Errorf("acq: could not connect to data endpoint %q: %w: %w", dl.addr, ErrDisconnected, err)
	}
	dl.conn = conn
	return nil
}

func (dl *dataLink) connected() bool { return dl.conn != nil }

// read reads one raw frame into p.
// The link is recycled when a failed read may have consumed part of a
// frame, so the next frame starts on a frame boundary.
func (dl *dataLink) read(ctx context.Context, p []byte) error {
	if dl.conn == nil {
		if !dl.auto {
			return ErrDisconnected
		}
		err := dl.connect(ctx)
		if err != nil {
			return err
		}
	}

	n, err := ReadFrame(dl.conn, p, dl.timeout)
	if err != nil && (n > 0 || !errors.Is(err, ErrTimeout)) {
		dl.drop()
	}
	return err
}

func (dl *dataLink) drop() {
	if dl.conn == nil {
		return
	}
	_ = dl.conn.Close()
	dl.conn = nil
}

func (dl *dataLink) close() {
	dl.auto = false
	dl.drop()
}
