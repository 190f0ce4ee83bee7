// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ctl

import (
	"bufio"
	"errors"
	"io"
	"log"
	"net"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wycx/dtacq-adc/internal/fakedev"
)

func newTestClient(t *testing.T) (*Client, *fakedev.Device) {
	t.Helper()

	dev, err := fakedev.New()
	if err != nil {
		t.Fatalf("could not create fake device: %+v", err)
	}
	t.Cleanup(func() { _ = dev.Close() })

	c, err := Dial(dev.CtlAddr(), WithLogger(log.New(io.Discard, "ctl: ", 0)))
	if err != nil {
		t.Fatalf("could not dial fake device: %+v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	return c, dev
}

func TestGet(t *testing.T) {
	c, dev := newTestClient(t)
	dev.SetParam(2, "module_name", "ACQ425ELF")

	for _, tc := range []struct {
		site  int
		param string
		want  string
		err   error
	}{
		{site: 1, param: "module_name", want: "ACQ420FMC"},
		{site: 1, param: "MANUFACTURER", want: "D-TACQ Solutions"},
		{site: 2, param: "module_name", want: "ACQ425ELF"},
		{site: 1, param: "no_such_param", err: ErrProtocol},
		{site: 1, param: "two words", err: ErrProtocol},
		{site: 1, param: "", err: ErrProtocol},
	} {
		t.Run(tc.param, func(t *testing.T) {
			got, err := c.GetSite(tc.site, tc.param)
			switch {
			case err != nil && tc.err != nil:
				if !errors.Is(err, tc.err) {
					t.Fatalf("invalid error: got=%+v, want=%+v", err, tc.err)
				}
				return
			case err != nil && tc.err == nil:
				t.Fatalf("could not get %q: %+v", tc.param, err)
			case err == nil && tc.err != nil:
				t.Fatalf("expected an error (%v)", tc.err)
			}
			if got != tc.want {
				t.Fatalf("invalid value: got=%q, want=%q", got, tc.want)
			}
		})
	}
}

func TestMasterSite(t *testing.T) {
	c, dev := newTestClient(t)
	dev.SetParam(3, "gain", "2")

	if got, want := c.MasterSite(), 1; got != want {
		t.Fatalf("invalid default master site: got=%d, want=%d", got, want)
	}

	c.SetMasterSite(3)
	got, err := c.Get("gain")
	if err != nil {
		t.Fatalf("could not get gain: %+v", err)
	}
	if got != "2" {
		t.Fatalf("invalid gain: got=%q, want=%q", got, "2")
	}

	err = c.Set("data32", "1")
	if err != nil {
		t.Fatalf("could not set data32: %+v", err)
	}
	// a query after a set orders the exchanges on the wire.
	v, err := c.GetSite(3, "data32")
	if err != nil {
		t.Fatalf("could not get data32: %+v", err)
	}
	if v != "1" {
		t.Fatalf("invalid data32: got=%q, want=%q", v, "1")
	}
}

func TestCommands(t *testing.T) {
	c, dev := newTestClient(t)

	if err := c.SetSite(0, "spad", "1"); err != nil {
		t.Fatalf("could not set spad: %+v", err)
	}
	if err := c.Run("1,2"); err != nil {
		t.Fatalf("could not run: %+v", err)
	}
	if _, err := c.Get("module_type"); err != nil {
		t.Fatalf("could not get module type: %+v", err)
	}

	want := []string{
		"set.site 0 spad 1",
		"run0 1,2",
		"get.site 1 module_type",
	}
	if got := dev.Commands(); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid commands:\ngot= %q\nwant=%q", got, want)
	}

	for _, v := range []string{"", "1, 2", "1\n"} {
		if err := c.Run(v); !errors.Is(err, ErrProtocol) {
			t.Fatalf("invalid error for site list %q: %+v", v, err)
		}
	}
	if err := c.Set("gain", "1\nrun0 1"); !errors.Is(err, ErrProtocol) {
		t.Fatalf("invalid error for multi-line value: %+v", err)
	}
}

func TestTimeout(t *testing.T) {
	srv, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not create server: %+v", err)
	}
	defer srv.Close()

	go func() {
		conn, err := srv.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		// never reply.
		_, _ = io.Copy(io.Discard, conn)
	}()

	c, err := Dial(srv.Addr().String(),
		WithTimeout(50*time.Millisecond),
		WithLogger(log.New(io.Discard, "ctl: ", 0)),
	)
	if err != nil {
		t.Fatalf("could not dial: %+v", err)
	}
	defer c.Close()

	_, err = c.Get("module_name")
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("invalid error: got=%+v, want=%v", err, ErrProtocol)
	}
}

func TestClosed(t *testing.T) {
	c, _ := newTestClient(t)
	if err := c.Close(); err != nil {
		t.Fatalf("could not close client: %+v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("could not close client twice: %+v", err)
	}
	_, err := c.Get("module_name")
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("invalid error: got=%+v, want=%v", err, ErrProtocol)
	}
}

// slowServer answers "get.site <site> <param>" with "value-of-<param>".
// The reply to the first command is delayed by delay.
func slowServer(t *testing.T, delay time.Duration) (net.Listener, *int32) {
	t.Helper()
	srv, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not create server: %+v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	var (
		conns int32
		cmds  int32
	)
	go func() {
		for {
			conn, err := srv.Accept()
			if err != nil {
				return
			}
			atomic.AddInt32(&conns, 1)
			go func() {
				defer conn.Close()
				sc := bufio.NewScanner(conn)
				for sc.Scan() {
					toks := strings.Fields(sc.Text())
					if atomic.AddInt32(&cmds, 1) == 1 {
						time.Sleep(delay)
					}
					if len(toks) == 3 && toks[0] == "get.site" {
						_, _ = conn.Write([]byte("value-of-" + toks[2] + "\n"))
					}
				}
			}()
		}
	}()
	return srv, &conns
}

func TestLateReply(t *testing.T) {
	srv, conns := slowServer(t, 150*time.Millisecond)

	c, err := Dial(srv.Addr().String(),
		WithTimeout(50*time.Millisecond),
		WithLogger(log.New(io.Discard, "ctl: ", 0)),
	)
	if err != nil {
		t.Fatalf("could not dial: %+v", err)
	}
	defer c.Close()

	_, err = c.Get("module_name")
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("invalid error: got=%+v, want=%v", err, ErrProtocol)
	}

	for _, param := range []string{"module_type", "MANUFACTURER"} {
		got, err := c.Get(param)
		if err != nil {
			t.Fatalf("could not get %s: %+v", param, err)
		}
		if want := "value-of-" + param; got != want {
			t.Fatalf("invalid reply: got=%q, want=%q", got, want)
		}
	}
	if got, want := atomic.LoadInt32(conns), int32(2); got != want {
		t.Fatalf("invalid number of connections: got=%d, want=%d", got, want)
	}

	_ = c.Close()
	_, err = c.Get("module_type")
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("invalid error after close: got=%+v, want=%v", err, ErrProtocol)
	}
}

func TestLateReplyNoRedial(t *testing.T) {
	srv, _ := slowServer(t, 150*time.Millisecond)

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("could not dial: %+v", err)
	}
	c := NewClient(conn,
		WithTimeout(50*time.Millisecond),
		WithLogger(log.New(io.Discard, "ctl: ", 0)),
	)
	defer c.Close()

	_, err = c.Get("module_name")
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("invalid error: got=%+v, want=%v", err, ErrProtocol)
	}

	// wait for the late reply to reach the dropped connection.
	time.Sleep(200 * time.Millisecond)
	got, err := c.Get("module_type")
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("invalid reply after a dropped connection: got=%q, err=%+v", got, err)
	}
}
