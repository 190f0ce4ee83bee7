// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ctl implements a client for the control port of D-TACQ ACQ4xx
// units.
//
// Commands are single ASCII lines:
//
//	get.site <site> <param>
//	set.site <site> <param> <value>
//	run0 <site-list>
//
// Queries are answered with a single line of text.
package ctl // import "github.com/wycx/dtacq-adc/ctl"

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrProtocol is returned when a command could not be sent or its reply
// could not be read or was an error.
var ErrProtocol = errors.New("ctl: protocol error")

const (
	// DefaultPort is the control port of a unit.
	DefaultPort = 4220

	defaultTimeout = 2 * time.Second
	defaultSite    = 1
)

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the timeout of a command/reply exchange.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger of the client.
func WithLogger(msg *log.Logger) Option {
	return func(c *Client) { c.msg = msg }
}

// WithMasterSite sets the initial master site.
func WithMasterSite(site int) Option {
	return func(c *Client) { c.site = site }
}

// Client is a connection to the control port of a unit.
// A Client is safe for concurrent use: exchanges are never interleaved.
//
// A failed exchange drops the connection, so a late reply is never taken
// as the answer to a later command. Clients created with Dial reconnect on
// the next command; others keep failing with ErrProtocol.
type Client struct {
	msg     *log.Logger
	timeout time.Duration
	addr    string // address to reconnect to, if any

	mu     sync.Mutex
	conn   net.Conn
	rbuf   *bufio.Reader
	site   int
	closed bool
}

// Dial connects to the control port at addr.
func Dial(addr string, opts ...Option) (*Client, error) {
	conn, err := dial(addr)
	if err != nil {
		return nil, err
	}
	c := NewClient(conn, opts...)
	c.addr = addr
	return c, nil
}

func dial(addr string) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ctl: could not dial %q: %w", addr, err)
	}
	return conn, nil
}

// NewClient returns a client using conn.
func NewClient(conn net.Conn, opts ...Option) *Client {
	c := &Client{
		msg:     log.New(os.Stdout, "ctl: ", 0),
		timeout: defaultTimeout,
		conn:    conn,
		rbuf:    bufio.NewReader(conn),
		site:    defaultSite,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close closes the control connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.rbuf = nil
	return err
}

// MasterSite returns the site targeted when none is specified.
func (c *Client) MasterSite() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.site
}

// SetMasterSite changes the site targeted when none is specified.
func (c *Client) SetMasterSite(site int) {
	c.mu.Lock()
	c.site = site
	c.mu.Unlock()
}

// Get returns the value of param on the master site.
func (c *Client) Get(param string) (string, error) {
	return c.GetSite(c.MasterSite(), param)
}

// GetSite returns the value of param on site.
func (c *Client) GetSite(site int, param string) (string, error) {
	if err := checkToken("parameter", param); err != nil {
		return "", err
	}
	return c.Send(fmt.Sprintf("get.site %d %s", site, param), true)
}

// Set sets param to value on the master site.
func (c *Client) Set(param, value string) error {
	return c.SetSite(c.MasterSite(), param, value)
}

// SetSite sets param to value on site.
func (c *Client) SetSite(site int, param, value string) error {
	if err := checkToken("parameter", param); err != nil {
		return err
	}
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("ctl: invalid value %q: %w", value, ErrProtocol)
	}
	_, err := c.Send(fmt.Sprintf("set.site %d %s %s", site, param, value), false)
	return err
}

// Run starts streaming from the comma-separated list of sites.
func (c *Client) Run(sites string) error {
	if err := checkToken("site list", sites); err != nil {
		return err
	}
	_, err := c.Send("run0 "+sites, false)
	return err
}

// Send sends a raw command line and, if reply is true, returns the reply
// line with surrounding white space removed.
func (c *Client) Send(cmd string, reply bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if c.closed || c.addr == "" {
			return "", fmt.Errorf("ctl: could not send %q: connection closed: %w", cmd, ErrProtocol)
		}
		conn, err := dial(c.addr)
		if err != nil {
			return "", fmt.Errorf("ctl: could not send %q: %w: %w", cmd, ErrProtocol, err)
		}
		c.msg.Printf("reconnected to %q", c.addr)
		c.conn = conn
		c.rbuf = bufio.NewReader(conn)
	}

	conn := c.conn
	if c.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
		defer conn.SetDeadline(time.Time{})
	}

	_, err := io.WriteString(conn, cmd+"\n")
	if err != nil {
		c.drop()
		return "", fmt.Errorf("ctl: could not send %q: %w: %w", cmd, ErrProtocol, err)
	}
	if !reply {
		return "", nil
	}

	line, err := c.rbuf.ReadString('\n')
	if err != nil {
		c.drop()
		return "", fmt.Errorf("ctl: could not read reply to %q: %w: %w", cmd, ErrProtocol, err)
	}
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "ERROR") {
		c.msg.Printf("unit rejected %q: %s", cmd, line)
		return "", fmt.Errorf("ctl: command %q failed: %s: %w", cmd, line, ErrProtocol)
	}
	return line, nil
}

// drop closes a connection whose reply stream is out of step.
// drop must be called with c.mu held.
func (c *Client) drop() {
	_ = c.conn.Close()
	c.conn = nil
	c.rbuf = nil
}

func checkToken(name, v string) error {
	if v == "" || strings.ContainsAny(v, " \t\r\n") {
		return fmt.Errorf("ctl: invalid %s %q: %w", name, v, ErrProtocol)
	}
	return nil
}
