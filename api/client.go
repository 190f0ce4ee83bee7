// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/imroc/req"
	"github.com/wycx/dtacq-adc/acq"
	"github.com/wycx/dtacq-adc/sink"
)

// Client is a client of the HTTP API.
type Client struct {
	r      *req.Req
	prefix string
}

// NewClient returns a client for the API served at addr, which may be a
// host:port pair or a full URL.
func NewClient(addr string) *Client {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	r := req.New()
	r.SetTimeout(10 * time.Second)
	return &Client{
		r:      r,
		prefix: strings.TrimSuffix(addr, "/") + "/api",
	}
}

func (c *Client) url(path string) string {
	return c.prefix + path
}

func check(resp *req.Resp) error {
	code := resp.Response().StatusCode
	if code == http.StatusOK {
		return nil
	}
	var rep reply
	err := resp.ToJSON(&rep)
	if err != nil || rep.Msg == "" {
		return fmt.Errorf("api: %s", resp.Response().Status)
	}
	return fmt.Errorf("api: %s: %s", resp.Response().Status, rep.Msg)
}

func (c *Client) get(path string, v interface{}, params ...interface{}) error {
	resp, err := c.r.Get(c.url(path), params...)
	if err != nil {
		return fmt.Errorf("api: could not get %q: %w", path, err)
	}
	err = check(resp)
	if err != nil {
		return err
	}
	err = resp.ToJSON(v)
	if err != nil {
		return fmt.Errorf("api: could not decode %q reply: %w", path, err)
	}
	return nil
}

func (c *Client) post(path string, body interface{}) error {
	var args []interface{}
	if body != nil {
		args = append(args, req.BodyJSON(body))
	}
	resp, err := c.r.Post(c.url(path), args...)
	if err != nil {
		return fmt.Errorf("api: could not post %q: %w", path, err)
	}
	return check(resp)
}

// Status returns the state of the engine.
func (c *Client) Status() (acq.Stats, error) {
	var st acq.Stats
	err := c.get("/status", &st)
	return st, err
}

// Start starts an acquisition.
func (c *Client) Start() error { return c.post("/acquire/start", nil) }

// Stop stops the current acquisition.
func (c *Client) Stop() error { return c.post("/acquire/stop", nil) }

// Params returns the keys accepted by Set.
func (c *Client) Params() ([]string, error) {
	var keys []string
	err := c.get("/params", &keys)
	return keys, err
}

// Set applies the setting key=value.
func (c *Client) Set(key, value string) error {
	return c.post("/param", Param{Key: key, Value: value})
}

// Get returns the value of a parameter of the unit master site.
func (c *Client) Get(param string) (string, error) {
	var p Param
	err := c.get("/device/"+param, &p)
	return p.Value, err
}

// Frame returns the last calibrated frame.
func (c *Client) Frame() (*acq.Frame, error) {
	var f acq.Frame
	err := c.get("/frame", &f)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Monitor returns the per-channel statistics of the monitor sink.
func (c *Client) Monitor() ([]sink.ChannelSummary, error) {
	var sum []sink.ChannelSummary
	err := c.get("/monitor", &sum)
	return sum, err
}

// Report returns the human readable report of the engine.
func (c *Client) Report(details int) (string, error) {
	resp, err := c.r.Get(c.url("/report"), req.QueryParam{"details": details})
	if err != nil {
		return "", fmt.Errorf("api: could not get report: %w", err)
	}
	err = check(resp)
	if err != nil {
		return "", err
	}
	return resp.ToString()
}
