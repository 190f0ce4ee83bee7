// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakedev provides a fake ACQ4xx unit serving a control port and
// a data port on the loopback interface.
package fakedev // import "github.com/wycx/dtacq-adc/internal/fakedev"

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
)

// Device is a fake unit.
//
// Queries for unknown parameters are answered with an ERROR line.
// Data queued with Send is streamed to the current data connection.
type Device struct {
	ctl  net.Listener
	data net.Listener

	mu     sync.Mutex
	params map[string]string
	cmds   []string
	conns  int
	active int

	frames chan []byte
	quit   chan struct{}
	wg     sync.WaitGroup
}

// New starts a fake ACQ420FMC unit on site 1.
func New() (*Device, error) {
	ctl, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("fakedev: could not create control listener: %w", err)
	}
	data, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		_ = ctl.Close()
		return nil, fmt.Errorf("fakedev: could not create data listener: %w", err)
	}

	dev := &Device{
		ctl:    ctl,
		data:   data,
		params: make(map[string]string),
		frames: make(chan []byte, 1024),
		quit:   make(chan struct{}),
	}
	dev.SetParam(1, "module_name", "ACQ420FMC")
	dev.SetParam(1, "MANUFACTURER", "D-TACQ Solutions")
	dev.SetParam(1, "module_type", "1")

	dev.wg.Add(2)
	go dev.serveCtl()
	go dev.serveData()

	return dev, nil
}

// CtlAddr returns the address of the control port.
func (dev *Device) CtlAddr() string { return dev.ctl.Addr().String() }

// DataAddr returns the address of the data port.
func (dev *Device) DataAddr() string { return dev.data.Addr().String() }

// SetParam sets the value of a parameter on site.
func (dev *Device) SetParam(site int, name, value string) {
	dev.mu.Lock()
	dev.params[key(site, name)] = value
	dev.mu.Unlock()
}

// Param returns the value of a parameter on site.
func (dev *Device) Param(site int, name string) (string, bool) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	v, ok := dev.params[key(site, name)]
	return v, ok
}

// Commands returns the command lines received so far.
func (dev *Device) Commands() []string {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return append([]string(nil), dev.cmds...)
}

// Conns returns the number of data connections accepted so far.
func (dev *Device) Conns() int {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.conns
}

// Active returns the number of open data connections.
func (dev *Device) Active() int {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.active
}

// Send queues p on the data stream.
func (dev *Device) Send(p []byte) {
	dev.frames <- p
}

// Close shuts the fake unit down.
func (dev *Device) Close() error {
	close(dev.quit)
	err1 := dev.ctl.Close()
	err2 := dev.data.Close()
	dev.wg.Wait()
	if err1 != nil {
		return err1
	}
	return err2
}

func key(site int, name string) string {
	return strconv.Itoa(site) + "/" + name
}

func (dev *Device) serveCtl() {
	defer dev.wg.Done()
	for {
		conn, err := dev.ctl.Accept()
		if err != nil {
			return
		}
		go dev.handleCtl(conn)
	}
}

func (dev *Device) handleCtl(conn net.Conn) {
	defer conn.Close()
	go func() {
		<-dev.quit
		_ = conn.Close()
	}()

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		dev.mu.Lock()
		dev.cmds = append(dev.cmds, line)
		dev.mu.Unlock()

		toks := strings.Fields(line)
		if len(toks) == 0 {
			continue
		}
		switch {
		case toks[0] == "get.site" && len(toks) == 3:
			site, _ := strconv.Atoi(toks[1])
			v, ok := dev.Param(site, toks[2])
			if !ok {
				v = "ERROR: unknown parameter " + toks[2]
			}
			fmt.Fprintf(conn, "%s\n", v)
		case toks[0] == "set.site" && len(toks) >= 4:
			site, _ := strconv.Atoi(toks[1])
			dev.SetParam(site, toks[2], strings.Join(toks[3:], " "))
		case toks[0] == "run0" && len(toks) == 2:
			// streaming starts when the data port is connected.
		default:
			fmt.Fprintf(conn, "ERROR: unknown command %q\n", toks[0])
		}
	}
}

func (dev *Device) serveData() {
	defer dev.wg.Done()
	for {
		conn, err := dev.data.Accept()
		if err != nil {
			return
		}
		dev.mu.Lock()
		dev.conns++
		dev.active++
		dev.mu.Unlock()
		dev.wg.Add(1)
		go dev.handleData(conn)
	}
}

func (dev *Device) handleData(conn net.Conn) {
	defer dev.wg.Done()
	defer func() {
		_ = conn.Close()
		dev.mu.Lock()
		dev.active--
		dev.mu.Unlock()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(io.Discard, conn)
	}()

	for {
		select {
		case <-dev.quit:
			return
		case <-done:
			return
		case p := <-dev.frames:
			_, err := conn.Write(p)
			if err != nil {
				return
			}
		}
	}
}

// Frame returns a raw little-endian frame of samples rows of channels
// samples, each width bytes wide, with sample (x, y) set to fct(x, y).
func Frame(channels, samples, width int, fct func(x, y int) int64) []byte {
	raw := make([]byte, channels*samples*width)
	for y := 0; y < samples; y++ {
		for x := 0; x < channels; x++ {
			off := (y*channels + x) * width
			v := fct(x, y)
			switch width {
			case 2:
				binary.LittleEndian.PutUint16(raw[off:], uint16(v))
			case 4:
				binary.LittleEndian.PutUint32(raw[off:], uint32(v))
			}
		}
	}
	return raw
}
