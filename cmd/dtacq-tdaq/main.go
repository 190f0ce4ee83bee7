// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dtacq-tdaq starts a TDAQ server driving a D-TACQ ACQ4xx unit.
//
// The server follows the TDAQ run control state machine and publishes
// calibrated frames on its /frames output.
//
// Usage:
//
//	$> dtacq-tdaq -id dtacq-01 -rc-addr :44000 ./dtacq.yaml
package main // import "github.com/wycx/dtacq-adc/cmd/dtacq-tdaq"

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/wycx/dtacq-adc/acq"
	"github.com/wycx/dtacq-adc/config"
	"github.com/wycx/dtacq-adc/ctl"
	"github.com/wycx/dtacq-adc/sink"
)

func main() {
	cmd := flags.New()

	dev := newDAQ("")
	if len(cmd.Args) > 0 {
		dev.fname = cmd.Args[0]
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/frames", dev.frames)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

// daq drives one unit under TDAQ run control.
type daq struct {
	fname string // configuration file

	mu   sync.Mutex
	cfg  *config.Config
	dev  *ctl.Client
	eng  *acq.Engine
	sink *sink.Chan
	freq time.Duration

	quit func()
	done chan error
}

func newDAQ(fname string) *daq {
	return &daq{
		fname: fname,
		freq:  5 * time.Second,
	}
}

// OnConfig loads the configuration.
// A non-empty request body overrides the host name of the unit.
func (d *daq) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	cfg := config.Default()
	if d.fname != "" {
		var err error
		cfg, err = config.Load(d.fname)
		if err != nil {
			ctx.Msg.Errorf("could not load configuration: %+v", err)
			return fmt.Errorf("could not load configuration: %w", err)
		}
	}

	if len(req.Body) > 0 {
		dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
		host := dec.ReadStr()
		if err := dec.Err(); err != nil {
			return fmt.Errorf("could not decode /config request: %w", err)
		}
		cfg.Host = host
		cfg.CtlAddr = ""
		cfg.DataAddr = ""
	}

	err := cfg.Validate()
	if err != nil {
		ctx.Msg.Errorf("invalid configuration: %+v", err)
		return fmt.Errorf("invalid configuration: %w", err)
	}

	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	return nil
}

// OnInit connects to the unit and applies the settings carried by the
// request: a u32 count followed by key/value string pairs.
func (d *daq) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cfg == nil {
		return fmt.Errorf("could not initialize: not configured")
	}
	d.close()

	cmds, err := decodeSettings(req.Body)
	if err != nil {
		return fmt.Errorf("could not decode /init request: %w", err)
	}

	cfg := d.cfg
	dev, err := ctl.Dial(
		cfg.Control(),
		ctl.WithTimeout(time.Duration(cfg.Acquisition.ReplyTimeout)),
		ctl.WithMasterSite(cfg.Acquisition.MasterSite),
	)
	if err != nil {
		ctx.Msg.Errorf("could not connect to unit: %+v", err)
		return fmt.Errorf("could not connect to unit: %w", err)
	}

	opts, err := cfg.Options()
	if err != nil {
		_ = dev.Close()
		return fmt.Errorf("could not configure engine: %w", err)
	}
	out := sink.NewChan(1024)
	opts = append(opts, acq.WithSink(out))

	eng, err := acq.New(dev, cfg.Data(), opts...)
	if err != nil {
		_ = dev.Close()
		ctx.Msg.Errorf("could not create engine: %+v", err)
		return fmt.Errorf("could not create engine: %w", err)
	}

	for _, cmd := range cmds {
		err := eng.Do(cmd)
		if err != nil {
			_ = dev.Close()
			return fmt.Errorf("could not apply %#v: %w", cmd, err)
		}
	}

	ectx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- eng.Run(ectx)
	}()

	d.dev = dev
	d.eng = eng
	d.sink = out
	d.quit = cancel
	d.done = done

	st := eng.Stats()
	ctx.Msg.Infof("unit %s (site %d) ready: %dx%d, mode=%v",
		st.Model, st.MasterSite, st.NX, st.NY, st.Mode,
	)
	return nil
}

func (d *daq) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	d.mu.Lock()
	defer d.mu.Unlock()
	d.close()
	d.cfg = nil
	return nil
}

func (d *daq) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	eng := d.engine()
	if eng == nil {
		return fmt.Errorf("could not start: not initialized")
	}
	return eng.Start()
}

// OnStop stops the acquisition and replies with the run summary.
func (d *daq) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	eng := d.engine()
	if eng == nil {
		return fmt.Errorf("could not stop: not initialized")
	}
	err := eng.Stop()
	if err != nil {
		return err
	}

	st := eng.Stats()
	ctx.Msg.Debugf("received /stop command... -> frames=%d faults=%d", st.Frames, st.Faults)

	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteU64(st.Frames)
	enc.WriteU64(st.Faults)
	enc.WriteU32(uint32(st.Images))
	if err := enc.Err(); err != nil {
		return fmt.Errorf("could not encode /stop reply: %w", err)
	}
	resp.Body = buf.Bytes()
	return nil
}

func (d *daq) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	d.mu.Lock()
	defer d.mu.Unlock()
	d.close()
	return nil
}

func (d *daq) engine() *acq.Engine {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.eng
}

func (d *daq) output() *sink.Chan {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sink
}

// close releases the engine and the unit connection.
// close must be called with d.mu held.
func (d *daq) close() {
	if d.quit != nil {
		d.quit()
		err := <-d.done
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("acquisition loop failed: %+v", err)
		}
	}
	if d.dev != nil {
		_ = d.dev.Close()
	}
	d.dev = nil
	d.eng = nil
	d.sink = nil
	d.quit = nil
	d.done = nil
}

func (d *daq) frames(ctx tdaq.Context, dst *tdaq.Frame) error {
	out := d.output()
	if out == nil {
		dst.Body = nil
		select {
		case <-ctx.Ctx.Done():
		case <-time.After(100 * time.Millisecond):
		}
		return nil
	}

	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case f := <-out.C():
		raw, err := encodeFrame(f)
		if err != nil {
			return err
		}
		dst.Body = raw
	}
	return nil
}

func (d *daq) run(ctx tdaq.Context) error {
	tck := time.NewTicker(d.freq)
	defer tck.Stop()

	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		case <-tck.C:
			eng := d.engine()
			if eng == nil {
				continue
			}
			st := eng.Stats()
			ctx.Msg.Infof("status=%v frames=%d faults=%d images=%d/%d",
				st.Status, st.Frames, st.Faults, st.Images, st.NumImages,
			)
			if out := d.output(); out != nil && out.Dropped() > 0 {
				ctx.Msg.Warnf("dropped frames: %d", out.Dropped())
			}
		}
	}
}

// encodeFrame encodes f as a /frames payload.
func encodeFrame(f *acq.Frame) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(33 + 8*len(f.Data))
	enc := tdaq.NewEncoder(buf)
	enc.WriteU64(f.ID)
	enc.WriteI64(f.Time.UnixNano())
	enc.WriteU32(uint32(f.NX))
	enc.WriteU32(uint32(f.NY))
	enc.WriteBool(f.Fault)
	for _, v := range f.Data {
		enc.WriteF64(v)
	}
	if err := enc.Err(); err != nil {
		return nil, fmt.Errorf("could not encode frame %d: %w", f.ID, err)
	}
	return buf.Bytes(), nil
}

// decodeFrame decodes a /frames payload.
func decodeFrame(p []byte) (*acq.Frame, error) {
	var (
		dec = tdaq.NewDecoder(bytes.NewReader(p))
		f   acq.Frame
	)
	f.ID = dec.ReadU64()
	f.Time = time.Unix(0, dec.ReadI64())
	f.NX = int(dec.ReadU32())
	f.NY = int(dec.ReadU32())
	f.Fault = dec.ReadBool()
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("could not decode frame header: %w", err)
	}
	if n := f.NX * f.NY; n > 0 {
		f.Data = make([]float64, n)
		for i := range f.Data {
			f.Data[i] = dec.ReadF64()
		}
	}
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("could not decode frame %d: %w", f.ID, err)
	}
	return &f, nil
}

func decodeSettings(p []byte) ([]acq.Command, error) {
	if len(p) == 0 {
		return nil, nil
	}
	dec := tdaq.NewDecoder(bytes.NewReader(p))
	n := int(dec.ReadU32())
	if err := dec.Err(); err != nil {
		return nil, err
	}
	cmds := make([]acq.Command, 0, n)
	for i := 0; i < n; i++ {
		k := dec.ReadStr()
		v := dec.ReadStr()
		if err := dec.Err(); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		cmd, err := acq.ParseCommand(k, v)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}
