// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wycx/dtacq-adc/acq"
	"github.com/wycx/dtacq-adc/api"
	"github.com/wycx/dtacq-adc/config"
	"github.com/wycx/dtacq-adc/internal/fakedev"
	"github.com/wycx/dtacq-adc/settings"
	"github.com/wycx/dtacq-adc/sink"
)

func TestRun(t *testing.T) {
	dev, err := fakedev.New()
	if err != nil {
		t.Fatalf("could not create fake device: %+v", err)
	}
	defer dev.Close()

	dir := t.TempDir()

	cfg := config.Default()
	cfg.CtlAddr = dev.CtlAddr()
	cfg.DataAddr = dev.DataAddr()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.Settings = filepath.Join(dir, "settings.db")
	cfg.SHM = filepath.Join(dir, "frame.shm")
	cfg.Output = filepath.Join(dir, "frames.dat")
	cfg.Acquisition.Channels = 4
	cfg.Acquisition.Samples = 8
	cfg.Acquisition.Mode = "single"
	cfg.Acquisition.NumImages = 1
	cfg.Acquisition.ReadTimeout = config.Duration(200 * time.Millisecond)
	cfg.Acquisition.RetryDelay = config.Duration(10 * time.Millisecond)

	dev.Send(fakedev.Frame(4, 8, 4, func(x, y int) int64 { return int64(x+y) << 24 }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan net.Addr, 1)
	errc := make(chan error, 1)
	go func() {
		errc <- run(ctx, cfg, true, ready)
	}()

	var addr net.Addr
	select {
	case addr = <-ready:
	case err := <-errc:
		t.Fatalf("could not run dtacq-daq: %+v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for API server")
	}

	cli := api.NewClient(addr.String())
	err = poll(5*time.Second, func() error {
		st, err := cli.Status()
		if err != nil {
			return err
		}
		if st.Status != acq.Idle || st.Frames != 1 {
			return fmt.Errorf("status=%v frames=%d", st.Status, st.Frames)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("acquisition did not complete: %+v", err)
	}

	err = cli.Set(acq.KeyGain, "1")
	if err != nil {
		t.Fatalf("could not set gain: %+v", err)
	}

	err = poll(5*time.Second, func() error {
		f, err := os.Open(cfg.SHM)
		if err != nil {
			return err
		}
		defer f.Close()
		frame, err := sink.ReadSHM(f)
		if err != nil {
			return err
		}
		if frame.ID != 1 || frame.NX != 4 || frame.NY != 8 {
			return fmt.Errorf("invalid frame: id=%d %dx%d", frame.ID, frame.NX, frame.NY)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("could not read shared memory export: %+v", err)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("could not run dtacq-daq: %+v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for dtacq-daq to shut down")
	}

	f, err := os.Open(cfg.Output)
	if err != nil {
		t.Fatalf("could not open output file: %+v", err)
	}
	defer f.Close()

	dec := sink.NewDecoder(f)
	var frame acq.Frame
	err = dec.Decode(&frame)
	if err != nil {
		t.Fatalf("could not decode frame: %+v", err)
	}
	factor, _ := acq.ConversionFactor(acq.ACQ420FMC, 0, 32)
	if got, want := frame.At(3, 2), float64(5<<24)*factor; got != want {
		t.Fatalf("invalid sample: got=%v, want=%v", got, want)
	}
	err = dec.Decode(&frame)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected a single frame, got err=%+v", err)
	}

	store, err := settings.Open(cfg.Settings, settings.WithPersist(persistKeys()...))
	if err != nil {
		t.Fatalf("could not reopen settings: %+v", err)
	}
	defer store.Close()

	if v, ok := store.Get(acq.KeyGain); !ok || v != "1" {
		t.Fatalf("gain not persisted: got=%q (ok=%v)", v, ok)
	}
	if _, ok := store.Get(acq.KeyStatus); ok {
		t.Fatalf("status should not be persisted")
	}
}

func TestRunRestoredGeometry(t *testing.T) {
	dev, err := fakedev.New()
	if err != nil {
		t.Fatalf("could not create fake device: %+v", err)
	}
	defer dev.Close()

	dir := t.TempDir()

	cfg := config.Default()
	cfg.CtlAddr = dev.CtlAddr()
	cfg.DataAddr = dev.DataAddr()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.Settings = filepath.Join(dir, "settings.db")
	cfg.SHM = filepath.Join(dir, "frame.shm")
	cfg.Acquisition.Channels = 4
	cfg.Acquisition.Samples = 8
	cfg.Acquisition.Mode = "single"
	cfg.Acquisition.NumImages = 1
	cfg.Acquisition.ReadTimeout = config.Duration(200 * time.Millisecond)
	cfg.Acquisition.RetryDelay = config.Duration(10 * time.Millisecond)

	// a previous run left a larger channel count behind.
	store, err := settings.Open(cfg.Settings, settings.WithPersist(persistKeys()...))
	if err != nil {
		t.Fatalf("could not open settings: %+v", err)
	}
	err = store.Set(acq.KeyChannels, "16")
	if err != nil {
		t.Fatalf("could not save channels: %+v", err)
	}
	err = store.Close()
	if err != nil {
		t.Fatalf("could not close settings: %+v", err)
	}

	dev.Send(fakedev.Frame(16, 8, 4, func(x, y int) int64 { return int64(x) << 24 }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan net.Addr, 1)
	errc := make(chan error, 1)
	go func() {
		errc <- run(ctx, cfg, true, ready)
	}()

	select {
	case <-ready:
	case err := <-errc:
		t.Fatalf("could not run dtacq-daq: %+v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for API server")
	}

	err = poll(5*time.Second, func() error {
		f, err := os.Open(cfg.SHM)
		if err != nil {
			return err
		}
		defer f.Close()
		frame, err := sink.ReadSHM(f)
		if err != nil {
			return err
		}
		if frame.ID != 1 || frame.NX != 16 || frame.NY != 8 {
			return fmt.Errorf("invalid frame: id=%d %dx%d", frame.ID, frame.NX, frame.NY)
		}
		factor, _ := acq.ConversionFactor(acq.ACQ420FMC, 0, 32)
		if got, want := frame.At(15, 7), float64(15<<24)*factor; got != want {
			return fmt.Errorf("invalid sample: got=%v, want=%v", got, want)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("could not read shared memory export: %+v", err)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("could not run dtacq-daq: %+v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for dtacq-daq to shut down")
	}
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Acquisition.DataWidth = 24
	err := run(context.Background(), cfg, false, nil)
	if !errors.Is(err, acq.ErrInvalid) {
		t.Fatalf("invalid error: got=%+v, want=%v", err, acq.ErrInvalid)
	}
}

func TestPersistKeys(t *testing.T) {
	keys := persistKeys()
	if got, want := len(keys), len(acq.CommandKeys())-1; got != want {
		t.Fatalf("invalid number of keys: got=%d, want=%d", got, want)
	}
	known := make(map[string]bool)
	for _, k := range acq.CommandKeys() {
		known[k] = true
	}
	seen := make(map[string]bool)
	for _, k := range keys {
		if k == acq.KeyAcquire {
			t.Fatalf("acquire key should not be persisted")
		}
		if !known[k] {
			t.Fatalf("unknown settings key %q", k)
		}
		if seen[k] {
			t.Fatalf("duplicate key %q", k)
		}
		seen[k] = true
	}
}

func TestAlerter(t *testing.T) {
	var sent []string
	a := newAlerter("acq2106_042", time.Minute, []string{"daq@example.org"})
	a.send = func(subject, body string, tgts []string) error {
		sent = append(sent, subject)
		return nil
	}

	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, tc := range []struct {
		status string
		dt     time.Duration
		want   bool
	}{
		{acq.Acquiring.String(), 0, false},
		{acq.Disconnected.String(), 0, false},
		{acq.Disconnected.String(), 30 * time.Second, false},
		{acq.Disconnected.String(), 61 * time.Second, true},
		{acq.Disconnected.String(), 2 * time.Minute, false},
		{acq.Acquiring.String(), 3 * time.Minute, false},
		{acq.Disconnected.String(), 4 * time.Minute, false},
		{acq.Disconnected.String(), 5 * time.Minute, true},
	} {
		now := t0.Add(tc.dt)
		a.update(tc.status, now)
		if got := a.check(now); got != tc.want {
			t.Fatalf("status=%s dt=%v: got=%v, want=%v", tc.status, tc.dt, got, tc.want)
		}
	}

	if got, want := len(sent), 2; got != want {
		t.Fatalf("invalid number of alerts: got=%d, want=%d", got, want)
	}
	if got, want := sent[0], "[dtacq-daq] acq2106_042: unit disconnected"; got != want {
		t.Fatalf("invalid subject: got=%q, want=%q", got, want)
	}
}

func TestSplitList(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a@b", 1},
		{"a@b, c@d ,", 2},
	} {
		if got := len(splitList(tc.in)); got != tc.want {
			t.Fatalf("split(%q): got=%d, want=%d", tc.in, got, tc.want)
		}
	}
	if got := atoi("x"); got != 0 {
		t.Fatalf("atoi: got=%d", got)
	}
}

func poll(timeout time.Duration, fct func() error) error {
	var (
		err error
		end = time.After(timeout)
	)
	for {
		err = fct()
		if err == nil {
			return nil
		}
		select {
		case <-end:
			return err
		case <-time.After(10 * time.Millisecond):
		}
	}
}
