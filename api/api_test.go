// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wycx/dtacq-adc/acq"
	"github.com/wycx/dtacq-adc/ctl"
	"github.com/wycx/dtacq-adc/internal/fakedev"
	"github.com/wycx/dtacq-adc/sink"
)

func newTestServer(t *testing.T) (*fakedev.Device, *acq.Engine, *Client) {
	t.Helper()

	dev, err := fakedev.New()
	if err != nil {
		t.Fatalf("could not create fake device: %+v", err)
	}
	t.Cleanup(func() { _ = dev.Close() })

	c, err := ctl.Dial(dev.CtlAddr(), ctl.WithLogger(log.New(io.Discard, "ctl: ", 0)))
	if err != nil {
		t.Fatalf("could not dial fake device: %+v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	mon := sink.NewMonitor(100, -10, 10)
	eng, err := acq.New(
		c, dev.DataAddr(),
		acq.WithLogger(log.New(io.Discard, "acq: ", 0)),
		acq.WithGeometry(acq.NewGeometry(4, 8, 4)),
		acq.WithImageMode(acq.Single, 1),
		acq.WithReadTimeout(200*time.Millisecond),
		acq.WithRetryDelay(10*time.Millisecond),
		acq.WithSink(mon),
	)
	if err != nil {
		t.Fatalf("could not create engine: %+v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	srv := NewServer(eng, c,
		WithLogger(log.New(io.Discard, "api: ", 0)),
		WithMonitor(mon),
	)
	hsrv := httptest.NewServer(srv.Handler())
	t.Cleanup(hsrv.Close)

	return dev, eng, NewClient(hsrv.URL)
}

func TestAPI(t *testing.T) {
	dev, eng, cli := newTestServer(t)

	st, err := cli.Status()
	if err != nil {
		t.Fatalf("could not get status: %+v", err)
	}
	if got, want := st.Status, acq.WaitingForStart; got != want {
		t.Fatalf("invalid status: got=%v, want=%v", got, want)
	}
	if got, want := st.Model, "ACQ420FMC"; got != want {
		t.Fatalf("invalid model: got=%q, want=%q", got, want)
	}

	keys, err := cli.Params()
	if err != nil {
		t.Fatalf("could not get params: %+v", err)
	}
	if got, want := len(keys), len(acq.CommandKeys()); got != want {
		t.Fatalf("invalid number of keys: got=%d, want=%d", got, want)
	}

	v, err := cli.Get("module_name")
	if err != nil {
		t.Fatalf("could not get device parameter: %+v", err)
	}
	if got, want := v, "ACQ420FMC"; got != want {
		t.Fatalf("invalid device parameter: got=%q, want=%q", got, want)
	}

	_, err = cli.Frame()
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected a not-found error, got %+v", err)
	}

	err = cli.Set(acq.KeyGain, "1")
	if err != nil {
		t.Fatalf("could not set gain: %+v", err)
	}
	if got, want := eng.Stats().Gain, 1; got != want {
		t.Fatalf("invalid gain: got=%d, want=%d", got, want)
	}

	dev.Send(fakedev.Frame(4, 8, 4, func(x, y int) int64 { return int64(x) << 24 }))
	err = cli.Start()
	if err != nil {
		t.Fatalf("could not start: %+v", err)
	}

	var f *acq.Frame
	timeout := time.After(5 * time.Second)
	for f == nil {
		select {
		case <-timeout:
			t.Fatalf("timeout waiting for a frame")
		case <-time.After(10 * time.Millisecond):
		}
		f, _ = cli.Frame()
	}
	if got, want := f.ID, uint64(1); got != want {
		t.Fatalf("invalid frame id: got=%d, want=%d", got, want)
	}
	if f.NX != 4 || f.NY != 8 || len(f.Data) != 32 {
		t.Fatalf("invalid frame extents: %dx%d (%d samples)", f.NX, f.NY, len(f.Data))
	}

	// the monitor sink is fed after the last frame is recorded.
	for {
		sum, err := cli.Monitor()
		if err != nil {
			t.Fatalf("could not get monitor summary: %+v", err)
		}
		if len(sum) == 4 {
			break
		}
		select {
		case <-timeout:
			t.Fatalf("timeout waiting for monitor summary (channels=%d)", len(sum))
		case <-time.After(10 * time.Millisecond):
		}
	}

	err = cli.Stop()
	if err != nil {
		t.Fatalf("could not stop: %+v", err)
	}

	report, err := cli.Report(1)
	if err != nil {
		t.Fatalf("could not get report: %+v", err)
	}
	if !strings.Contains(report, "ACQ420FMC") || !strings.Contains(report, "roi x") {
		t.Fatalf("invalid report:\n%s", report)
	}
}

func TestAPIErrors(t *testing.T) {
	_, _, cli := newTestServer(t)

	for _, tc := range []struct {
		name string
		err  error
		want string
	}{
		{
			name: "unknown-key",
			err:  cli.Set("bogus", "1"),
			want: "400",
		},
		{
			name: "invalid-value",
			err:  cli.Set(acq.KeyDataWidth, "24"),
			want: "400",
		},
		{
			name: "lookup",
			err:  cli.Set(acq.KeyGain, "7"),
			want: "422",
		},
		{
			name: "device",
			err: func() error {
				_, err := cli.Get("no_such_param")
				return err
			}(),
			want: "502",
		},
		{
			name: "report",
			err: func() error {
				_, err := cli.Report(-1)
				return err
			}(),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if tc.want == "" {
				if tc.err != nil {
					t.Fatalf("unexpected error: %+v", tc.err)
				}
				return
			}
			if tc.err == nil {
				t.Fatalf("expected an error")
			}
			if !strings.Contains(tc.err.Error(), tc.want) {
				t.Fatalf("invalid error: got=%q, want status %s", tc.err.Error(), tc.want)
			}
		})
	}
}

func TestStatusOf(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want int
	}{
		{acq.ErrInvalid, http.StatusBadRequest},
		{acq.ErrLookup, http.StatusUnprocessableEntity},
		{acq.ErrProtocol, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	} {
		if got := statusOf(tc.err); got != tc.want {
			t.Fatalf("invalid status for %v: got=%d, want=%d", tc.err, got, tc.want)
		}
	}
}
