// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xcnv

import (
	"bytes"
	"errors"
	"io"
	"log"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/wycx/dtacq-adc/acq"
	"github.com/wycx/dtacq-adc/sink"
	"go-hep.org/x/hep/lcio"
)

func TestRoundTrip(t *testing.T) {
	t0 := time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)
	want := []acq.Frame{
		{ID: 1, Time: t0, NX: 2, NY: 3, Data: []float64{0, 1, 2, 3, 4, 5}},
		{ID: 1<<40 + 3, Time: t0.Add(time.Millisecond), NX: 1, NY: 2, Data: []float64{-1.5, 2.25}, Fault: true},
	}

	raw := new(bytes.Buffer)
	enc := sink.NewEncoder(raw)
	for i := range want {
		err := enc.Encode(&want[i])
		if err != nil {
			t.Fatalf("could not encode frame: %+v", err)
		}
	}

	const run = 63
	msg := log.New(io.Discard, "", 0)
	fname := filepath.Join(t.TempDir(), "frames.lcio")

	lw, err := lcio.Create(fname)
	if err != nil {
		t.Fatalf("could not create LCIO file: %+v", err)
	}
	defer lw.Close()

	err = Frames2LCIO(lw, sink.NewDecoder(raw), run, msg)
	if err != nil {
		t.Fatalf("could not convert to LCIO: %+v", err)
	}
	err = lw.Close()
	if err != nil {
		t.Fatalf("could not close LCIO file: %+v", err)
	}

	lr, err := lcio.Open(fname)
	if err != nil {
		t.Fatalf("could not open LCIO file: %+v", err)
	}
	defer lr.Close()

	out := new(bytes.Buffer)
	err = LCIO2Frames(sink.NewEncoder(out), lr, 1, msg)
	if err != nil {
		t.Fatalf("could not convert from LCIO: %+v", err)
	}

	var (
		got []acq.Frame
		dec = sink.NewDecoder(out)
	)
	for {
		var f acq.Frame
		err := dec.Decode(&f)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("could not decode frame: %+v", err)
		}
		got = append(got, f)
	}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round-trip failed:\ngot= %+v\nwant=%+v", got, want)
	}
}

func TestFrameFrom(t *testing.T) {
	for _, tc := range []struct {
		name string
		evt  lcio.Event
	}{
		{
			name: "missing-collection",
		},
		{
			name: "invalid-header",
			evt: func() lcio.Event {
				var evt lcio.Event
				evt.Add(Collection, &lcio.GenericObject{
					Data: []lcio.GenericObjectData{{I32s: []int32{1, 2}}},
				})
				return evt
			}(),
		},
		{
			name: "invalid-samples",
			evt: func() lcio.Event {
				var evt lcio.Event
				evt.Add(Collection, &lcio.GenericObject{
					Data: []lcio.GenericObjectData{{
						I32s: []int32{2, 2, 0, 0, 1},
						F64s: []float64{1, 2, 3},
					}},
				})
				return evt
			}(),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := frameFrom(&tc.evt)
			if err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}
