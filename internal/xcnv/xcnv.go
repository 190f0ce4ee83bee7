// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xcnv provides tools to convert frame files to/from LCIO.
//
// Each frame is stored as an LCIO event holding a single generic object
// in the DTACQ_FRAME collection. The integer part of the object holds the
// extents, the fault flag and the frame ID; the double part holds the
// samples.
package xcnv // import "github.com/wycx/dtacq-adc/internal/xcnv"

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/wycx/dtacq-adc/acq"
	"github.com/wycx/dtacq-adc/sink"
	"go-hep.org/x/hep/lcio"
)

const (
	// Collection is the name of the LCIO collection holding frames.
	Collection = "DTACQ_FRAME"

	// Detector is the detector name of LCIO runs and events.
	Detector = "DTACQ"
)

// Frames2LCIO converts all the frames read from dec into LCIO events
// of the given run.
func Frames2LCIO(w *lcio.Writer, dec *sink.Decoder, run int32, msg *log.Logger) error {
	var (
		f   acq.Frame
		obj = &lcio.GenericObject{
			Data: []lcio.GenericObjectData{{}},
		}
	)

	for i := 0; ; i++ {
		if i%100 == 0 {
			msg.Printf("processing frame %d...", i)
		}
		err := dec.Decode(&f)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("could not decode frame: %w", err)
		}

		if i == 0 {
			err = w.WriteRunHeader(&lcio.RunHeader{
				RunNumber: run,
				Detector:  Detector,
				Params: lcio.Params{
					Ints: map[string][]int32{
						"NX": {int32(f.NX)},
						"NY": {int32(f.NY)},
					},
				},
			})
			if err != nil {
				return fmt.Errorf("could not write run header: %w", err)
			}
		}

		evt := lcio.Event{
			RunNumber:   run,
			EventNumber: int32(i),
			TimeStamp:   f.Time.UnixNano(),
			Detector:    Detector,
		}
		obj.Data[0] = lcio.GenericObjectData{
			I32s: i32sFrom(&f),
			F64s: f.Data,
		}
		evt.Add(Collection, obj)

		err = w.WriteEvent(&evt)
		if err != nil {
			return fmt.Errorf("could not write frame %d: %w", f.ID, err)
		}
	}
}

// LCIO2Frames converts all the events read from r into frames written
// with enc.
func LCIO2Frames(enc *sink.Encoder, r *lcio.Reader, freq int, msg *log.Logger) error {
	if freq <= 0 {
		freq = 1
	}

	i := 0
	for r.Next() {
		if i%freq == 0 {
			msg.Printf("processing evt %d...", i)
		}
		evt := r.Event()
		f, err := frameFrom(&evt)
		if err != nil {
			return fmt.Errorf("could not decode event %d: %w", evt.EventNumber, err)
		}
		err = enc.Encode(f)
		if err != nil {
			return fmt.Errorf("could not encode frame %d: %w", f.ID, err)
		}
		i++
	}

	err := r.Err()
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("could not read LCIO events: %w", err)
	}
	return nil
}

func i32sFrom(f *acq.Frame) []int32 {
	fault := int32(0)
	if f.Fault {
		fault = 1
	}
	return []int32{
		int32(f.NX),
		int32(f.NY),
		fault,
		int32(uint32(f.ID >> 32)),
		int32(uint32(f.ID)),
	}
}

func frameFrom(evt *lcio.Event) (*acq.Frame, error) {
	if !evt.Has(Collection) {
		return nil, fmt.Errorf("no %s collection", Collection)
	}
	obj, ok := evt.Get(Collection).(*lcio.GenericObject)
	if !ok || len(obj.Data) != 1 {
		return nil, fmt.Errorf("invalid %s collection", Collection)
	}
	data := obj.Data[0]
	if len(data.I32s) != 5 {
		return nil, fmt.Errorf("invalid frame header (len=%d)", len(data.I32s))
	}

	f := &acq.Frame{
		ID:    uint64(uint32(data.I32s[3]))<<32 | uint64(uint32(data.I32s[4])),
		Time:  time.Unix(0, evt.TimeStamp).UTC(),
		NX:    int(data.I32s[0]),
		NY:    int(data.I32s[1]),
		Fault: data.I32s[2] != 0,
		Data:  append([]float64(nil), data.F64s...),
	}
	if len(f.Data) != f.NX*f.NY {
		return nil, fmt.Errorf("frame %d has %d samples, want %dx%d", f.ID, len(f.Data), f.NX, f.NY)
	}
	return f, nil
}
