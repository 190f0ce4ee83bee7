// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package acq implements the acquisition engine of a D-TACQ ACQ4xx
// digitizer.
//
// The engine pulls fixed-size frames from the data port of the unit,
// checks the sample counter embedded in each row when the scratchpad is
// enabled, converts raw samples to volts and hands calibrated frames to a
// Sink. The unit is configured through a line-oriented control port.
package acq // import "github.com/wycx/dtacq-adc/acq"

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// byteOrder is the byte order of samples on the data port.
var byteOrder = binary.LittleEndian

// Status describes the state of the acquisition engine.
type Status int

const (
	Idle Status = iota
	WaitingForStart
	Acquiring
	Readout
	Stopping
	Aborted
	Error
	Disconnected
)

var statusNames = [...]string{
	Idle:            "Idle",
	WaitingForStart: "WaitingForStart",
	Acquiring:       "Acquiring",
	Readout:         "Readout",
	Stopping:        "Stopping",
	Aborted:         "Aborted",
	Error:           "Error",
	Disconnected:    "Disconnected",
}

func (st Status) String() string {
	if st < 0 || int(st) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(st))
	}
	return statusNames[st]
}

func (st Status) MarshalText() ([]byte, error) {
	return []byte(st.String()), nil
}

func (st *Status) UnmarshalText(p []byte) error {
	for i, name := range statusNames {
		if name == string(p) {
			*st = Status(i)
			return nil
		}
	}
	return fmt.Errorf("acq: invalid status %q", p)
}

// Mode is the acquisition mode.
type Mode int

const (
	Single     Mode = iota // acquire one frame, then stop.
	Multiple               // acquire a fixed number of frames, then stop.
	Continuous             // acquire until explicitly stopped.
)

func (m Mode) String() string {
	switch m {
	case Single:
		return "single"
	case Multiple:
		return "multiple"
	case Continuous:
		return "continuous"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(p []byte) error {
	v, err := ParseMode(string(p))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMode parses an acquisition mode from its name or its numeric value.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single", "0":
		return Single, nil
	case "multiple", "1":
		return Multiple, nil
	case "continuous", "2":
		return Continuous, nil
	}
	return 0, fmt.Errorf("acq: invalid acquisition mode %q: %w", s, ErrInvalid)
}

// Frame is a calibrated frame.
//
// Data holds NX*NY samples in volts, with X (channels) varying fastest.
// A Sink that needs to keep a frame past its Publish call must take its
// own copy with Clone.
type Frame struct {
	ID    uint64    // strictly increasing sequence number
	Time  time.Time // capture time
	Data  []float64
	NX    int
	NY    int
	Fault bool // the sample counter check failed for this frame
}

// Size returns the size in bytes of the frame payload.
func (f *Frame) Size() int { return 8 * len(f.Data) }

// At returns the sample at column x and row y.
func (f *Frame) At(x, y int) float64 { return f.Data[y*f.NX+x] }

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	o := *f
	o.Data = append([]float64(nil), f.Data...)
	return &o
}

// Sink consumes calibrated frames.
type Sink interface {
	Publish(f *Frame) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(f *Frame) error

func (fct SinkFunc) Publish(f *Frame) error { return fct(f) }

// Params receives the values published by the engine.
type Params interface {
	Set(key, value string) error
}

// Readback keys published to Params.
const (
	KeyStatus        = "status"
	KeyStatusMessage = "status_message"
	KeyArrayCounter  = "array_counter"
	KeyImagesCounter = "num_images_counter"
	KeyFaults        = "integrity_faults"
	KeySizeX         = "array_size_x"
	KeySizeY         = "array_size_y"
	KeyArraySize     = "array_size"
	KeyModel         = "model"
	KeyManufacturer  = "manufacturer"
	KeyModuleType    = "module_type"
	KeyFactor        = "conversion_factor"
)
