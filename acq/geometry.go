// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"fmt"
)

// Axis describes the region of interest along one axis of a frame.
type Axis struct {
	Offset  int  `json:"offset"`
	Size    int  `json:"size"`
	Bin     int  `json:"bin"`
	Reverse bool `json:"reverse"`
}

// FullAxis returns the region of interest spanning n elements, unbinned.
func FullAxis(n int) Axis {
	return Axis{Offset: 0, Size: n, Bin: 1}
}

func (ax Axis) identity(n int) bool {
	return ax.Offset == 0 && ax.Size == n && ax.Bin == 1 && !ax.Reverse
}

// Extent returns the number of output elements along this axis.
func (ax Axis) Extent() int {
	if ax.Bin < 1 {
		return 0
	}
	return ax.Size / ax.Bin
}

func (ax Axis) validate(name string, n int) error {
	switch {
	case ax.Offset < 0 || ax.Offset >= n:
		return fmt.Errorf("acq: %s offset %d out of range [0, %d): %w", name, ax.Offset, n, ErrInvalid)
	case ax.Size < 1 || ax.Offset+ax.Size > n:
		return fmt.Errorf("acq: %s size %d out of range (offset=%d, max=%d): %w", name, ax.Size, ax.Offset, n, ErrInvalid)
	case ax.Bin < 1:
		return fmt.Errorf("acq: %s binning %d must be >= 1: %w", name, ax.Bin, ErrInvalid)
	case ax.Bin > ax.Size:
		return fmt.Errorf("acq: %s binning %d larger than size %d: %w", name, ax.Bin, ax.Size, ErrInvalid)
	}
	return nil
}

// Geometry describes the layout of a raw frame and the region of interest
// extracted from it.
//
// A raw frame holds Samples rows of Channels samples, each Width bytes.
// X runs over channels, Y over samples.
type Geometry struct {
	Channels   int  `json:"channels"`
	Samples    int  `json:"samples"`
	Width      int  `json:"width"` // bytes per sample: 2 or 4
	Scratchpad bool `json:"scratchpad"`
	X          Axis `json:"roi_x"`
	Y          Axis `json:"roi_y"`
}

// NewGeometry returns a geometry with a full-frame region of interest.
func NewGeometry(channels, samples, width int) Geometry {
	return Geometry{
		Channels: channels,
		Samples:  samples,
		Width:    width,
		X:        FullAxis(channels),
		Y:        FullAxis(samples),
	}
}

// FrameSize returns the size in bytes of a raw frame.
func (g Geometry) FrameSize() int { return g.Samples * g.Channels * g.Width }

// RowStride returns the size in bytes of one sample row.
func (g Geometry) RowStride() int { return g.Channels * g.Width }

// Bits returns the sample width in bits.
func (g Geometry) Bits() int { return 8 * g.Width }

// Validate checks the geometry is self-consistent.
func (g Geometry) Validate() error {
	if g.Channels < 1 {
		return fmt.Errorf("acq: invalid channel count %d: %w", g.Channels, ErrInvalid)
	}
	if g.Samples < 1 {
		return fmt.Errorf("acq: invalid sample count %d: %w", g.Samples, ErrInvalid)
	}
	switch g.Width {
	case 2, 4:
	default:
		return fmt.Errorf("acq: invalid sample width %d: %w", g.Width, ErrInvalid)
	}
	if g.Scratchpad && g.RowStride() < 4 {
		return fmt.Errorf("acq: row of %d bytes too small for the sample counter: %w", g.RowStride(), ErrInvalid)
	}
	if err := g.X.validate("x", g.Channels); err != nil {
		return err
	}
	if err := g.Y.validate("y", g.Samples); err != nil {
		return err
	}
	return nil
}
