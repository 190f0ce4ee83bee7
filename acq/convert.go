// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// mask32 clears the site/channel tag in the low byte of 32-bit samples.
const mask32 = 0xffffff00

// Image is a converted frame payload.
type Image struct {
	Data []float64
	NX   int
	NY   int
}

// Mask clears the low 8 bits of every 32-bit word of raw, in place.
func Mask(raw []byte) {
	for i := 0; i+4 <= len(raw); i += 4 {
		v := byteOrder.Uint32(raw[i : i+4])
		byteOrder.PutUint32(raw[i:i+4], v&mask32)
	}
}

// Convert converts a raw frame to volts, using factor volts per count,
// and extracts the region of interest described by geo.
//
// 32-bit samples are masked in place before conversion.
func Convert(raw []byte, geo Geometry, factor float64) (Image, error) {
	if raw == nil {
		return Image{}, ErrNullFrame
	}
	if n := geo.FrameSize(); len(raw) != n {
		return Image{}, fmt.Errorf(
			"acq: raw frame size mismatch (got=%d, want=%d): %w",
			len(raw), n, ErrConversion,
		)
	}

	if geo.Width == 4 {
		Mask(raw)
	}

	data, err := widen(raw, geo.Width)
	if err != nil {
		return Image{}, err
	}
	floats.Scale(factor, data)

	return Extract(data, geo.Channels, geo.Samples, geo.X, geo.Y)
}

func widen(raw []byte, width int) ([]float64, error) {
	switch width {
	case 2:
		out := make([]float64, len(raw)/2)
		for i := range out {
			out[i] = float64(int16(byteOrder.Uint16(raw[2*i:])))
		}
		return out, nil
	case 4:
		out := make([]float64, len(raw)/4)
		for i := range out {
			out[i] = float64(int32(byteOrder.Uint32(raw[4*i:])))
		}
		return out, nil
	}
	return nil, fmt.Errorf("acq: invalid sample width %d: %w", width, ErrConversion)
}

// Extract extracts the region of interest (ax, ay) from the nx*ny image
// data, summing binned samples.
// The full, unbinned and unreversed region returns data itself.
func Extract(data []float64, nx, ny int, ax, ay Axis) (Image, error) {
	if data == nil {
		return Image{}, ErrNullFrame
	}
	if len(data) != nx*ny {
		return Image{}, fmt.Errorf(
			"acq: image size mismatch (got=%d, want=%dx%d): %w",
			len(data), nx, ny, ErrConversion,
		)
	}

	if ax.identity(nx) && ay.identity(ny) {
		return Image{Data: data, NX: nx, NY: ny}, nil
	}

	if err := ax.validate("x", nx); err != nil {
		return Image{}, fmt.Errorf("acq: could not extract region: %w: %w", ErrConversion, err)
	}
	if err := ay.validate("y", ny); err != nil {
		return Image{}, fmt.Errorf("acq: could not extract region: %w: %w", ErrConversion, err)
	}

	var (
		ox  = ax.Extent()
		oy  = ay.Extent()
		out = make([]float64, ox*oy)
	)
	for j := 0; j < oy; j++ {
		dj := j
		if ay.Reverse {
			dj = oy - 1 - j
		}
		for i := 0; i < ox; i++ {
			di := i
			if ax.Reverse {
				di = ox - 1 - i
			}
			sum := 0.0
			for bj := 0; bj < ay.Bin; bj++ {
				row := (ay.Offset + j*ay.Bin + bj) * nx
				beg := row + ax.Offset + i*ax.Bin
				sum += floats.Sum(data[beg : beg+ax.Bin])
			}
			out[dj*ox+di] = sum
		}
	}

	return Image{Data: out, NX: ox, NY: oy}, nil
}
