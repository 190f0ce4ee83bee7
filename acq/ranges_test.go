// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"math"
	"testing"
)

func TestRange(t *testing.T) {
	for _, tc := range []struct {
		module, sel int
		want        float64
		ok          bool
	}{
		{module: ACQ420FMC, sel: 0, want: 10, ok: true},
		{module: ACQ420FMC, sel: 3, want: 1.25, ok: true},
		{module: ACQ425ELF, sel: 1, want: 5, ok: true},
		{module: ACQ437ELF, sel: 2, want: 2.5, ok: true},
		{module: ACQ420FMC, sel: 4},
		{module: ACQ420FMC, sel: -1},
		{module: 2, sel: 0},
	} {
		got, ok := Range(tc.module, tc.sel)
		if ok != tc.ok {
			t.Fatalf("module=%d, sel=%d: invalid ok: got=%v, want=%v", tc.module, tc.sel, ok, tc.ok)
		}
		if got != tc.want {
			t.Fatalf("module=%d, sel=%d: invalid range: got=%v, want=%v", tc.module, tc.sel, got, tc.want)
		}
	}
}

func TestConversionFactor(t *testing.T) {
	for _, tc := range []struct {
		name             string
		module, sel, nbs int
		raw              float64
		want             float64
		ok               bool
	}{
		{
			name:   "acq420-16b-10V",
			module: ACQ420FMC, sel: 0, nbs: 16,
			raw: 32767, want: 9.9997, ok: true,
		},
		{
			name:   "acq420-16b-1.25V",
			module: ACQ420FMC, sel: 3, nbs: 16,
			raw: -32768, want: -1.25, ok: true,
		},
		{
			name:   "acq425-32b-5V",
			module: ACQ425ELF, sel: 1, nbs: 32,
			raw: 0x7fffff00, want: 5, ok: true,
		},
		{name: "bad-gain", module: ACQ420FMC, sel: 4, nbs: 16},
		{name: "bad-width", module: ACQ420FMC, sel: 0, nbs: 24},
		{name: "bad-module", module: 42, sel: 0, nbs: 16},
	} {
		t.Run(tc.name, func(t *testing.T) {
			factor, ok := ConversionFactor(tc.module, tc.sel, tc.nbs)
			if ok != tc.ok {
				t.Fatalf("invalid ok: got=%v, want=%v", ok, tc.ok)
			}
			if !ok {
				return
			}
			if got := tc.raw * factor; math.Abs(got-tc.want) > 1e-4 {
				t.Fatalf("invalid volts: got=%v, want=%v", got, tc.want)
			}
		})
	}
}

func TestModuleName(t *testing.T) {
	for _, tc := range []struct {
		module int
		want   string
	}{
		{ACQ420FMC, "ACQ420FMC"},
		{ACQ425ELF, "ACQ425ELF"},
		{ACQ437ELF, "ACQ437ELF"},
		{0, "unknown"},
	} {
		if got := ModuleName(tc.module); got != tc.want {
			t.Fatalf("invalid name: got=%q, want=%q", got, tc.want)
		}
	}
}
