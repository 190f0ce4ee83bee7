// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"math"
)

// Module types, as reported by the module_type parameter of a site.
const (
	ACQ420FMC = 1
	ACQ425ELF = 5
	ACQ437ELF = 6
)

// ranges holds the full-scale ranges, in volts, indexed by gain selection.
var ranges = map[int][]float64{
	ACQ420FMC: {10.0, 5.0, 2.5, 1.25},
	ACQ425ELF: {10.0, 5.0, 2.5, 1.25},
	ACQ437ELF: {10.0, 5.0, 2.5, 1.25},
}

var moduleNames = map[int]string{
	ACQ420FMC: "ACQ420FMC",
	ACQ425ELF: "ACQ425ELF",
	ACQ437ELF: "ACQ437ELF",
}

// ModuleName returns the name of a module type.
func ModuleName(module int) string {
	if name, ok := moduleNames[module]; ok {
		return name
	}
	return "unknown"
}

// Range returns the full-scale range in volts of gain selection sel on a
// module of the given type.
// Range reports false when the module type is unknown or sel is out of range.
func Range(module, sel int) (float64, bool) {
	rs, ok := ranges[module]
	if !ok || sel < 0 || sel >= len(rs) {
		return 0, false
	}
	return rs[sel], true
}

// ConversionFactor returns the volts per raw count of a module of the
// given type, with gain selection sel and bits-wide samples.
func ConversionFactor(module, sel, bits int) (float64, bool) {
	if bits != 16 && bits != 32 {
		return 0, false
	}
	r, ok := Range(module, sel)
	if !ok {
		return 0, false
	}
	return 2 * r / math.Exp2(float64(bits)), true
}
