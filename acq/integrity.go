// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

// Integrity tracks the 32-bit sample counter the unit writes in the last
// 4 bytes of each row when the scratchpad is enabled.
//
// The first counter seen after Reset or after a fault seeds the expected
// value and is not checked.
type Integrity struct {
	armed  bool
	next   uint32
	faults uint64
}

// Reset de-arms the checker.
func (chk *Integrity) Reset() {
	chk.armed = false
	chk.next = 0
}

// Armed reports whether the next counter will be checked.
func (chk *Integrity) Armed() bool { return chk.armed }

// Expected returns the next expected counter value.
func (chk *Integrity) Expected() uint32 { return chk.next }

// Faults returns the number of mismatches seen since creation.
func (chk *Integrity) Faults() uint64 { return chk.faults }

// Check verifies the counters of all rows of raw.
// Check reports whether at least one mismatch was found.
func (chk *Integrity) Check(raw []byte, geo Geometry) bool {
	stride := geo.RowStride()
	if stride < 4 {
		return false
	}

	fault := false
	for off := stride - 4; off+4 <= len(raw); off += stride {
		v := byteOrder.Uint32(raw[off : off+4])
		if !chk.armed {
			chk.armed = true
			chk.next = v + 1
			continue
		}
		if v != chk.next {
			fault = true
			chk.faults++
			chk.armed = false
			continue
		}
		chk.next++
	}
	return fault
}
