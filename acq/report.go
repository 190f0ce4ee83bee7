// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"bufio"
	"fmt"
	"io"
)

// Report writes a human readable summary of the engine state to w.
// Region of interest and link details are added when details > 0.
func (e *Engine) Report(w io.Writer, details int) error {
	st := e.Stats()

	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	fmt.Fprintf(wbuf, "D-TACQ %s (%s)\n", st.Model, st.Manufacturer)
	fmt.Fprintf(wbuf, "  module type:  %d (%s), master site %d\n", st.ModuleType, ModuleName(st.ModuleType), st.MasterSite)
	fmt.Fprintf(wbuf, "  geometry:     %d channels x %d samples, %d bits, scratchpad=%v\n",
		st.Geometry.Channels, st.Geometry.Samples, st.Geometry.Bits(), st.Geometry.Scratchpad,
	)
	fmt.Fprintf(wbuf, "  gain:         %d (+/-%g V), %g V/count\n", st.Gain, st.Range, st.Factor)
	fmt.Fprintf(wbuf, "  status:       %v (%s)\n", st.Status, st.Message)
	fmt.Fprintf(wbuf, "  mode:         %v (%d/%d images)\n", st.Mode, st.Images, st.NumImages)
	fmt.Fprintf(wbuf, "  frames:       %d, integrity faults: %d\n", st.Frames, st.Faults)

	if details > 0 {
		for _, v := range []struct {
			name string
			ax   Axis
		}{
			{"roi x", st.Geometry.X},
			{"roi y", st.Geometry.Y},
		} {
			fmt.Fprintf(wbuf, "  %s:        offset=%d size=%d bin=%d reverse=%v\n",
				v.name, v.ax.Offset, v.ax.Size, v.ax.Bin, v.ax.Reverse,
			)
		}
		fmt.Fprintf(wbuf, "  output:       %dx%d (%d bytes)\n", st.NX, st.NY, 8*st.NX*st.NY)
		sites := st.Sites
		if sites == "" {
			sites = fmt.Sprintf("%d", st.MasterSite)
		}
		fmt.Fprintf(wbuf, "  sites:        %s\n", sites)
		fmt.Fprintf(wbuf, "  data link:    connected=%v\n", st.Connected)
	}

	return wbuf.Flush()
}
