// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sink

import (
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/wycx/dtacq-adc/acq"
	"go-hep.org/x/hep/hbook"
	"gonum.org/v1/gonum/floats"
)

// Monitor accumulates per-channel histograms of calibrated samples.
type Monitor struct {
	mu     sync.Mutex
	nbins  int
	lo, hi float64

	hs     []*hbook.H1D
	min    []float64
	max    []float64
	col    []float64
	frames uint64
	faults uint64
}

// NewMonitor returns a monitor binning samples into nbins bins in [lo, hi).
func NewMonitor(nbins int, lo, hi float64) *Monitor {
	return &Monitor{nbins: nbins, lo: lo, hi: hi}
}

// ChannelSummary holds the statistics of one output channel.
type ChannelSummary struct {
	Channel int     `json:"channel"`
	Entries int64   `json:"entries"`
	Mean    float64 `json:"mean"`
	RMS     float64 `json:"rms"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

func (m *Monitor) Publish(f *acq.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.hs) != f.NX {
		m.reset(f.NX)
	}

	m.frames++
	if f.Fault {
		m.faults++
	}

	if cap(m.col) < f.NY {
		m.col = make([]float64, f.NY)
	}
	col := m.col[:f.NY]
	for x := 0; x < f.NX; x++ {
		h := m.hs[x]
		for y := range col {
			v := f.At(x, y)
			col[y] = v
			h.Fill(v, 1)
		}
		if len(col) == 0 {
			continue
		}
		m.min[x] = math.Min(m.min[x], floats.Min(col))
		m.max[x] = math.Max(m.max[x], floats.Max(col))
	}
	return nil
}

// Reset clears all accumulated statistics.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset(len(m.hs))
	m.frames = 0
	m.faults = 0
}

func (m *Monitor) reset(n int) {
	m.hs = make([]*hbook.H1D, n)
	m.min = make([]float64, n)
	m.max = make([]float64, n)
	for i := range m.hs {
		m.hs[i] = hbook.NewH1D(m.nbins, m.lo, m.hi)
		m.min[i] = math.Inf(+1)
		m.max[i] = math.Inf(-1)
	}
}

// Frames returns the number of frames and faulty frames seen.
func (m *Monitor) Frames() (frames, faults uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames, m.faults
}

// Summary returns the statistics of each channel.
func (m *Monitor) Summary() []ChannelSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	o := make([]ChannelSummary, len(m.hs))
	for i, h := range m.hs {
		o[i] = ChannelSummary{
			Channel: i,
			Entries: h.Entries(),
			Min:     m.min[i],
			Max:     m.max[i],
		}
		if h.Entries() > 0 {
			o[i].Mean = h.XMean()
			o[i].RMS = h.XRMS()
		}
	}
	return o
}

// WriteTo writes a table of the channel statistics to w.
func (m *Monitor) WriteTo(w io.Writer) (int64, error) {
	frames, faults := m.Frames()
	var n int64
	nn, err := fmt.Fprintf(w, "frames: %d (faults: %d)\n", frames, faults)
	n += int64(nn)
	if err != nil {
		return n, err
	}
	for _, s := range m.Summary() {
		nn, err = fmt.Fprintf(w,
			"ch-%02d: entries=%d mean=%+.6e rms=%.6e min=%+.6e max=%+.6e\n",
			s.Channel, s.Entries, s.Mean, s.RMS, s.Min, s.Max,
		)
		n += int64(nn)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

var (
	_ acq.Sink     = (*Monitor)(nil)
	_ io.WriterTo = (*Monitor)(nil)
)
