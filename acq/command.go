// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Command is a configuration or control request applied with Engine.Do.
//
// The set of commands is closed: SetGain, SetMasterSite, SetDataWidth,
// SetScratchpad, SetChannels, SetSamples, SetROI, SetImageMode,
// SetNumImages, SetAggregationSites, Start and Stop.
type Command interface {
	validate() error
}

// SetGain selects the gain (input range) of the master site.
type SetGain struct{ Index int }

// SetMasterSite changes the site targeted by configuration commands.
type SetMasterSite struct{ Site int }

// SetDataWidth selects 16- or 32-bit samples.
type SetDataWidth struct{ Bits int }

// SetScratchpad enables or disables the per-row sample counter.
type SetScratchpad struct{ Enable bool }

// SetChannels changes the number of channels per row.
// The X region of interest is reset to the full row.
type SetChannels struct{ N int }

// SetSamples changes the number of rows per frame.
// The Y region of interest is reset to the full frame.
type SetSamples struct{ N int }

// Dim names an axis of a frame.
type Dim int

const (
	DimX Dim = iota // channels
	DimY            // samples
)

// SetROI changes the region of interest along one axis.
type SetROI struct {
	Dim  Dim
	Axis Axis
}

// SetImageMode changes the acquisition mode.
type SetImageMode struct{ Mode Mode }

// SetNumImages changes the number of frames of a Multiple acquisition.
type SetNumImages struct{ N int }

// SetAggregationSites changes the comma-separated list of sites passed
// to the run command. An empty list selects the master site.
type SetAggregationSites struct{ Sites string }

// Start starts an acquisition.
type Start struct{}

// Stop stops the current acquisition.
type Stop struct{}

func (cmd SetGain) validate() error {
	if cmd.Index < 0 {
		return fmt.Errorf("acq: invalid gain selection %d: %w", cmd.Index, ErrInvalid)
	}
	return nil
}

func (cmd SetMasterSite) validate() error {
	if cmd.Site < 0 {
		return fmt.Errorf("acq: invalid site %d: %w", cmd.Site, ErrInvalid)
	}
	return nil
}

func (cmd SetDataWidth) validate() error {
	switch cmd.Bits {
	case 16, 32:
		return nil
	}
	return fmt.Errorf("acq: invalid data width %d: %w", cmd.Bits, ErrInvalid)
}

func (SetScratchpad) validate() error { return nil }

func (cmd SetChannels) validate() error {
	if cmd.N < 1 {
		return fmt.Errorf("acq: invalid channel count %d: %w", cmd.N, ErrInvalid)
	}
	return nil
}

func (cmd SetSamples) validate() error {
	if cmd.N < 1 {
		return fmt.Errorf("acq: invalid sample count %d: %w", cmd.N, ErrInvalid)
	}
	return nil
}

func (cmd SetROI) validate() error {
	switch cmd.Dim {
	case DimX, DimY:
		return nil
	}
	return fmt.Errorf("acq: invalid ROI axis %d: %w", cmd.Dim, ErrInvalid)
}

func (cmd SetImageMode) validate() error {
	switch cmd.Mode {
	case Single, Multiple, Continuous:
		return nil
	}
	return fmt.Errorf("acq: invalid acquisition mode %d: %w", cmd.Mode, ErrInvalid)
}

func (cmd SetNumImages) validate() error {
	if cmd.N < 1 {
		return fmt.Errorf("acq: invalid number of images %d: %w", cmd.N, ErrInvalid)
	}
	return nil
}

func (cmd SetAggregationSites) validate() error {
	if cmd.Sites == "" {
		return nil
	}
	for _, site := range strings.Split(cmd.Sites, ",") {
		if _, err := strconv.Atoi(site); err != nil {
			return fmt.Errorf("acq: invalid aggregation site list %q: %w", cmd.Sites, ErrInvalid)
		}
	}
	return nil
}

func (Start) validate() error { return nil }
func (Stop) validate() error  { return nil }

// Settings keys understood by ParseCommand.
const (
	KeyGain       = "gain"
	KeyMasterSite = "master_site"
	KeyDataWidth  = "data_width"
	KeyScratchpad = "scratchpad"
	KeyChannels   = "channels"
	KeySamples    = "samples"
	KeyROIX       = "roi_x"
	KeyROIY       = "roi_y"
	KeyImageMode  = "image_mode"
	KeyNumImages  = "num_images"
	KeyAggrSites  = "aggr_sites"
	KeyAcquire    = "acquire"
)

var parsers = map[string]func(v string) (Command, error){
	KeyGain: func(v string) (Command, error) {
		i, err := strconv.Atoi(v)
		return SetGain{Index: i}, err
	},
	KeyMasterSite: func(v string) (Command, error) {
		i, err := strconv.Atoi(v)
		return SetMasterSite{Site: i}, err
	},
	KeyDataWidth: func(v string) (Command, error) {
		i, err := strconv.Atoi(v)
		return SetDataWidth{Bits: i}, err
	},
	KeyScratchpad: func(v string) (Command, error) {
		b, err := strconv.ParseBool(v)
		return SetScratchpad{Enable: b}, err
	},
	KeyChannels: func(v string) (Command, error) {
		i, err := strconv.Atoi(v)
		return SetChannels{N: i}, err
	},
	KeySamples: func(v string) (Command, error) {
		i, err := strconv.Atoi(v)
		return SetSamples{N: i}, err
	},
	KeyROIX: func(v string) (Command, error) {
		ax, err := parseAxis(v)
		return SetROI{Dim: DimX, Axis: ax}, err
	},
	KeyROIY: func(v string) (Command, error) {
		ax, err := parseAxis(v)
		return SetROI{Dim: DimY, Axis: ax}, err
	},
	KeyImageMode: func(v string) (Command, error) {
		m, err := ParseMode(v)
		return SetImageMode{Mode: m}, err
	},
	KeyNumImages: func(v string) (Command, error) {
		i, err := strconv.Atoi(v)
		return SetNumImages{N: i}, err
	},
	KeyAggrSites: func(v string) (Command, error) {
		return SetAggregationSites{Sites: v}, nil
	},
	KeyAcquire: func(v string) (Command, error) {
		b, err := strconv.ParseBool(v)
		if b {
			return Start{}, err
		}
		return Stop{}, err
	},
}

// ParseCommand returns the command setting key to value.
func ParseCommand(key, value string) (Command, error) {
	parse, ok := parsers[key]
	if !ok {
		return nil, fmt.Errorf("acq: unknown settings key %q: %w", key, ErrInvalid)
	}
	cmd, err := parse(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("acq: could not parse %s=%q: %w: %w", key, value, ErrInvalid, err)
	}
	return cmd, nil
}

// CommandKeys returns the sorted list of keys understood by ParseCommand.
func CommandKeys() []string {
	keys := make([]string, 0, len(parsers))
	for k := range parsers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parseAxis parses "offset,size,bin[,reverse]".
func parseAxis(v string) (Axis, error) {
	var ax Axis
	toks := strings.Split(v, ",")
	if len(toks) != 3 && len(toks) != 4 {
		return ax, fmt.Errorf("want offset,size,bin[,reverse], got %q", v)
	}
	var err error
	for i, p := range []*int{&ax.Offset, &ax.Size, &ax.Bin} {
		*p, err = strconv.Atoi(strings.TrimSpace(toks[i]))
		if err != nil {
			return ax, err
		}
	}
	if len(toks) == 4 {
		ax.Reverse, err = strconv.ParseBool(strings.TrimSpace(toks[3]))
		if err != nil {
			return ax, err
		}
	}
	return ax, nil
}
