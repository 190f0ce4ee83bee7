// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseCommand(t *testing.T) {
	for _, tc := range []struct {
		key, value string
		want       Command
		err        error
	}{
		{key: KeyGain, value: "2", want: SetGain{Index: 2}},
		{key: KeyMasterSite, value: " 3 ", want: SetMasterSite{Site: 3}},
		{key: KeyDataWidth, value: "16", want: SetDataWidth{Bits: 16}},
		{key: KeyScratchpad, value: "true", want: SetScratchpad{Enable: true}},
		{key: KeyScratchpad, value: "0", want: SetScratchpad{Enable: false}},
		{key: KeyChannels, value: "32", want: SetChannels{N: 32}},
		{key: KeySamples, value: "4096", want: SetSamples{N: 4096}},
		{key: KeyROIX, value: "1,2,1", want: SetROI{Dim: DimX, Axis: Axis{Offset: 1, Size: 2, Bin: 1}}},
		{key: KeyROIY, value: "0, 100, 10, true", want: SetROI{Dim: DimY, Axis: Axis{Offset: 0, Size: 100, Bin: 10, Reverse: true}}},
		{key: KeyImageMode, value: "multiple", want: SetImageMode{Mode: Multiple}},
		{key: KeyImageMode, value: "0", want: SetImageMode{Mode: Single}},
		{key: KeyNumImages, value: "5", want: SetNumImages{N: 5}},
		{key: KeyAggrSites, value: "1,2,3", want: SetAggregationSites{Sites: "1,2,3"}},
		{key: KeyAcquire, value: "1", want: Start{}},
		{key: KeyAcquire, value: "0", want: Stop{}},
		{key: KeyGain, value: "high", err: ErrInvalid},
		{key: KeyROIX, value: "1,2", err: ErrInvalid},
		{key: KeyImageMode, value: "burst", err: ErrInvalid},
		{key: "status", value: "Idle", err: ErrInvalid},
	} {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			got, err := ParseCommand(tc.key, tc.value)
			switch {
			case err != nil && tc.err != nil:
				if !errors.Is(err, tc.err) {
					t.Fatalf("invalid error: got=%+v, want=%v", err, tc.err)
				}
				return
			case err != nil && tc.err == nil:
				t.Fatalf("could not parse command: %+v", err)
			case err == nil && tc.err != nil:
				t.Fatalf("expected an error (%v)", tc.err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("invalid command: got=%#v, want=%#v", got, tc.want)
			}
		})
	}
}

func TestCommandKeys(t *testing.T) {
	want := []string{
		KeyAcquire, KeyAggrSites, KeyChannels, KeyDataWidth,
		KeyGain, KeyImageMode, KeyMasterSite, KeyNumImages,
		KeyROIX, KeyROIY, KeySamples, KeyScratchpad,
	}
	if got := CommandKeys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid keys:\ngot= %q\nwant=%q", got, want)
	}
}

func TestCommandValidate(t *testing.T) {
	for _, tc := range []struct {
		cmd Command
		ok  bool
	}{
		{SetGain{Index: 0}, true},
		{SetGain{Index: -1}, false},
		{SetMasterSite{Site: -1}, false},
		{SetDataWidth{Bits: 32}, true},
		{SetDataWidth{Bits: 24}, false},
		{SetChannels{N: 0}, false},
		{SetSamples{N: -2}, false},
		{SetROI{Dim: 3}, false},
		{SetImageMode{Mode: Mode(7)}, false},
		{SetNumImages{N: 0}, false},
		{SetAggregationSites{Sites: ""}, true},
		{SetAggregationSites{Sites: "1,x"}, false},
		{Start{}, true},
		{Stop{}, true},
	} {
		err := tc.cmd.validate()
		if (err == nil) != tc.ok {
			t.Fatalf("%#v: invalid validation: err=%v, want ok=%v", tc.cmd, err, tc.ok)
		}
		if err != nil && !errors.Is(err, ErrInvalid) {
			t.Fatalf("%#v: invalid error: got=%+v, want=%v", tc.cmd, err, ErrInvalid)
		}
	}
}
