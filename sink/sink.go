// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sink provides consumers of calibrated frames.
//
// Sinks must not modify the frames they are handed, and must Clone a
// frame they keep past Publish.
package sink // import "github.com/wycx/dtacq-adc/sink"

import (
	"github.com/wycx/dtacq-adc/acq"
	"golang.org/x/sync/errgroup"
)

type multi []acq.Sink

// Multi returns a sink publishing each frame to all sinks concurrently.
// The first error encountered is returned once all sinks are done.
func Multi(sinks ...acq.Sink) acq.Sink {
	o := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		o = append(o, s)
	}
	return o
}

func (m multi) Publish(f *acq.Frame) error {
	switch len(m) {
	case 0:
		return nil
	case 1:
		return m[0].Publish(f)
	}

	var grp errgroup.Group
	for i := range m {
		s := m[i]
		grp.Go(func() error {
			return s.Publish(f)
		})
	}
	return grp.Wait()
}

var (
	_ acq.Sink = (multi)(nil)
)
