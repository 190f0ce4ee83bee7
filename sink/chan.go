// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sink

import (
	"sync/atomic"

	"github.com/wycx/dtacq-adc/acq"
)

// Chan is a sink forwarding copies of frames to a buffered channel.
// Frames are dropped when the channel is full.
type Chan struct {
	ch      chan *acq.Frame
	dropped uint64
}

// NewChan returns a channel sink with a buffer of n frames.
func NewChan(n int) *Chan {
	return &Chan{ch: make(chan *acq.Frame, n)}
}

// C returns the channel receiving the frames.
func (c *Chan) C() <-chan *acq.Frame { return c.ch }

// Dropped returns the number of frames dropped so far.
func (c *Chan) Dropped() uint64 { return atomic.LoadUint64(&c.dropped) }

func (c *Chan) Publish(f *acq.Frame) error {
	select {
	case c.ch <- f.Clone():
	default:
		atomic.AddUint64(&c.dropped, 1)
	}
	return nil
}

var (
	_ acq.Sink = (*Chan)(nil)
)
