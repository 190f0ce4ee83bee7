// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"errors"
	"fmt"

	"github.com/wycx/dtacq-adc/ctl"
)

var (
	// ErrDisconnected is returned when the data or control link is down.
	ErrDisconnected = errors.New("acq: disconnected")
	// ErrTimeout is returned when a partial frame read stalled.
	ErrTimeout = errors.New("acq: read timeout")
	// ErrRead is returned on a zero-byte read or a link fault.
	ErrRead = errors.New("acq: read error")
	// ErrConversion is returned when a raw frame could not be converted.
	ErrConversion = errors.New("acq: conversion failure")
	// ErrNullFrame is returned when converting an absent frame.
	ErrNullFrame = fmt.Errorf("acq: null frame: %w", ErrConversion)
	// ErrLookup is returned when a gain/module combination has no range.
	ErrLookup = errors.New("acq: configuration lookup failure")
	// ErrInvalid is returned for malformed configuration requests.
	ErrInvalid = errors.New("acq: invalid configuration")
	// ErrProtocol is returned when a control-channel exchange failed.
	ErrProtocol = ctl.ErrProtocol

	errStopped = errors.New("acq: acquisition stopped")
)
