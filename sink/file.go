// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"math"
	"sync"
	"time"

	"github.com/wycx/dtacq-adc/acq"
)

const (
	frHeader  = 0xd7 // frame header marker
	frTrailer = 0xa0 // frame trailer marker

	maxSamples = 1 << 24
)

// Encoder writes frames to an output stream.
//
// Each record is a header marker, the frame ID, time, extents and fault
// flag, the samples, a trailer marker and the CRC-32 of the record.
// All fields are big-endian.
type Encoder struct {
	w   io.Writer
	buf []byte
	err error
	crc hash.Hash32
}

// NewEncoder returns a new Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:   w,
		buf: make([]byte, 8),
		crc: crc32.NewIEEE(),
	}
}

// Encode writes f to the stream.
func (enc *Encoder) Encode(f *acq.Frame) error {
	if f == nil {
		return nil
	}
	if len(f.Data) != f.NX*f.NY {
		return fmt.Errorf("sink: frame %d has %d samples, want %dx%d", f.ID, len(f.Data), f.NX, f.NY)
	}

	enc.crc.Reset()

	enc.writeU8(frHeader)
	if enc.err != nil {
		return fmt.Errorf("sink: could not write frame header marker: %w", enc.err)
	}

	enc.writeU64(f.ID)
	enc.writeU64(uint64(f.Time.UnixNano()))
	enc.writeU32(uint32(f.NX))
	enc.writeU32(uint32(f.NY))
	fault := uint8(0)
	if f.Fault {
		fault = 1
	}
	enc.writeU8(fault)
	for _, v := range f.Data {
		enc.writeU64(math.Float64bits(v))
	}
	enc.writeU8(frTrailer)

	crc := enc.crc.Sum32()
	enc.writeU32(crc)

	if enc.err != nil {
		return fmt.Errorf("sink: could not encode frame %d: %w", f.ID, enc.err)
	}
	return nil
}

func (enc *Encoder) write(p []byte) {
	if enc.err != nil {
		return
	}
	_, enc.err = enc.w.Write(p)
	_, _ = enc.crc.Write(p) // can not fail.
}

func (enc *Encoder) writeU8(v uint8) {
	enc.buf[0] = v
	enc.write(enc.buf[:1])
}

func (enc *Encoder) writeU32(v uint32) {
	binary.BigEndian.PutUint32(enc.buf[:4], v)
	enc.write(enc.buf[:4])
}

func (enc *Encoder) writeU64(v uint64) {
	binary.BigEndian.PutUint64(enc.buf[:8], v)
	enc.write(enc.buf[:8])
}

// Decoder reads and validates frames from an input stream.
type Decoder struct {
	r   io.Reader
	buf []byte
	err error
	crc hash.Hash32
}

// NewDecoder returns a new Decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:   r,
		buf: make([]byte, 8),
		crc: crc32.NewIEEE(),
	}
}

// Decode reads the next frame into f.
// Decode returns io.EOF when the stream ends on a record boundary.
func (dec *Decoder) Decode(f *acq.Frame) error {
	dec.crc.Reset()

	v := dec.readU8()
	if dec.err != nil {
		return dec.err
	}
	if v != frHeader {
		return fmt.Errorf("sink: invalid frame header marker (got=0x%x)", v)
	}

	id := dec.readU64()
	ns := dec.readU64()
	nx := dec.readU32()
	ny := dec.readU32()
	fault := dec.readU8()
	if dec.err != nil {
		return fmt.Errorf("sink: could not read frame header: %w", dec.unexpected())
	}
	n := uint64(nx) * uint64(ny)
	if n > maxSamples {
		return fmt.Errorf("sink: frame %d too large (%dx%d)", id, nx, ny)
	}

	f.ID = id
	f.Time = time.Unix(0, int64(ns)).UTC()
	f.NX = int(nx)
	f.NY = int(ny)
	f.Fault = fault != 0
	if uint64(cap(f.Data)) < n {
		f.Data = make([]float64, n)
	}
	f.Data = f.Data[:n]
	for i := range f.Data {
		f.Data[i] = math.Float64frombits(dec.readU64())
	}
	v = dec.readU8()
	if dec.err != nil {
		return fmt.Errorf("sink: could not read frame %d: %w", id, dec.unexpected())
	}
	if v != frTrailer {
		return fmt.Errorf("sink: invalid frame %d trailer marker (got=0x%x)", id, v)
	}

	want := dec.crc.Sum32()
	got := dec.readU32()
	if dec.err != nil {
		return fmt.Errorf("sink: could not read frame %d checksum: %w", id, dec.unexpected())
	}
	if got != want {
		return fmt.Errorf("sink: invalid frame %d checksum (got=0x%x, want=0x%x)", id, got, want)
	}
	return nil
}

func (dec *Decoder) unexpected() error {
	if errors.Is(dec.err, io.EOF) {
		dec.err = io.ErrUnexpectedEOF
	}
	return dec.err
}

func (dec *Decoder) read(p []byte) {
	if dec.err != nil {
		return
	}
	_, dec.err = io.ReadFull(dec.r, p)
	if dec.err == nil {
		_, _ = dec.crc.Write(p)
	}
}

func (dec *Decoder) readU8() uint8 {
	dec.read(dec.buf[:1])
	return dec.buf[0]
}

func (dec *Decoder) readU32() uint32 {
	dec.read(dec.buf[:4])
	return binary.BigEndian.Uint32(dec.buf[:4])
}

func (dec *Decoder) readU64() uint64 {
	dec.read(dec.buf[:8])
	return binary.BigEndian.Uint64(dec.buf[:8])
}

// Writer is a sink encoding frames to a stream.
type Writer struct {
	mu  sync.Mutex
	enc *Encoder
	n   uint64
}

// NewWriter returns a sink encoding frames to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: NewEncoder(w)}
}

func (w *Writer) Publish(f *acq.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.enc.Encode(f)
	if err != nil {
		return err
	}
	w.n++
	return nil
}

// Frames returns the number of frames written so far.
func (w *Writer) Frames() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

var (
	_ acq.Sink = (*Writer)(nil)
)
