// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/wycx/dtacq-adc/acq"
	"github.com/wycx/dtacq-adc/internal/mmap"
)

// Layout of the shared memory segment. All fields are little-endian.
//
//	0  magic   u32
//	4  version u32
//	8  gen     u64, odd while a frame is being written
//	16 id      u64
//	24 time    i64, UTC nanoseconds
//	32 nx      u32
//	36 ny      u32
//	40 fault   u32
//	44 cap     u32, max number of samples
//	48 data    nx*ny f64
const (
	shmMagic   = 0x46515444 // "DTQF"
	shmVersion = 1
	shmHdrSize = 48
)

var (
	// ErrNoFrame is returned when reading a segment that holds no frame yet.
	ErrNoFrame = errors.New("sink: no frame")

	shmOrder = binary.LittleEndian
)

// SHM publishes the most recent frame into a memory-mapped file.
//
// The segment grows when a frame exceeds its capacity; readers mapping
// the file must then remap it with the size advertised in the header.
type SHM struct {
	mu   sync.Mutex
	path string
	h    *mmap.Handle
	max int
	gen uint64
	buf []byte
}

// OpenSHM creates the segment at path, large enough for frames of up to
// max samples.
func OpenSHM(path string, max int) (*SHM, error) {
	if max <= 0 {
		return nil, fmt.Errorf("sink: invalid shared memory capacity %d", max)
	}
	h, err := mmap.Open(path, shmHdrSize+8*max)
	if err != nil {
		return nil, fmt.Errorf("sink: could not create shared memory %q: %w", path, err)
	}

	shm := &SHM{
		path: path,
		h:    h,
		max:  max,
		buf:  make([]byte, shmHdrSize+8*max),
	}
	hdr := shm.buf[:shmHdrSize]
	shmOrder.PutUint32(hdr[0:], shmMagic)
	shmOrder.PutUint32(hdr[4:], shmVersion)
	shmOrder.PutUint32(hdr[44:], uint32(max))
	_, err = h.WriteAt(hdr, 0)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("sink: could not write shared memory header: %w", err)
	}

	return shm, nil
}

// Close unmaps the segment.
func (shm *SHM) Close() error {
	shm.mu.Lock()
	defer shm.mu.Unlock()
	return shm.h.Close()
}

func (shm *SHM) Publish(f *acq.Frame) error {
	n := f.NX * f.NY
	if n > len(f.Data) {
		return fmt.Errorf("sink: frame %d holds %d samples, want %d", f.ID, len(f.Data), n)
	}

	shm.mu.Lock()
	defer shm.mu.Unlock()

	if n > shm.max {
		err := shm.grow(n)
		if err != nil {
			return fmt.Errorf("sink: could not publish frame %d: %w", f.ID, err)
		}
	}

	shm.gen++
	err := shm.writeGen()
	if err != nil {
		return err
	}

	buf := shm.buf[16 : shmHdrSize+8*n]
	shmOrder.PutUint64(buf[0:], f.ID)
	shmOrder.PutUint64(buf[8:], uint64(f.Time.UnixNano()))
	shmOrder.PutUint32(buf[16:], uint32(f.NX))
	shmOrder.PutUint32(buf[20:], uint32(f.NY))
	fault := uint32(0)
	if f.Fault {
		fault = 1
	}
	shmOrder.PutUint32(buf[24:], fault)
	shmOrder.PutUint32(buf[28:], uint32(shm.max))
	for i, v := range f.Data[:n] {
		shmOrder.PutUint64(buf[32+8*i:], math.Float64bits(v))
	}
	_, err = shm.h.WriteAt(buf, 16)
	if err != nil {
		return fmt.Errorf("sink: could not write frame %d to shared memory: %w", f.ID, err)
	}

	shm.gen++
	return shm.writeGen()
}

// grow remaps the segment for frames of up to max samples.
// grow must be called with shm.mu held.
func (shm *SHM) grow(max int) error {
	h, err := mmap.Open(shm.path, shmHdrSize+8*max)
	if err != nil {
		return fmt.Errorf("sink: could not resize shared memory %q: %w", shm.path, err)
	}
	_ = shm.h.Close()
	shm.h = h
	shm.max = max
	buf := make([]byte, shmHdrSize+8*max)
	copy(buf, shm.buf[:shmHdrSize])
	shmOrder.PutUint32(buf[44:], uint32(max))
	shm.buf = buf
	_, err = h.WriteAt(buf[:shmHdrSize], 0)
	if err != nil {
		return fmt.Errorf("sink: could not write shared memory header: %w", err)
	}
	return nil
}

func (shm *SHM) writeGen() error {
	var buf [8]byte
	shmOrder.PutUint64(buf[:], shm.gen)
	_, err := shm.h.WriteAt(buf[:], 8)
	if err != nil {
		return fmt.Errorf("sink: could not write shared memory generation: %w", err)
	}
	return nil
}

// ReadSHM reads the frame held in a shared memory segment.
func ReadSHM(r io.ReaderAt) (*acq.Frame, error) {
	var hdr [shmHdrSize]byte
	for try := 0; try < 100; try++ {
		_, err := r.ReadAt(hdr[:], 0)
		if err != nil {
			return nil, fmt.Errorf("sink: could not read shared memory header: %w", err)
		}
		if v := shmOrder.Uint32(hdr[0:]); v != shmMagic {
			return nil, fmt.Errorf("sink: invalid shared memory magic 0x%x", v)
		}
		if v := shmOrder.Uint32(hdr[4:]); v != shmVersion {
			return nil, fmt.Errorf("sink: invalid shared memory version %d", v)
		}
		gen := shmOrder.Uint64(hdr[8:])
		switch {
		case gen == 0:
			return nil, ErrNoFrame
		case gen%2 == 1:
			time.Sleep(time.Millisecond)
			continue
		}

		f := &acq.Frame{
			ID:    shmOrder.Uint64(hdr[16:]),
			Time:  time.Unix(0, int64(shmOrder.Uint64(hdr[24:]))).UTC(),
			NX:    int(shmOrder.Uint32(hdr[32:])),
			NY:    int(shmOrder.Uint32(hdr[36:])),
			Fault: shmOrder.Uint32(hdr[40:]) != 0,
		}
		raw := make([]byte, 8*f.NX*f.NY)
		_, err = r.ReadAt(raw, shmHdrSize)
		if err != nil {
			return nil, fmt.Errorf("sink: could not read shared memory data: %w", err)
		}

		var chk [8]byte
		_, err = r.ReadAt(chk[:], 8)
		if err != nil {
			return nil, fmt.Errorf("sink: could not read shared memory generation: %w", err)
		}
		if shmOrder.Uint64(chk[:]) != gen {
			continue
		}

		f.Data = make([]float64, f.NX*f.NY)
		for i := range f.Data {
			f.Data[i] = math.Float64frombits(shmOrder.Uint64(raw[8*i:]))
		}
		return f, nil
	}
	return nil, fmt.Errorf("sink: could not get a consistent shared memory snapshot")
}

var (
	_ acq.Sink = (*SHM)(nil)
)
