// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmap

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestHandle(t *testing.T) {
	t.Run("nil-handle", func(t *testing.T) {
		var h *Handle

		_, err := h.ReadAt(nil, 0)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid read-at error: %+v", err)
		}

		_, err = h.WriteAt(nil, 0)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid write-at error: %+v", err)
		}

		err = h.Close()
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid close error: %+v", err)
		}
	})
	t.Run("closed", func(t *testing.T) {
		var h Handle

		_, err := h.ReadAt(nil, 0)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid read-at error: %+v", err)
		}

		_, err = h.WriteAt(nil, 0)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid write-at error: %+v", err)
		}

		err = h.Sync()
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid sync error: %+v", err)
		}

		err = h.Close()
		if err != nil {
			t.Fatalf("error closing nil-data handle: %+v", err)
		}
	})
}

func TestOpen(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "frame.shm")

	_, err := Open(fname, 0)
	if err == nil {
		t.Fatalf("expected an error for an empty mapping")
	}

	h, err := Open(fname, 8)
	if err != nil {
		t.Fatalf("could not map file: %+v", err)
	}
	defer h.Close()

	if got, want := h.Len(), 8; got != want {
		t.Fatalf("invalid len: got=%d, want=%d", got, want)
	}

	n, err := h.WriteAt([]byte{1, 2, 3}, 4)
	if err != nil || n != 3 {
		t.Fatalf("could not write: n=%d, err=%+v", n, err)
	}

	_, err = h.WriteAt([]byte{1, 2, 3}, 6)
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("invalid short-write error: %+v", err)
	}

	_, err = h.WriteAt(nil, -1)
	if got, want := err.Error(), "mmap: invalid WriteAt offset -1"; got != want {
		t.Fatalf("invalid error: %+v", err)
	}

	_, err = h.ReadAt(nil, 9)
	if got, want := err.Error(), "mmap: invalid ReadAt offset 9"; got != want {
		t.Fatalf("invalid error: %+v", err)
	}

	err = h.Sync()
	if err != nil {
		t.Fatalf("could not sync: %+v", err)
	}

	raw, err := os.ReadFile(fname)
	if err != nil {
		t.Fatalf("could not read back file: %+v", err)
	}
	if got, want := raw[4:7], []byte{1, 2, 1}; string(got) != string(want) {
		t.Fatalf("invalid file content: got=%v, want=%v", got, want)
	}

	buf := make([]byte, 4)
	n, err = h.ReadAt(buf, 6)
	if !errors.Is(err, io.EOF) || n != 2 {
		t.Fatalf("invalid short read: n=%d, err=%v", n, err)
	}

	err = h.Close()
	if err != nil {
		t.Fatalf("could not close: %+v", err)
	}
	_, err = h.ReadAt(buf, 0)
	if !errors.Is(err, errClosed) {
		t.Fatalf("invalid read-after-close error: %+v", err)
	}
}
