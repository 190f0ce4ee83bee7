// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// dtacq-dump decodes and displays dtacq-daq frame files.
//
// Usage: dtacq-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> dtacq-dump ./frames.dat
//	=== frame 1 ===
//	time:   2026-01-02T03:04:05Z
//	extent: 4x1024
//	fault:  false
//	  chan=  0 mean=  +0.0012 std=  0.0421 min=  -0.1201 max=  +0.1198
//	  chan=  1 mean=  -0.0003 std=  0.0398 min=  -0.1150 max=  +0.1203
//	[...]
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/wycx/dtacq-adc/acq"
	"github.com/wycx/dtacq-adc/sink"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

func main() {
	log.SetPrefix("dtacq-dump: ")
	log.SetFlags(0)

	xmain(os.Stdout, os.Args[1:])
}

func xmain(w io.Writer, args []string) {
	var (
		fset    = flag.NewFlagSet("dtacq-dump", flag.ExitOnError)
		verbose = fset.Bool("v", false, "display samples")
		shm     = fset.Bool("shm", false, "inputs are shared memory exports")
	)

	fset.Usage = func() {
		fmt.Printf(`dtacq-dump decodes and displays dtacq-daq frame files.

Usage: dtacq-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

Example:

 $> dtacq-dump ./frames.dat
 === frame 1 ===
 time:   2026-01-02T03:04:05Z
 extent: 4x1024
 fault:  false
   chan=  0 mean=  +0.0012 std=  0.0421 min=  -0.1201 max=  +0.1198
 [...]

`)
		fset.PrintDefaults()
	}

	_ = fset.Parse(args)

	if fset.NArg() == 0 {
		fset.Usage()
		log.Fatalf("missing path to input frame file")
	}

	for _, fname := range fset.Args() {
		var err error
		switch {
		case *shm:
			err = processSHM(w, fname, *verbose)
		default:
			err = process(w, fname, *verbose)
		}
		if err != nil {
			log.Fatalf("could not dump file %q: %+v", fname, err)
		}
	}
}

func process(w io.Writer, fname string, verbose bool) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer f.Close()

	dec := sink.NewDecoder(bufio.NewReader(f))
	for {
		var frame acq.Frame
		err := dec.Decode(&frame)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("could not decode frame: %w", err)
		}
		dump(wbuf, &frame, verbose)
	}
}

func processSHM(w io.Writer, fname string, verbose bool) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer f.Close()

	frame, err := sink.ReadSHM(f)
	if err != nil {
		return fmt.Errorf("could not read frame: %w", err)
	}
	dump(wbuf, frame, verbose)
	return nil
}

func dump(w io.Writer, f *acq.Frame, verbose bool) {
	fmt.Fprintf(w, "=== frame %d ===\n", f.ID)
	fmt.Fprintf(w, "time:   %s\n", f.Time.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(w, "extent: %dx%d\n", f.NX, f.NY)
	fmt.Fprintf(w, "fault:  %v\n", f.Fault)

	if f.NY == 0 {
		return
	}

	col := make([]float64, f.NY)
	for x := 0; x < f.NX; x++ {
		for y := range col {
			col[y] = f.At(x, y)
		}
		mean, std := stat.MeanStdDev(col, nil)
		if len(col) < 2 {
			std = 0
		}
		fmt.Fprintf(w, "  chan=%3d mean=%+9.4f std=%8.4f min=%+9.4f max=%+9.4f\n",
			x, mean, std, floats.Min(col), floats.Max(col),
		)
	}

	if !verbose {
		return
	}
	for y := 0; y < f.NY; y++ {
		fmt.Fprintf(w, "  [%4d]", y)
		for x := 0; x < f.NX; x++ {
			fmt.Fprintf(w, " %+.6g", f.At(x, y))
		}
		fmt.Fprintf(w, "\n")
	}
}
