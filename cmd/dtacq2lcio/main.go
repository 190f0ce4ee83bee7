// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dtacq2lcio converts a dtacq-daq frame file to an LCIO one.
package main // import "github.com/wycx/dtacq-adc/cmd/dtacq2lcio"

import (
	"bufio"
	"compress/flate"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/wycx/dtacq-adc/internal/xcnv"
	"github.com/wycx/dtacq-adc/sink"
	"go-hep.org/x/hep/lcio"
)

var (
	msg = log.New(os.Stdout, "dtacq2lcio: ", 0)
)

func main() {
	var (
		oname = flag.String("o", "out.lcio", "path to output LCIO file")
		compr = flag.Int("lvl", flate.DefaultCompression, "compression level for output LCIO file")
		run   = flag.Int("run", -1, "run number (default: inferred from input file name)")
	)

	flag.Usage = func() {
		fmt.Printf(`Usage: dtacq2lcio [OPTIONS] file.dat

ex:
 $> dtacq2lcio -o out.lcio -lvl=9 ./dtacq_063.dat

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		msg.Fatalf("missing input frame file")
	}

	if *oname == "" {
		flag.Usage()
		msg.Fatalf("invalid output LCIO file name")
	}

	err := process(*oname, *compr, flag.Arg(0), *run)
	if err != nil {
		msg.Fatalf("could not convert frame file: %+v", err)
	}
}

func process(oname string, lvl int, fname string, run int) error {
	if run < 0 {
		v, err := runNbrFrom(fname)
		if err != nil {
			return fmt.Errorf("could not infer run from %q: %w", fname, err)
		}
		run = int(v)
	}

	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open frame file: %w", err)
	}
	defer f.Close()

	w, err := lcio.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create output LCIO file: %w", err)
	}
	defer w.Close()

	w.SetCompressionLevel(lvl)

	dec := sink.NewDecoder(bufio.NewReader(f))
	err = xcnv.Frames2LCIO(w, dec, int32(run), msg)
	if err != nil {
		return fmt.Errorf("could not convert frames to LCIO: %w", err)
	}

	err = w.Close()
	if err != nil {
		return fmt.Errorf("could not close output LCIO file: %w", err)
	}

	return nil
}

func runNbrFrom(fname string) (int32, error) {
	var (
		name = filepath.Base(fname)
		run  int32
	)
	_, err := fmt.Sscanf(name, "dtacq_%d.dat", &run)
	return run, err
}
