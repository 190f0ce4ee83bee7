// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dtacq-sql inspects the acquisition configuration of a unit
// stored in the condition database.
//
// With -o, the configuration is also written as a dtacq-daq YAML
// configuration file.
package main // import "github.com/wycx/dtacq-adc/cmd/dtacq-sql"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/wycx/dtacq-adc/conddb"
	"github.com/wycx/dtacq-adc/config"
)

func main() {
	log.SetPrefix("dtacq-sql: ")
	log.SetFlags(0)

	var (
		dbname = flag.String("db", "dtacq", "name of the condition database")
		device = flag.String("device", "acq4xx", "device to inspect")
		oname  = flag.String("o", "", "path to output YAML configuration file")
		force  = flag.Bool("f", false, "overwrite output configuration file")
	)

	flag.Parse()

	db, err := conddb.Open(*dbname)
	if err != nil {
		log.Fatalf("could not open condition db: %+v", err)
	}
	defer db.Close()

	err = doQuery(os.Stdout, db, *device, *oname, *force)
	if err != nil {
		log.Fatalf("could not do query: %+v", err)
	}
}

func doQuery(w io.Writer, db *conddb.DB, device, oname string, force bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, err := db.LastConfig(ctx, device)
	if err != nil {
		return fmt.Errorf("could not get last configuration of %q: %w", device, err)
	}

	err = display(w, cfg)
	if err != nil {
		return err
	}

	if oname == "" {
		return nil
	}

	err = toConfig(cfg).Save(oname, force)
	if err != nil {
		return fmt.Errorf("could not save configuration: %w", err)
	}
	return nil
}

func display(w io.Writer, cfg conddb.Config) error {
	fmt.Fprintf(w, "device:      %s\n", cfg.Device)
	fmt.Fprintf(w, "date:        %s\n", cfg.Time.Format(time.RFC3339))
	fmt.Fprintf(w, "master site: %d\n", cfg.MasterSite)
	fmt.Fprintf(w, "aggr sites:  %q\n", cfg.AggrSites)
	fmt.Fprintf(w, "gain:        %d\n", cfg.Gain)
	fmt.Fprintf(w, "data width:  %d\n", cfg.DataWidth)
	fmt.Fprintf(w, "geometry:    %dx%d (spad=%v)\n", cfg.Channels, cfg.Samples, cfg.Scratchpad)
	fmt.Fprintf(w, "mode:        %s (%d images)\n", cfg.Mode, cfg.NumImages)

	cmds, err := cfg.Commands()
	if err != nil {
		return err
	}
	for i, cmd := range cmds {
		fmt.Fprintf(w, "cmd[%d]: %#v\n", i, cmd)
	}
	return nil
}

func toConfig(c conddb.Config) *config.Config {
	cfg := config.Default()
	cfg.Device = c.Device
	cfg.Acquisition.MasterSite = c.MasterSite
	cfg.Acquisition.AggrSites = c.AggrSites
	cfg.Acquisition.Gain = c.Gain
	cfg.Acquisition.DataWidth = c.DataWidth
	cfg.Acquisition.Channels = c.Channels
	cfg.Acquisition.Samples = c.Samples
	cfg.Acquisition.Scratchpad = c.Scratchpad
	cfg.Acquisition.Mode = c.Mode
	cfg.Acquisition.NumImages = c.NumImages
	return cfg
}
