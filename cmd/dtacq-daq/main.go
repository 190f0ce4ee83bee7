// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dtacq-daq runs the acquisition daemon of a D-TACQ ACQ4xx unit.
//
// dtacq-daq streams frames from the unit, checks and calibrates them, and
// hands them to the configured sinks: shared memory export, frame file and
// histogram monitor. The daemon is controlled through its HTTP API.
//
// Usage:
//
//	$> dtacq-daq -cfg ./dtacq.yaml
//	$> dtacq-daq -host acq2106_042 -addr :8080 -start
package main // import "github.com/wycx/dtacq-adc/cmd/dtacq-daq"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/sbinet/pmon"
	dtacq "github.com/wycx/dtacq-adc"
	"github.com/wycx/dtacq-adc/acq"
	"github.com/wycx/dtacq-adc/api"
	"github.com/wycx/dtacq-adc/conddb"
	"github.com/wycx/dtacq-adc/config"
	"github.com/wycx/dtacq-adc/ctl"
	"github.com/wycx/dtacq-adc/settings"
	"github.com/wycx/dtacq-adc/sink"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.SetPrefix("dtacq-daq: ")
	log.SetFlags(0)

	var (
		fname  = flag.String("cfg", "", "path to YAML configuration file")
		host   = flag.String("host", "", "host name of the unit")
		addr   = flag.String("addr", "", "[ip]:port of the HTTP API")
		dbname = flag.String("conddb", "", "name of the condition database")
		odata  = flag.String("o", "", "path to output frame file")
		doMon  = flag.String("pmon", "", "path to process monitoring file")
		freq   = flag.Duration("pmon-freq", 1*time.Second, "process monitoring interval")
		start  = flag.Bool("start", false, "start acquisition right away")
	)

	flag.Parse()

	cfg := config.Default()
	if *fname != "" {
		var err error
		cfg, err = config.Load(*fname)
		if err != nil {
			log.Fatalf("could not load configuration: %+v", err)
		}
	}
	for _, v := range []struct {
		dst *string
		src string
	}{
		{&cfg.Host, *host},
		{&cfg.HTTPAddr, *addr},
		{&cfg.CondDB, *dbname},
		{&cfg.Output, *odata},
		{&cfg.PMon, *doMon},
	} {
		if v.src != "" {
			*v.dst = v.src
		}
	}

	if v, _ := dtacq.Version(); v != "" {
		log.Printf("version: %s", v)
	}

	if cfg.PMon != "" {
		stop, err := monitor(cfg.PMon, *freq)
		if err != nil {
			log.Fatalf("could not start process monitoring: %+v", err)
		}
		defer stop()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	err := run(ctx, cfg, *start, nil)
	if err != nil {
		log.Fatalf("could not run dtacq-daq: %+v", err)
	}
}

func monitor(fname string, freq time.Duration) (func(), error) {
	p, err := pmon.Monitor(os.Getpid())
	if err != nil {
		return nil, fmt.Errorf("could not monitor pid=%d: %w", os.Getpid(), err)
	}
	f, err := os.Create(fname)
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file: %w", err)
	}
	p.W = f
	p.Freq = freq

	go func() {
		err := p.Run()
		if err != nil {
			log.Printf("could not run process monitoring: %+v", err)
		}
	}()

	return func() {
		err := p.Kill()
		if err != nil {
			log.Printf("could not stop process monitoring: %+v", err)
		}
		_ = f.Close()
	}, nil
}

// persistKeys returns the settings keys saved across restarts, in the
// order they are restored: the geometry comes before the regions of
// interest it bounds.
func persistKeys() []string {
	return []string{
		acq.KeyMasterSite,
		acq.KeyDataWidth,
		acq.KeyGain,
		acq.KeyChannels,
		acq.KeySamples,
		acq.KeyROIX,
		acq.KeyROIY,
		acq.KeyScratchpad,
		acq.KeyAggrSites,
		acq.KeyImageMode,
		acq.KeyNumImages,
	}
}

func run(ctx context.Context, cfg *config.Config, start bool, ready chan<- net.Addr) error {
	err := cfg.Validate()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	dev, err := ctl.Dial(
		cfg.Control(),
		ctl.WithTimeout(time.Duration(cfg.Acquisition.ReplyTimeout)),
		ctl.WithMasterSite(cfg.Acquisition.MasterSite),
	)
	if err != nil {
		return fmt.Errorf("could not connect to unit: %w", err)
	}
	defer dev.Close()

	store, err := settings.Open(cfg.Settings, settings.WithPersist(persistKeys()...))
	if err != nil {
		return fmt.Errorf("could not open settings: %w", err)
	}
	defer store.Close()

	var (
		sinks []acq.Sink
		mon   *sink.Monitor
	)
	if cfg.Monitor.Bins > 0 {
		mon = sink.NewMonitor(cfg.Monitor.Bins, cfg.Monitor.Min, cfg.Monitor.Max)
		sinks = append(sinks, mon)
	}
	if cfg.SHM != "" {
		geo := cfg.Geometry()
		shm, err := sink.OpenSHM(cfg.SHM, geo.Channels*geo.Samples)
		if err != nil {
			return fmt.Errorf("could not create shared memory export: %w", err)
		}
		defer shm.Close()
		sinks = append(sinks, shm)
	}
	if cfg.Output != "" {
		f, err := os.Create(cfg.Output)
		if err != nil {
			return fmt.Errorf("could not create output file: %w", err)
		}
		defer f.Close()
		sinks = append(sinks, sink.NewWriter(f))
	}

	opts, err := cfg.Options()
	if err != nil {
		return fmt.Errorf("could not configure engine: %w", err)
	}
	opts = append(opts,
		acq.WithSink(sink.Multi(sinks...)),
		acq.WithParams(store),
	)

	eng, err := acq.New(dev, cfg.Data(), opts...)
	if err != nil {
		return fmt.Errorf("could not create acquisition engine: %w", err)
	}

	restore(eng, store)

	var db *conddb.DB
	if cfg.CondDB != "" {
		db, err = conddb.Open(cfg.CondDB)
		if err != nil {
			return fmt.Errorf("could not open condition database: %w", err)
		}
		defer db.Close()

		err = configure(ctx, eng, db, cfg.Device)
		if err != nil {
			return fmt.Errorf("could not configure unit from condition database: %w", err)
		}
	}

	alert := newAlerter(cfg.Device, time.Duration(cfg.Alert.After), cfg.Alert.To)
	rec := newRecorder(db, cfg.Device, eng)
	store.Watch(func(key, value string) {
		if key != acq.KeyStatus {
			return
		}
		alert.update(value, time.Now())
		rec.update(ctx, value)
	})

	if start {
		err = eng.Start()
		if err != nil {
			return fmt.Errorf("could not start acquisition: %w", err)
		}
	}

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("could not listen on %q: %w", cfg.HTTPAddr, err)
	}
	srv := &http.Server{
		Handler: api.NewServer(eng, dev,
			api.WithMonitor(mon),
			api.WithStore(store),
		).Handler(),
	}
	log.Printf("serving API on %q...", lis.Addr())
	if ready != nil {
		ready <- lis.Addr()
	}

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		err := eng.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	grp.Go(func() error {
		err := srv.Serve(lis)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	grp.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if len(alert.tgts) > 0 {
		grp.Go(func() error {
			return alert.run(ctx, time.Second)
		})
	}

	err = grp.Wait()
	if err != nil {
		return err
	}

	if mon != nil {
		_, _ = mon.WriteTo(log.Writer())
	}
	return nil
}

// restore applies the settings saved by a previous run.
func restore(eng *acq.Engine, store *settings.Store) {
	for _, key := range persistKeys() {
		v, ok := store.Get(key)
		if !ok {
			continue
		}
		cmd, err := acq.ParseCommand(key, v)
		if err == nil {
			err = eng.Do(cmd)
		}
		if err != nil {
			log.Printf("could not restore %s=%q: %+v", key, v, err)
		}
	}
}

func configure(ctx context.Context, eng *acq.Engine, db *conddb.DB, device string) error {
	cfg, err := db.LastConfig(ctx, device)
	if err != nil {
		return err
	}
	cmds, err := cfg.Commands()
	if err != nil {
		return err
	}
	log.Printf("applying configuration of %q from %v", device, cfg.Time)
	for _, cmd := range cmds {
		err := eng.Do(cmd)
		if err != nil {
			return fmt.Errorf("could not apply %#v: %w", cmd, err)
		}
	}
	return nil
}

// recorder stores a summary of each acquisition run into the condition
// database.
type recorder struct {
	db     *conddb.DB
	device string
	eng    *acq.Engine
	w      io.Writer

	running bool
}

func newRecorder(db *conddb.DB, device string, eng *acq.Engine) *recorder {
	return &recorder{db: db, device: device, eng: eng, w: log.Writer()}
}

func (rec *recorder) update(ctx context.Context, status string) {
	switch status {
	case acq.Acquiring.String(), acq.Readout.String():
		rec.running = true
	case acq.Idle.String(), acq.Aborted.String():
		if !rec.running {
			return
		}
		rec.running = false
		st := rec.eng.Stats()
		fmt.Fprintf(rec.w, "run done: status=%v images=%d frames=%d faults=%d\n",
			st.Status, st.Images, st.Frames, st.Faults,
		)
		if rec.db == nil {
			return
		}
		err := rec.db.Record(ctx, rec.device, st)
		if err != nil {
			log.Printf("could not record run: %+v", err)
		}
	}
}
