// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb

import (
	"context"
	"database/sql/driver"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/wycx/dtacq-adc/acq"
	"github.com/wycx/dtacq-adc/internal/fakedb"
)

func init() {
	drvName = "fakedb"
}

func TestOpen(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()
}

func TestLastConfig(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	date := time.Date(2026, 3, 12, 10, 20, 30, 0, time.UTC)
	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{
			"datetime", "master_site", "gain", "data_width", "channels", "samples",
			"scratchpad", "aggr_sites", "image_mode", "num_images",
		},
		Values: [][]driver.Value{
			{date, int64(2), int64(1), int64(16), int64(8), int64(512), true, "1,2", "multiple", int64(10)},
		},
	}, func(ctx context.Context) error {
		cfg, err := db.LastConfig(ctx, "acq2106_042")
		if err != nil {
			t.Fatalf("could not retrieve last cfg: %+v", err)
		}

		want := Config{
			Device:     "acq2106_042",
			Time:       date,
			MasterSite: 2,
			Gain:       1,
			DataWidth:  16,
			Channels:   8,
			Samples:    512,
			Scratchpad: true,
			AggrSites:  "1,2",
			Mode:       "multiple",
			NumImages:  10,
		}
		if !reflect.DeepEqual(cfg, want) {
			t.Fatalf("invalid last cfg:\ngot= %+v\nwant=%+v", cfg, want)
		}

		cmds, err := cfg.Commands()
		if err != nil {
			t.Fatalf("could not build commands: %+v", err)
		}
		if got, want := cmds[0], acq.Command(acq.SetMasterSite{Site: 2}); got != want {
			t.Fatalf("invalid first command: got=%#v, want=%#v", got, want)
		}
		if got, want := cmds[len(cmds)-2], acq.Command(acq.SetImageMode{Mode: acq.Multiple}); got != want {
			t.Fatalf("invalid mode command: got=%#v, want=%#v", got, want)
		}
		return nil
	})
}

func TestLastConfigMissing(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"datetime"},
	}, func(ctx context.Context) error {
		_, err := db.LastConfig(ctx, "acq2106_001")
		if !errors.Is(err, ErrNoConfig) {
			t.Fatalf("invalid error: got=%+v, want=%v", err, ErrNoConfig)
		}
		return nil
	})
}

func TestConfigCommands(t *testing.T) {
	_, err := Config{Mode: "burst"}.Commands()
	if !errors.Is(err, acq.ErrInvalid) {
		t.Fatalf("invalid error: got=%+v, want=%v", err, acq.ErrInvalid)
	}
}

func TestRecord(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	_ = fakedb.Run(context.Background(), fakedb.Rows{}, func(ctx context.Context) error {
		err := db.Record(ctx, "acq2106_042", acq.Stats{
			Status: acq.Idle,
			Model:  "ACQ420FMC",
			Frames: 42,
			Images: 10,
			Faults: 1,
		})
		if err != nil {
			t.Fatalf("could not record run: %+v", err)
		}

		execs := fakedb.Execs()
		if len(execs) != 1 {
			t.Fatalf("invalid number of statements: got=%d, want=1", len(execs))
		}
		if !strings.Contains(execs[0].Query, "INSERT INTO runs") {
			t.Fatalf("invalid statement: %q", execs[0].Query)
		}
		args := execs[0].Args
		if len(args) != 7 {
			t.Fatalf("invalid number of args: got=%d, want=7", len(args))
		}
		for i, want := range map[int]driver.Value{
			0: "acq2106_042",
			2: "ACQ420FMC",
			3: "Idle",
			4: int64(42),
			5: int64(10),
			6: int64(1),
		} {
			if got := args[i]; got != want {
				t.Fatalf("invalid arg[%d]: got=%#v, want=%#v", i, got, want)
			}
		}
		return nil
	})
}
