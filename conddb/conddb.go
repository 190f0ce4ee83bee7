// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb holds types to retrieve the acquisition configuration of
// D-TACQ units from the condition database, and to record acquisition
// runs into it.
package conddb // import "github.com/wycx/dtacq-adc/conddb"

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/wycx/dtacq-adc/acq"
)

// ErrNoConfig is returned when no configuration is stored for a device.
var ErrNoConfig = errors.New("conddb: no configuration")

var (
	host = envOr("DTACQ_DB_HOST", "localhost")
	usr  = envOr("DTACQ_DB_USERNAME", "username")
	pwd  = envOr("DTACQ_DB_PASSWORD", "s3cr3t")

	drvName = "mysql"
)

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// DB exposes convenience methods to retrieve configuration data from the
// condition database.
type DB struct {
	db   *sql.DB
	name string
}

// Open opens a connection to the condition database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Config is an acquisition configuration of a device.
type Config struct {
	Device     string
	Time       time.Time
	MasterSite int
	Gain       int
	DataWidth  int // in bits
	Channels   int
	Samples    int
	Scratchpad bool
	AggrSites  string
	Mode       string
	NumImages  int
}

// Commands returns the engine commands applying the configuration.
// The master site comes first so the gain is resolved against the right
// module.
func (cfg Config) Commands() ([]acq.Command, error) {
	mode, err := acq.ParseMode(cfg.Mode)
	if err != nil {
		return nil, fmt.Errorf("conddb: invalid image mode %q: %w", cfg.Mode, err)
	}
	return []acq.Command{
		acq.SetMasterSite{Site: cfg.MasterSite},
		acq.SetDataWidth{Bits: cfg.DataWidth},
		acq.SetGain{Index: cfg.Gain},
		acq.SetChannels{N: cfg.Channels},
		acq.SetSamples{N: cfg.Samples},
		acq.SetScratchpad{Enable: cfg.Scratchpad},
		acq.SetAggregationSites{Sites: cfg.AggrSites},
		acq.SetImageMode{Mode: mode},
		acq.SetNumImages{N: cfg.NumImages},
	}, nil
}

// LastConfig returns the most recent configuration stored for device.
func (db *DB) LastConfig(ctx context.Context, device string) (Config, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		cfg = Config{Device: device}
		n   = 0
	)
	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT datetime, master_site, gain, data_width, channels, samples,
       scratchpad, aggr_sites, image_mode, num_images
FROM acquisitions
WHERE device=?
ORDER BY datetime DESC LIMIT 1
`,
		device,
	)
	if err != nil {
		return cfg, fmt.Errorf("conddb: could not query acquisition cfg: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(
			&cfg.Time, &cfg.MasterSite, &cfg.Gain, &cfg.DataWidth,
			&cfg.Channels, &cfg.Samples,
			&cfg.Scratchpad, &cfg.AggrSites, &cfg.Mode, &cfg.NumImages,
		)
		if err != nil {
			return cfg, fmt.Errorf("conddb: could not get acquisition cfg value: %w", err)
		}
		n++
	}

	if err := rows.Err(); err != nil {
		return cfg, fmt.Errorf("conddb: could not scan db for acquisition cfg: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return cfg, fmt.Errorf("conddb: context error while retrieving acquisition cfg: %w", err)
	}

	if n == 0 {
		return cfg, fmt.Errorf("conddb: device %q: %w", device, ErrNoConfig)
	}

	return cfg, nil
}

// Record stores the summary of an acquisition run of device.
func (db *DB) Record(ctx context.Context, device string, st acq.Stats) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		`
INSERT INTO runs (device, datetime, model, status, frames, images, faults)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		device, time.Now().UTC(), st.Model, st.Status.String(),
		int64(st.Frames), st.Images, int64(st.Faults),
	)
	if err != nil {
		return fmt.Errorf("conddb: could not record run of %q: %w", device, err)
	}
	return nil
}
