// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config holds the configuration of the acquisition daemon.
package config // import "github.com/wycx/dtacq-adc/config"

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/wycx/dtacq-adc/acq"
	"github.com/wycx/dtacq-adc/ctl"
	"sigs.k8s.io/yaml"
)

// DefaultDataPort is the streaming port of a unit.
const DefaultDataPort = 4210

// ErrExists is returned by Save when the file exists and overwrite is false.
var ErrExists = errors.New("config: file already exists")

// Duration is a time.Duration stored as a string such as "1.5s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(p []byte) error {
	var s string
	err := json.Unmarshal(p, &s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %s: %w", p, err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Acquisition is the initial configuration of the engine.
type Acquisition struct {
	MasterSite int    `json:"master_site"`
	AggrSites  string `json:"aggr_sites,omitempty"`
	Gain       int    `json:"gain"`
	DataWidth  int    `json:"data_width"` // in bits
	Channels   int    `json:"channels"`
	Samples    int    `json:"samples"`
	Scratchpad bool   `json:"scratchpad"`
	Mode       string `json:"image_mode"`
	NumImages  int    `json:"num_images"`

	ReadTimeout  Duration `json:"read_timeout"`
	ReplyTimeout Duration `json:"reply_timeout"`
	RetryDelay   Duration `json:"retry_delay"`
}

// Monitor configures the histogram monitor.
type Monitor struct {
	Bins int     `json:"bins"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Alert configures the alert mails sent when the unit is unreachable.
type Alert struct {
	To    []string `json:"to,omitempty"`
	After Duration `json:"after"`
}

// Config is the configuration of the acquisition daemon.
type Config struct {
	Device   string `json:"device"`
	Host     string `json:"host"`
	CtlAddr  string `json:"ctl_addr,omitempty"`
	DataAddr string `json:"data_addr,omitempty"`
	HTTPAddr string `json:"http_addr"`
	Settings string `json:"settings,omitempty"`
	CondDB   string `json:"conddb,omitempty"`
	SHM      string `json:"shm,omitempty"`
	Output   string `json:"output,omitempty"`
	PMon     string `json:"pmon,omitempty"`

	Acquisition Acquisition `json:"acquisition"`
	Monitor     Monitor     `json:"monitor"`
	Alert       Alert       `json:"alert"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Device:   "acq4xx",
		Host:     "localhost",
		HTTPAddr: ":8080",
		Acquisition: Acquisition{
			MasterSite:   1,
			DataWidth:    32,
			Channels:     4,
			Samples:      1024,
			Mode:         "continuous",
			NumImages:    100,
			ReadTimeout:  Duration(5 * time.Second),
			ReplyTimeout: Duration(2 * time.Second),
			RetryDelay:   Duration(1 * time.Second),
		},
		Monitor: Monitor{
			Bins: 200,
			Min:  -10,
			Max:  +10,
		},
		Alert: Alert{
			After: Duration(5 * time.Minute),
		},
	}
}

// Load reads the configuration file at fname on top of the defaults.
func Load(fname string) (*Config, error) {
	raw, err := os.ReadFile(fname)
	if err != nil {
		return nil, fmt.Errorf("config: could not read %q: %w", fname, err)
	}

	cfg := Default()
	err = yaml.Unmarshal(raw, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: could not decode %q: %w", fname, err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("config: invalid configuration %q: %w", fname, err)
	}
	return cfg, nil
}

// Save writes the configuration to fname.
func (cfg *Config) Save(fname string, overwrite bool) error {
	if _, err := os.Stat(fname); err == nil && !overwrite {
		return fmt.Errorf("config: could not save to %q: %w", fname, ErrExists)
	}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: could not encode configuration: %w", err)
	}

	err = os.MkdirAll(filepath.Dir(fname), 0755)
	if err != nil {
		return fmt.Errorf("config: could not create directory for %q: %w", fname, err)
	}

	err = os.WriteFile(fname, raw, 0644)
	if err != nil {
		return fmt.Errorf("config: could not write %q: %w", fname, err)
	}
	return nil
}

// Control returns the address of the control port of the unit.
func (cfg *Config) Control() string {
	if cfg.CtlAddr != "" {
		return cfg.CtlAddr
	}
	return net.JoinHostPort(cfg.Host, strconv.Itoa(ctl.DefaultPort))
}

// Data returns the address of the data port of the unit.
func (cfg *Config) Data() string {
	if cfg.DataAddr != "" {
		return cfg.DataAddr
	}
	return net.JoinHostPort(cfg.Host, strconv.Itoa(DefaultDataPort))
}

// Geometry returns the initial frame geometry.
func (cfg *Config) Geometry() acq.Geometry {
	geo := acq.NewGeometry(cfg.Acquisition.Channels, cfg.Acquisition.Samples, cfg.Acquisition.DataWidth/8)
	geo.Scratchpad = cfg.Acquisition.Scratchpad
	return geo
}

// Validate checks the consistency of the configuration.
func (cfg *Config) Validate() error {
	if cfg.Host == "" && (cfg.CtlAddr == "" || cfg.DataAddr == "") {
		return fmt.Errorf("config: no unit address")
	}
	acqcfg := cfg.Acquisition
	if _, err := acq.ParseMode(acqcfg.Mode); err != nil {
		return err
	}
	switch acqcfg.DataWidth {
	case 16, 32:
	default:
		return fmt.Errorf("config: invalid data width %d: %w", acqcfg.DataWidth, acq.ErrInvalid)
	}
	if acqcfg.NumImages < 1 {
		return fmt.Errorf("config: invalid number of images %d: %w", acqcfg.NumImages, acq.ErrInvalid)
	}
	if err := cfg.Geometry().Validate(); err != nil {
		return err
	}
	if cfg.Monitor.Bins < 0 || (cfg.Monitor.Bins > 0 && cfg.Monitor.Min >= cfg.Monitor.Max) {
		return fmt.Errorf("config: invalid monitor binning %+v: %w", cfg.Monitor, acq.ErrInvalid)
	}
	return nil
}

// Options returns the engine options described by the configuration.
func (cfg *Config) Options() ([]acq.Option, error) {
	mode, err := acq.ParseMode(cfg.Acquisition.Mode)
	if err != nil {
		return nil, err
	}
	return []acq.Option{
		acq.WithGeometry(cfg.Geometry()),
		acq.WithMasterSite(cfg.Acquisition.MasterSite),
		acq.WithAggregationSites(cfg.Acquisition.AggrSites),
		acq.WithGain(cfg.Acquisition.Gain),
		acq.WithImageMode(mode, cfg.Acquisition.NumImages),
		acq.WithReadTimeout(time.Duration(cfg.Acquisition.ReadTimeout)),
		acq.WithRetryDelay(time.Duration(cfg.Acquisition.RetryDelay)),
	}, nil
}
