// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Controller is the control channel of a unit.
type Controller interface {
	MasterSite() int
	SetMasterSite(site int)
	GetSite(site int, param string) (string, error)
	SetSite(site int, param, value string) error
	Run(sites string) error
}

const (
	defaultReadTimeout = 5 * time.Second
	defaultRetryDelay  = 1 * time.Second
	defaultNumImages   = 100
	defaultMasterSite  = 1

	spadSite = 0 // site holding the scratchpad configuration
)

type config struct {
	msg     *log.Logger
	sink    Sink
	params  Params
	timeout time.Duration
	retry   time.Duration
	dial    DialFunc
	geo     Geometry
	site    int
	sites   string
	mode    Mode
	nimgs   int
	gain    int
}

func newConfig(opts ...Option) config {
	var dialer net.Dialer
	cfg := config{
		msg:     log.New(os.Stdout, "acq: ", 0),
		timeout: defaultReadTimeout,
		retry:   defaultRetryDelay,
		dial:    dialer.DialContext,
		geo:     NewGeometry(4, 1024, 4),
		site:    defaultMasterSite,
		mode:    Continuous,
		nimgs:   defaultNumImages,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Option configures an Engine.
type Option func(*config)

// WithLogger sets the logger of the engine.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) { cfg.msg = msg }
}

// WithSink sets the consumer of calibrated frames.
func WithSink(sink Sink) Option {
	return func(cfg *config) { cfg.sink = sink }
}

// WithParams sets the store receiving the engine readback values.
func WithParams(params Params) Option {
	return func(cfg *config) { cfg.params = params }
}

// WithReadTimeout sets the timeout of each read on the data link.
func WithReadTimeout(d time.Duration) Option {
	return func(cfg *config) { cfg.timeout = d }
}

// WithRetryDelay sets the delay between two failed frame reads.
func WithRetryDelay(d time.Duration) Option {
	return func(cfg *config) { cfg.retry = d }
}

// WithDialer sets the function used to connect to the data endpoint.
func WithDialer(dial DialFunc) Option {
	return func(cfg *config) { cfg.dial = dial }
}

// WithGeometry sets the initial frame geometry.
func WithGeometry(geo Geometry) Option {
	return func(cfg *config) { cfg.geo = geo }
}

// WithMasterSite sets the initial master site.
func WithMasterSite(site int) Option {
	return func(cfg *config) { cfg.site = site }
}

// WithAggregationSites sets the initial list of sites passed to the run command.
func WithAggregationSites(sites string) Option {
	return func(cfg *config) { cfg.sites = sites }
}

// WithImageMode sets the initial acquisition mode and number of images.
func WithImageMode(mode Mode, n int) Option {
	return func(cfg *config) {
		cfg.mode = mode
		cfg.nimgs = n
	}
}

// WithGain sets the initial gain selection.
func WithGain(sel int) Option {
	return func(cfg *config) { cfg.gain = sel }
}

type signal int

const (
	sigNone signal = iota
	sigStart
	sigStop
)

// Engine is the acquisition engine of a unit.
//
// Run drives the acquisition loop; all other methods may be called
// concurrently with it.
type Engine struct {
	msg    *log.Logger
	ctl    Controller
	link   dataLink // owned by the acquisition goroutine
	sink   Sink
	params Params
	retry  time.Duration

	cmdmu sync.Mutex // serializes commands

	mu        sync.Mutex
	geo       Geometry
	module    int
	gain      int
	factor    float64
	model     string
	manuf     string
	mode      Mode
	nimgs     int
	sites     string
	acquiring bool
	gen       uint64 // incremented by each start request
	run       uint64 // generation served by the acquisition loop
	connected bool
	status    Status
	statusMsg string
	counter   uint64
	images    int
	integrity Integrity
	raw       []byte
	last      *Frame
	nx, ny    int

	sigs chan signal
	wake chan struct{}
}

// New creates an acquisition engine for the unit reached through ctl,
// streaming data from dataAddr.
//
// New identifies the module on the master site and derives the initial
// conversion factor.
func New(ctl Controller, dataAddr string, opts ...Option) (*Engine, error) {
	cfg := newConfig(opts...)
	if err := cfg.geo.Validate(); err != nil {
		return nil, fmt.Errorf("acq: invalid geometry: %w", err)
	}
	if err := (SetAggregationSites{Sites: cfg.sites}).validate(); err != nil {
		return nil, err
	}
	if cfg.nimgs < 1 {
		cfg.nimgs = defaultNumImages
	}

	e := &Engine{
		msg:    cfg.msg,
		ctl:    ctl,
		sink:   cfg.sink,
		params: cfg.params,
		retry:  cfg.retry,
		link: dataLink{
			addr:    dataAddr,
			dial:    cfg.dial,
			timeout: cfg.timeout,
		},
		geo:       cfg.geo,
		gain:      cfg.gain,
		mode:      cfg.mode,
		nimgs:     cfg.nimgs,
		sites:     cfg.sites,
		status:    WaitingForStart,
		statusMsg: "Waiting for acquisition",
		sigs:      make(chan signal, 16),
		wake:      make(chan struct{}, 1),
	}

	mod, err := e.identify(cfg.site)
	if err != nil {
		return nil, fmt.Errorf("acq: could not identify module on site %d: %w", cfg.site, err)
	}
	factor, ok := ConversionFactor(mod.kind, e.gain, e.geo.Bits())
	if !ok {
		return nil, fmt.Errorf(
			"acq: no range for gain %d of module type %d: %w",
			e.gain, mod.kind, ErrLookup,
		)
	}
	ctl.SetMasterSite(cfg.site)
	e.model = mod.model
	e.manuf = mod.manuf
	e.module = mod.kind
	e.factor = factor

	e.msg.Printf("module %s (%s) type=%d on site %d", e.model, e.manuf, e.module, cfg.site)
	e.publishParams()

	return e, nil
}

type moduleInfo struct {
	model string
	manuf string
	kind  int
}

func (e *Engine) identify(site int) (moduleInfo, error) {
	var (
		mod moduleInfo
		err error
	)
	mod.model, err = e.ctl.GetSite(site, "module_name")
	if err != nil {
		return mod, fmt.Errorf("acq: could not get module name: %w", err)
	}
	mod.manuf, err = e.ctl.GetSite(site, "MANUFACTURER")
	if err != nil {
		return mod, fmt.Errorf("acq: could not get manufacturer: %w", err)
	}
	v, err := e.ctl.GetSite(site, "module_type")
	if err != nil {
		return mod, fmt.Errorf("acq: could not get module type: %w", err)
	}
	mod.kind, err = strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return mod, fmt.Errorf("acq: invalid module type %q: %w: %w", v, ErrProtocol, err)
	}
	return mod, nil
}

// Run runs the acquisition loop until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	defer e.link.close()
	for {
		err := e.waitStart(ctx)
		if err != nil {
			return err
		}
		e.begin(ctx)
		e.acquire(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (e *Engine) waitStart(ctx context.Context) error {
	e.msg.Printf("waiting for acquisition to start")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-e.sigs:
			if e.accept(sig) {
				return nil
			}
		}
	}
}

// accept handles a signal received while no acquisition runs and
// reports whether an acquisition should begin.
func (e *Engine) accept(sig signal) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch sig {
	case sigStart:
		return e.acquiring
	case sigStop:
		if !e.acquiring && e.status == Stopping {
			e.setStatus(e.stopStatus())
		}
	}
	return false
}

func (e *Engine) begin(ctx context.Context) {
	e.mu.Lock()
	e.run = e.gen
	e.integrity.Reset()
	e.images = 0
	e.setStatus(Acquiring, "Acquiring data")
	e.mu.Unlock()

	err := e.link.open(ctx)
	e.setConnected()
	if err != nil {
		e.fail(err)
		return
	}
	e.publishParams()
}

func (e *Engine) acquire(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-e.sigs:
			if sig == sigStop {
				e.halt()
				return
			}
		default:
		}

		done, err := e.cycle(ctx)
		e.setConnected()
		switch {
		case errors.Is(err, errStopped):
			// a stop request is queued: wait for it.
			select {
			case <-ctx.Done():
				return
			case sig := <-e.sigs:
				if sig == sigStop {
					e.halt()
					return
				}
			}
			continue
		case err != nil:
			e.fail(err)
			if !errors.Is(err, ErrTimeout) {
				e.pause(ctx)
			}
			continue
		}

		if done {
			e.complete()
			return
		}
	}
}

// cycle reads, checks, converts and publishes one frame.
func (e *Engine) cycle(ctx context.Context) (done bool, err error) {
	e.mu.Lock()
	if !e.acquiring {
		e.mu.Unlock()
		return false, errStopped
	}
	geo := e.geo
	if n := geo.FrameSize(); len(e.raw) != n {
		e.raw = make([]byte, n)
	}
	raw := e.raw
	if e.status != Acquiring {
		e.setStatus(Acquiring, "Acquiring data")
	}
	e.mu.Unlock()

	err = e.link.read(ctx, raw)
	now := time.Now().UTC()

	e.mu.Lock()
	if !e.acquiring {
		e.mu.Unlock()
		return false, errStopped
	}
	if err != nil {
		e.mu.Unlock()
		return false, err
	}

	fault := geo.Scratchpad && e.integrity.Check(raw, geo)
	img, err := Convert(raw, geo, e.factor)
	if err != nil {
		e.mu.Unlock()
		return false, err
	}

	e.counter++
	e.images++
	frame := &Frame{
		ID:    e.counter,
		Time:  now,
		Data:  img.Data,
		NX:    img.NX,
		NY:    img.NY,
		Fault: fault,
	}
	e.last = frame
	e.nx, e.ny = img.NX, img.NY
	e.setStatus(Readout, "Readout")
	switch e.mode {
	case Single:
		done = true
	case Multiple:
		done = e.images >= e.nimgs
	}
	sink := e.sink
	e.mu.Unlock()

	if fault {
		e.msg.Printf("sample counter mismatch in frame %d", frame.ID)
	}
	e.publishParams()

	if sink != nil {
		err := sink.Publish(frame)
		if err != nil {
			e.msg.Printf("could not publish frame %d: %+v", frame.ID, err)
		}
	}

	return done, nil
}

func (e *Engine) fail(err error) {
	st := Error
	if errors.Is(err, ErrDisconnected) {
		st = Disconnected
	}
	e.mu.Lock()
	if e.acquiring {
		e.setStatus(st, err.Error())
	}
	e.mu.Unlock()
	e.msg.Printf("could not acquire frame: %+v", err)
	e.publishParams()
}

func (e *Engine) pause(ctx context.Context) {
	if e.retry <= 0 {
		return
	}
	tmr := time.NewTimer(e.retry)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
	case <-tmr.C:
	case <-e.wake:
	}
}

// halt handles an explicit stop request.
func (e *Engine) halt() {
	e.link.close()
	e.setConnected()
	e.mu.Lock()
	e.setStatus(e.stopStatus())
	e.mu.Unlock()
	e.msg.Printf("acquisition stopped")
	e.publishParams()
}

// stopStatus returns the status reached by an explicit stop.
// stopStatus must be called with e.mu held.
func (e *Engine) stopStatus() (Status, string) {
	if e.mode == Continuous {
		return Idle, "Acquisition stopped"
	}
	return Aborted, "Acquisition aborted"
}

// complete ends a Single or Multiple acquisition.
func (e *Engine) complete() {
	e.link.close()
	e.setConnected()
	e.mu.Lock()
	if e.gen == e.run {
		e.acquiring = false
	}
	e.setStatus(Idle, "Waiting for acquisition")
	n := e.images
	e.mu.Unlock()
	e.msg.Printf("acquisition completed (%d frames)", n)
	e.publishParams()
}

func (e *Engine) setConnected() {
	ok := e.link.connected()
	e.mu.Lock()
	e.connected = ok
	e.mu.Unlock()
}

// setStatus must be called with e.mu held.
func (e *Engine) setStatus(st Status, msg string) {
	e.status = st
	e.statusMsg = msg
}

// signal queues sig for the acquisition loop.
// signal must be called with e.mu held.
func (e *Engine) signal(sig signal) error {
	select {
	case e.sigs <- sig:
	default:
		return fmt.Errorf("acq: signal queue full")
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return nil
}

// Start starts an acquisition.
func (e *Engine) Start() error { return e.Do(Start{}) }

// Stop stops the current acquisition.
// Stop does not wait for the acquisition loop to acknowledge the request.
func (e *Engine) Stop() error { return e.Do(Stop{}) }

// Do applies a command to the engine and the unit.
func (e *Engine) Do(cmd Command) error {
	if cmd == nil {
		return fmt.Errorf("acq: nil command: %w", ErrInvalid)
	}
	err := cmd.validate()
	if err != nil {
		return err
	}

	e.cmdmu.Lock()
	defer e.cmdmu.Unlock()

	switch cmd := cmd.(type) {
	case SetGain:
		err = e.setGain(cmd.Index)
	case SetMasterSite:
		err = e.setMasterSite(cmd.Site)
	case SetDataWidth:
		err = e.setDataWidth(cmd.Bits)
	case SetScratchpad:
		err = e.setScratchpad(cmd.Enable)
	case SetChannels:
		err = e.reshape(func(g *Geometry) {
			g.Channels = cmd.N
			g.X = FullAxis(cmd.N)
		})
	case SetSamples:
		err = e.reshape(func(g *Geometry) {
			g.Samples = cmd.N
			g.Y = FullAxis(cmd.N)
		})
	case SetROI:
		err = e.reshape(func(g *Geometry) {
			switch cmd.Dim {
			case DimX:
				g.X = cmd.Axis
			case DimY:
				g.Y = cmd.Axis
			}
		})
	case SetImageMode:
		e.mu.Lock()
		e.mode = cmd.Mode
		e.mu.Unlock()
	case SetNumImages:
		e.mu.Lock()
		e.nimgs = cmd.N
		e.mu.Unlock()
	case SetAggregationSites:
		e.mu.Lock()
		e.sites = cmd.Sites
		e.mu.Unlock()
	case Start:
		err = e.start()
	case Stop:
		err = e.stop()
	default:
		err = fmt.Errorf("acq: unknown command %T: %w", cmd, ErrInvalid)
	}
	if err != nil {
		return err
	}

	e.publishParams()
	return nil
}

func (e *Engine) setGain(sel int) error {
	e.mu.Lock()
	module, bits := e.module, e.geo.Bits()
	e.mu.Unlock()

	factor, ok := ConversionFactor(module, sel, bits)
	if !ok {
		return fmt.Errorf("acq: no range for gain %d of module type %d: %w", sel, module, ErrLookup)
	}

	err := e.ctl.SetSite(e.ctl.MasterSite(), "gain", strconv.Itoa(sel))
	if err != nil {
		return fmt.Errorf("acq: could not set gain %d: %w", sel, err)
	}

	e.mu.Lock()
	e.gain = sel
	e.factor = factor
	e.mu.Unlock()
	return nil
}

func (e *Engine) setMasterSite(site int) error {
	mod, err := e.identify(site)
	if err != nil {
		return fmt.Errorf("acq: could not identify module on site %d: %w", site, err)
	}

	e.mu.Lock()
	gain, bits := e.gain, e.geo.Bits()
	e.mu.Unlock()

	factor, ok := ConversionFactor(mod.kind, gain, bits)
	if !ok {
		return fmt.Errorf(
			"acq: no range for gain %d of module type %d on site %d: %w",
			gain, mod.kind, site, ErrLookup,
		)
	}

	e.ctl.SetMasterSite(site)
	e.mu.Lock()
	e.model = mod.model
	e.manuf = mod.manuf
	e.module = mod.kind
	e.factor = factor
	e.mu.Unlock()
	e.msg.Printf("module %s (%s) type=%d on site %d", mod.model, mod.manuf, mod.kind, site)
	return nil
}

func (e *Engine) setDataWidth(bits int) error {
	e.mu.Lock()
	geo := e.geo
	module, gain := e.module, e.gain
	e.mu.Unlock()

	geo.Width = bits / 8
	if err := geo.Validate(); err != nil {
		return err
	}
	factor, ok := ConversionFactor(module, gain, bits)
	if !ok {
		return fmt.Errorf("acq: no range for gain %d of module type %d: %w", gain, module, ErrLookup)
	}

	v := "0"
	if bits == 32 {
		v = "1"
	}
	err := e.ctl.SetSite(e.ctl.MasterSite(), "data32", v)
	if err != nil {
		return fmt.Errorf("acq: could not set data width to %d bits: %w", bits, err)
	}

	e.mu.Lock()
	e.geo.Width = geo.Width
	e.factor = factor
	e.mu.Unlock()
	return nil
}

func (e *Engine) setScratchpad(enable bool) error {
	e.mu.Lock()
	geo := e.geo
	e.mu.Unlock()

	geo.Scratchpad = enable
	if err := geo.Validate(); err != nil {
		return err
	}

	v := "0"
	if enable {
		v = "1"
	}
	err := e.ctl.SetSite(spadSite, "spad", v)
	if err != nil {
		return fmt.Errorf("acq: could not set scratchpad to %v: %w", enable, err)
	}

	e.mu.Lock()
	e.geo.Scratchpad = enable
	e.integrity.Reset()
	e.mu.Unlock()
	return nil
}

// reshape applies a local geometry change.
// The acquisition loop picks it up at the next frame boundary.
func (e *Engine) reshape(f func(g *Geometry)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	geo := e.geo
	f(&geo)
	if err := geo.Validate(); err != nil {
		return err
	}
	e.geo = geo
	return nil
}

func (e *Engine) start() error {
	e.mu.Lock()
	if e.acquiring {
		e.mu.Unlock()
		return nil
	}
	sites := e.sites
	e.mu.Unlock()

	if sites == "" {
		sites = strconv.Itoa(e.ctl.MasterSite())
	}
	err := e.ctl.Run(sites)
	if err != nil {
		return fmt.Errorf("acq: could not issue run command: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.acquiring {
		return nil
	}
	err = e.signal(sigStart)
	if err != nil {
		return err
	}
	e.gen++
	e.acquiring = true
	return nil
}

func (e *Engine) stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.acquiring {
		return nil
	}
	err := e.signal(sigStop)
	if err != nil {
		return err
	}
	e.acquiring = false
	e.setStatus(Stopping, "Stopping acquisition")
	return nil
}

// Status returns the current status of the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Last returns a copy of the most recent calibrated frame, or nil.
func (e *Engine) Last() *Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return nil
	}
	return e.last.Clone()
}

// Stats is a snapshot of the engine state.
type Stats struct {
	Status       Status   `json:"status"`
	Message      string   `json:"message"`
	Acquiring    bool     `json:"acquiring"`
	Connected    bool     `json:"connected"`
	Mode         Mode     `json:"mode"`
	NumImages    int      `json:"num_images"`
	Images       int      `json:"images"`
	Frames       uint64   `json:"frames"`
	Faults       uint64   `json:"faults"`
	Geometry     Geometry `json:"geometry"`
	MasterSite   int      `json:"master_site"`
	Sites        string   `json:"aggr_sites"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
	ModuleType   int      `json:"module_type"`
	Gain         int      `json:"gain"`
	Range        float64  `json:"range"`
	Factor       float64  `json:"factor"`
	NX           int      `json:"nx"`
	NY           int      `json:"ny"`
}

// Stats returns a snapshot of the engine state.
func (e *Engine) Stats() Stats {
	site := e.ctl.MasterSite()

	e.mu.Lock()
	defer e.mu.Unlock()

	rng, _ := Range(e.module, e.gain)
	return Stats{
		Status:       e.status,
		Message:      e.statusMsg,
		Acquiring:    e.acquiring,
		Connected:    e.connected,
		Mode:         e.mode,
		NumImages:    e.nimgs,
		Images:       e.images,
		Frames:       e.counter,
		Faults:       e.integrity.Faults(),
		Geometry:     e.geo,
		MasterSite:   site,
		Sites:        e.sites,
		Model:        e.model,
		Manufacturer: e.manuf,
		ModuleType:   e.module,
		Gain:         e.gain,
		Range:        rng,
		Factor:       e.factor,
		NX:           e.nx,
		NY:           e.ny,
	}
}

func (e *Engine) publishParams() {
	if e.params == nil {
		return
	}

	e.mu.Lock()
	kvs := [...]struct{ k, v string }{
		{KeyStatus, e.status.String()},
		{KeyStatusMessage, e.statusMsg},
		{KeyArrayCounter, strconv.FormatUint(e.counter, 10)},
		{KeyImagesCounter, strconv.Itoa(e.images)},
		{KeyFaults, strconv.FormatUint(e.integrity.Faults(), 10)},
		{KeySizeX, strconv.Itoa(e.nx)},
		{KeySizeY, strconv.Itoa(e.ny)},
		{KeyArraySize, strconv.Itoa(8 * e.nx * e.ny)},
		{KeyModel, e.model},
		{KeyManufacturer, e.manuf},
		{KeyModuleType, strconv.Itoa(e.module)},
		{KeyFactor, strconv.FormatFloat(e.factor, 'g', -1, 64)},
	}
	e.mu.Unlock()

	for _, kv := range kvs {
		err := e.params.Set(kv.k, kv.v)
		if err != nil {
			e.msg.Printf("could not publish %s=%q: %+v", kv.k, kv.v, err)
		}
	}
}
