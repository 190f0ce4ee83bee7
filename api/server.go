// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package api exposes the acquisition engine over HTTP.
//
// Routes:
//
//	GET  /api/status                  engine state
//	POST /api/acquire/{start|stop}    start or stop an acquisition
//	GET  /api/params                  settable keys
//	POST /api/param                   {"key":..., "value":...}
//	GET  /api/device/{param}          raw parameter of the master site
//	GET  /api/frame                   last calibrated frame
//	GET  /api/report?details=N        human readable report
//	GET  /api/monitor                 per-channel statistics
//
// Errors are reported as {"msg": "..."}.
package api // import "github.com/wycx/dtacq-adc/api"

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/wycx/dtacq-adc/acq"
	"github.com/wycx/dtacq-adc/sink"
)

// Device gives read access to the unit parameters.
type Device interface {
	Get(param string) (string, error)
}

// Store records the settings applied through the API.
type Store interface {
	Set(key, value string) error
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger of the server, also used for the access log.
func WithLogger(msg *log.Logger) Option {
	return func(srv *Server) { srv.msg = msg }
}

// WithMonitor exposes the statistics of a monitor sink.
func WithMonitor(mon *sink.Monitor) Option {
	return func(srv *Server) { srv.mon = mon }
}

// WithStore records successfully applied settings into store.
func WithStore(store Store) Option {
	return func(srv *Server) { srv.store = store }
}

// Server serves the HTTP API of an engine.
type Server struct {
	msg *log.Logger
	eng *acq.Engine
	dev Device
	mon *sink.Monitor

	store Store

	router *mux.Router
}

// NewServer returns a server for eng, reading unit parameters from dev.
func NewServer(eng *acq.Engine, dev Device, opts ...Option) *Server {
	srv := &Server{
		msg: log.New(os.Stdout, "api: ", 0),
		eng: eng,
		dev: dev,
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.router = mux.NewRouter()
	api := srv.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", srv.handleStatus).Methods("GET")
	api.HandleFunc("/acquire/{action:start|stop}", srv.handleAcquire).Methods("POST")
	api.HandleFunc("/params", srv.handleParams).Methods("GET")
	api.HandleFunc("/param", srv.handleParam).Methods("POST")
	api.HandleFunc("/device/{param}", srv.handleDevice).Methods("GET")
	api.HandleFunc("/frame", srv.handleFrame).Methods("GET")
	api.HandleFunc("/report", srv.handleReport).Methods("GET")
	api.HandleFunc("/monitor", srv.handleMonitor).Methods("GET")

	return srv
}

// Handler returns the HTTP handler of the API, with access logging.
func (srv *Server) Handler() http.Handler {
	return handlers.CombinedLoggingHandler(srv.msg.Writer(), srv.router)
}

// Param is a key/value pair.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type reply struct {
	Msg string `json:"msg"`
}

func (srv *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	srv.writeJSON(w, http.StatusOK, srv.eng.Stats())
}

func (srv *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	var err error
	switch action := mux.Vars(r)["action"]; action {
	case "start":
		err = srv.eng.Start()
	case "stop":
		err = srv.eng.Stop()
	}
	srv.reply(w, err)
}

func (srv *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	srv.writeJSON(w, http.StatusOK, acq.CommandKeys())
}

func (srv *Server) handleParam(w http.ResponseWriter, r *http.Request) {
	var p Param
	err := json.NewDecoder(r.Body).Decode(&p)
	if err != nil {
		srv.reply(w, fmt.Errorf("api: could not decode parameter: %w: %w", acq.ErrInvalid, err))
		return
	}

	cmd, err := acq.ParseCommand(p.Key, p.Value)
	if err != nil {
		srv.reply(w, err)
		return
	}

	srv.msg.Printf("set %s=%q", p.Key, p.Value)
	err = srv.eng.Do(cmd)
	if err == nil && srv.store != nil {
		err = srv.store.Set(p.Key, p.Value)
	}
	srv.reply(w, err)
}

func (srv *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["param"]
	v, err := srv.dev.Get(name)
	if err != nil {
		srv.reply(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, Param{Key: name, Value: v})
}

func (srv *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	f := srv.eng.Last()
	if f == nil {
		srv.writeJSON(w, http.StatusNotFound, reply{Msg: "no frame"})
		return
	}
	srv.writeJSON(w, http.StatusOK, f)
}

func (srv *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	details := 0
	if v := r.URL.Query().Get("details"); v != "" {
		var err error
		details, err = strconv.Atoi(v)
		if err != nil {
			srv.reply(w, fmt.Errorf("api: invalid details level %q: %w", v, acq.ErrInvalid))
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	err := srv.eng.Report(w, details)
	if err != nil {
		srv.msg.Printf("could not write report: %+v", err)
	}
}

func (srv *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	if srv.mon == nil {
		srv.writeJSON(w, http.StatusNotFound, reply{Msg: "no monitor"})
		return
	}
	srv.writeJSON(w, http.StatusOK, srv.mon.Summary())
}

func (srv *Server) reply(w http.ResponseWriter, err error) {
	if err == nil {
		srv.writeJSON(w, http.StatusOK, reply{Msg: "ok"})
		return
	}
	srv.msg.Printf("request failed: %+v", err)
	srv.writeJSON(w, statusOf(err), reply{Msg: err.Error()})
}

func (srv *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		srv.msg.Printf("could not encode reply: %+v", err)
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, acq.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, acq.ErrLookup):
		return http.StatusUnprocessableEntity
	case errors.Is(err, acq.ErrProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
