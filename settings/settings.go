// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package settings provides the key/value store shared by the acquisition
// engine and its remote controls.
//
// All values live in memory. Values of the keys declared persistent are
// also written to a bbolt database and restored when the store is opened
// again.
package settings // import "github.com/wycx/dtacq-adc/settings"

import (
	"fmt"
	"log"
	"os"
	"sort"
	"sync"

	"go.etcd.io/bbolt"
)

var bucket = []byte("settings")

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger of the store.
func WithLogger(msg *log.Logger) Option {
	return func(s *Store) { s.msg = msg }
}

// WithPersist declares the keys whose values are saved to disk.
func WithPersist(keys ...string) Option {
	return func(s *Store) {
		for _, k := range keys {
			s.persist[k] = true
		}
	}
}

type event struct {
	key, val string
	flush    chan struct{}
}

// Store is a concurrency-safe key/value store.
//
// Watchers are notified of every change, in order, from a single
// goroutine. They may call back into the store.
type Store struct {
	msg     *log.Logger
	db      *bbolt.DB
	persist map[string]bool

	wmu sync.Mutex // serializes writers: update, persist and notify

	mu       sync.RWMutex
	kv       map[string]string
	watchers []func(key, value string)

	qmu    sync.Mutex
	queue  []event
	notify chan struct{}
	quit   chan struct{}
	done   chan struct{}
}

// Open opens the store backed by the database at path.
// An empty path creates a store without persistence.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		msg:     log.New(os.Stdout, "settings: ", 0),
		persist: make(map[string]bool),
		kv:      make(map[string]string),
		notify:  make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if path != "" {
		db, err := bbolt.Open(path, 0600, nil)
		if err != nil {
			return nil, fmt.Errorf("settings: could not open db %q: %w", path, err)
		}
		err = db.Update(func(tx *bbolt.Tx) error {
			bkt, err := tx.CreateBucketIfNotExists(bucket)
			if err != nil {
				return err
			}
			return bkt.ForEach(func(k, v []byte) error {
				if s.persist[string(k)] {
					s.kv[string(k)] = string(v)
				}
				return nil
			})
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("settings: could not load db %q: %w", path, err)
		}
		s.db = db
	}

	go s.loop()
	return s, nil
}

// Close stops the delivery of notifications and closes the database.
func (s *Store) Close() error {
	select {
	case <-s.quit:
		return nil
	default:
		close(s.quit)
	}
	<-s.done

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("settings: could not close db: %w", err)
	}
	return nil
}

// Get returns the value of key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kv[key]
	return v, ok
}

// Set sets the value of key and notifies the watchers if it changed.
func (s *Store) Set(key, value string) error {
	if key == "" {
		return fmt.Errorf("settings: empty key")
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.RLock()
	old, ok := s.kv[key]
	s.mu.RUnlock()
	if ok && old == value {
		return nil
	}

	if s.persist[key] && s.db != nil {
		err := s.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucket).Put([]byte(key), []byte(value))
		})
		if err != nil {
			return fmt.Errorf("settings: could not save %q: %w", key, err)
		}
	}

	s.mu.Lock()
	s.kv[key] = value
	s.mu.Unlock()

	s.post(event{key: key, val: value})
	return nil
}

// Keys returns the sorted list of keys.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.kv))
	for k := range s.kv {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// All returns a copy of the content of the store.
func (s *Store) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o := make(map[string]string, len(s.kv))
	for k, v := range s.kv {
		o[k] = v
	}
	return o
}

// Watch registers fn to be called after each change.
func (s *Store) Watch(fn func(key, value string)) {
	s.mu.Lock()
	s.watchers = append(s.watchers, fn)
	s.mu.Unlock()
}

// Flush waits until all the changes made so far were delivered.
func (s *Store) Flush() {
	ch := make(chan struct{})
	s.post(event{flush: ch})
	select {
	case <-ch:
	case <-s.done:
	}
}

func (s *Store) post(evt event) {
	s.qmu.Lock()
	s.queue = append(s.queue, evt)
	s.qmu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Store) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case <-s.notify:
		}

		s.qmu.Lock()
		evts := s.queue
		s.queue = nil
		s.qmu.Unlock()

		s.mu.RLock()
		watchers := s.watchers
		s.mu.RUnlock()

		for _, evt := range evts {
			if evt.flush != nil {
				close(evt.flush)
				continue
			}
			for _, fn := range watchers {
				fn(evt.key, evt.val)
			}
		}
	}
}
