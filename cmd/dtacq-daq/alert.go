// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wycx/dtacq-adc/acq"
	mail "gopkg.in/gomail.v2"
)

var (
	alertMailUsr  = os.Getenv("MAIL_USERNAME")
	alertMailPwd  = os.Getenv("MAIL_PASSWORD")
	alertMailSrv  = os.Getenv("MAIL_SERVER")
	alertMailPort = atoi(os.Getenv("MAIL_PORT"))
	alertMailTgts = splitList(os.Getenv("MAIL_TGTS"))
)

// alerter sends a mail when the unit stays disconnected for too long.
type alerter struct {
	device string
	after  time.Duration
	tgts   []string
	send   func(subject, body string, tgts []string) error

	mu    sync.Mutex
	since time.Time // start of the current disconnection
	sent  bool
}

func newAlerter(device string, after time.Duration, tgts []string) *alerter {
	if len(tgts) == 0 {
		tgts = alertMailTgts
	}
	return &alerter{
		device: device,
		after:  after,
		tgts:   tgts,
		send:   sendMail,
	}
}

// update tracks the engine status.
func (a *alerter) update(status string, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if status != acq.Disconnected.String() {
		a.since = time.Time{}
		a.sent = false
		return
	}
	if a.since.IsZero() {
		a.since = now
	}
}

// check sends an alert if the current disconnection lasted long enough.
// Only one alert is sent per disconnection.
func (a *alerter) check(now time.Time) bool {
	a.mu.Lock()
	if a.sent || a.since.IsZero() || now.Sub(a.since) < a.after {
		a.mu.Unlock()
		return false
	}
	a.sent = true
	since := a.since
	a.mu.Unlock()

	subject := fmt.Sprintf("[dtacq-daq] %s: unit disconnected", a.device)
	body := fmt.Sprintf(
		"device: %s\ndisconnected since: %s\nduration: %v\n",
		a.device, since.Format(time.RFC3339), now.Sub(since).Round(time.Second),
	)
	err := a.send(subject, body, a.tgts)
	if err != nil {
		log.Printf("could not send mail alert: %+v", err)
	}
	return true
}

func (a *alerter) run(ctx context.Context, freq time.Duration) error {
	tck := time.NewTicker(freq)
	defer tck.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-tck.C:
			a.check(now)
		}
	}
}

func sendMail(subject, body string, tgts []string) error {
	if alertMailUsr == "" || alertMailPwd == "" ||
		alertMailSrv == "" || alertMailPort == 0 ||
		len(tgts) == 0 {
		return fmt.Errorf("missing mail credentials")
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", alertMailUsr)
	msg.SetHeader("Bcc", tgts...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	dial := mail.NewDialer(alertMailSrv, alertMailPort, alertMailUsr, alertMailPwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	return dial.DialAndSend(msg)
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}

func splitList(s string) []string {
	var o []string
	for _, v := range strings.Split(s, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			o = append(o, v)
		}
	}
	return o
}
