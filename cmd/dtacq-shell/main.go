// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dtacq-shell is an interactive console on the control port of a
// D-TACQ ACQ4xx unit.
//
// Usage:
//
//	$> dtacq-shell -addr acq2106_042:4220
//	dtacq> get module_name
//	ACQ420FMC
//	dtacq> site 2
//	dtacq> set gain 1
//	dtacq> raw get.site 0 spad
package main // import "github.com/wycx/dtacq-adc/cmd/dtacq-shell"

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/wycx/dtacq-adc/ctl"
)

func main() {
	log.SetPrefix("dtacq-shell: ")
	log.SetFlags(0)

	var (
		addr    = flag.String("addr", "localhost:4220", "[ip]:port of the unit control port")
		site    = flag.Int("site", 1, "initial master site")
		timeout = flag.Duration("timeout", 2*time.Second, "reply timeout")
		hist    = flag.String("history", historyFile(), "path to the history file")
	)

	flag.Parse()

	err := run(*addr, *site, *timeout, *hist)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".dtacq_history")
}

func run(addr string, site int, timeout time.Duration, hist string) error {
	c, err := ctl.Dial(addr,
		ctl.WithMasterSite(site),
		ctl.WithTimeout(timeout),
		ctl.WithLogger(log.New(io.Discard, "", 0)),
	)
	if err != nil {
		return fmt.Errorf("could not connect to unit: %w", err)
	}
	defer c.Close()

	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(complete)

	if hist != "" {
		if f, err := os.Open(hist); err == nil {
			_, _ = term.ReadHistory(f)
			f.Close()
		}
		defer func() {
			f, err := os.Create(hist)
			if err != nil {
				log.Printf("could not save history: %+v", err)
				return
			}
			defer f.Close()
			_, _ = term.WriteHistory(f)
		}()
	}

	sh := newShell(c, os.Stdout)
	for {
		line, err := term.Prompt(sh.prompt())
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				fmt.Fprintln(os.Stdout)
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		quit, err := sh.exec(line)
		if err != nil {
			fmt.Fprintf(os.Stdout, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

type command struct {
	help string
	args int // minimum number of arguments
	fct  func(sh *shell, args []string) error
}

var commands = map[string]command{
	"get": {
		help: "get <param>             read a parameter of the master site",
		args: 1,
		fct: func(sh *shell, args []string) error {
			v, err := sh.c.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(sh.out, v)
			return nil
		},
	},
	"set": {
		help: "set <param> <value>     set a parameter of the master site",
		args: 2,
		fct: func(sh *shell, args []string) error {
			return sh.c.Set(args[0], strings.Join(args[1:], " "))
		},
	},
	"site": {
		help: "site [n]                display or change the master site",
		fct: func(sh *shell, args []string) error {
			if len(args) == 0 {
				fmt.Fprintln(sh.out, sh.c.MasterSite())
				return nil
			}
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 || n > 6 {
				return fmt.Errorf("invalid site %q", args[0])
			}
			sh.c.SetMasterSite(n)
			return nil
		},
	},
	"run": {
		help: "run <sites>             start streaming from a comma-separated list of sites",
		args: 1,
		fct: func(sh *shell, args []string) error {
			return sh.c.Run(args[0])
		},
	},
	"raw": {
		help: "raw <line>              send a raw command line and read its reply",
		args: 1,
		fct: func(sh *shell, args []string) error {
			line := strings.Join(args, " ")
			reply := strings.HasPrefix(line, "get.")
			v, err := sh.c.Send(line, reply)
			if err != nil {
				return err
			}
			if reply {
				fmt.Fprintln(sh.out, v)
			}
			return nil
		},
	},
}

// params lists the parameters offered for completion.
var params = []string{
	"MANUFACTURER",
	"gain",
	"module_name",
	"module_type",
	"nchan",
	"spad",
}

type shell struct {
	c   *ctl.Client
	out io.Writer
}

func newShell(c *ctl.Client, out io.Writer) *shell {
	return &shell{c: c, out: out}
}

func (sh *shell) prompt() string {
	return fmt.Sprintf("dtacq[%d]> ", sh.c.MasterSite())
}

func (sh *shell) exec(line string) (quit bool, err error) {
	toks := strings.Fields(line)
	if len(toks) == 0 {
		return false, nil
	}
	name, args := toks[0], toks[1:]
	switch name {
	case "quit", "exit":
		return true, nil
	case "help", "?":
		sh.help()
		return false, nil
	}

	cmd, ok := commands[name]
	if !ok {
		return false, fmt.Errorf("unknown command %q (try help)", name)
	}
	if len(args) < cmd.args {
		return false, fmt.Errorf("usage: %s", cmd.help)
	}
	return false, cmd.fct(sh, args)
}

func (sh *shell) help() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(sh.out, "  %s\n", commands[name].help)
	}
	fmt.Fprintf(sh.out, "  help\n  quit\n")
}

func complete(line string) []string {
	toks := strings.Fields(line)
	trailing := strings.HasSuffix(line, " ")

	var (
		prefix string
		cands  []string
	)
	switch {
	case len(toks) == 0 || (len(toks) == 1 && !trailing):
		cands = []string{"help", "quit"}
		for name := range commands {
			cands = append(cands, name)
		}
		if len(toks) == 1 {
			prefix = toks[0]
		}
	case toks[0] == "get" || toks[0] == "set":
		if len(toks) > 2 || (len(toks) == 2 && trailing) {
			return nil
		}
		cands = params
		if len(toks) == 2 {
			prefix = toks[1]
		}
		head := toks[0] + " "
		var o []string
		for _, p := range cands {
			if strings.HasPrefix(p, prefix) {
				o = append(o, head+p)
			}
		}
		sort.Strings(o)
		return o
	default:
		return nil
	}

	var o []string
	for _, c := range cands {
		if strings.HasPrefix(c, prefix) {
			o = append(o, c)
		}
	}
	sort.Strings(o)
	return o
}
