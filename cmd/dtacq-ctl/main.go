// Copyright 2026 The dtacq-adc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dtacq-ctl controls a running dtacq-daq daemon through its HTTP API.
//
// Usage:
//
//	$> dtacq-ctl status
//	$> dtacq-ctl set gain 2
//	$> dtacq-ctl start
//	$> dtacq-ctl report -details 1
package main // import "github.com/wycx/dtacq-adc/cmd/dtacq-ctl"

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wycx/dtacq-adc/api"
)

const addrOptionName = "addr"

func main() {
	log.SetPrefix("dtacq-ctl: ")
	log.SetFlags(0)

	err := newRootCommand(os.Stdout).Execute()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	var addr string
	client := func() *api.Client { return api.NewClient(addr) }

	cmd := &cobra.Command{
		Use:           "dtacq-ctl",
		Short:         "Control a dtacq-daq daemon",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetOut(out)
	cmd.PersistentFlags().StringVar(&addr, addrOptionName, "localhost:8080", "[ip]:port of the dtacq-daq API")

	cmd.AddCommand(
		newStatusCommand(client),
		newActionCommand("start", "Start an acquisition", client, (*api.Client).Start),
		newActionCommand("stop", "Stop the current acquisition", client, (*api.Client).Stop),
		newParamsCommand(client),
		newSetCommand(client),
		newGetCommand(client),
		newFrameCommand(client),
		newMonitorCommand(client),
		newReportCommand(client),
	)
	return cmd
}

func newStatusCommand(client func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Display the state of the acquisition engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := client().Status()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 1, ' ', 0)
			fmt.Fprintf(w, "status:\t%v\t(%s)\n", st.Status, st.Message)
			fmt.Fprintf(w, "model:\t%s\t(site %d)\n", st.Model, st.MasterSite)
			fmt.Fprintf(w, "mode:\t%v\t(%d/%d images)\n", st.Mode, st.Images, st.NumImages)
			fmt.Fprintf(w, "frames:\t%d\t(faults: %d)\n", st.Frames, st.Faults)
			fmt.Fprintf(w, "gain:\t%d\t(range: %gV, factor: %g V/count)\n", st.Gain, st.Range, st.Factor)
			fmt.Fprintf(w, "image:\t%dx%d\t\n", st.NX, st.NY)
			return w.Flush()
		},
	}
}

func newActionCommand(name, short string, client func() *api.Client, action func(*api.Client) error) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return action(client())
		},
	}
}

func newParamsCommand(client func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "params",
		Short: "List the settings accepted by set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := client().Params()
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
}

func newSetCommand(client func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Apply a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().Set(args[0], args[1])
		},
	}
}

func newGetCommand(client func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "get <param>",
		Short: "Read a parameter of the unit master site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := client().Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}
}

func newFrameCommand(client func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "frame",
		Short: "Dump the last calibrated frame as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := client().Frame()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(f)
		},
	}
}

func newMonitorCommand(client func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Display per-channel statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := client().Monitor()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 1, ' ', tabwriter.AlignRight)
			fmt.Fprintf(w, "chan\tentries\tmean\trms\tmin\tmax\t\n")
			for _, ch := range sum {
				fmt.Fprintf(w, "%d\t%d\t%.6g\t%.6g\t%.6g\t%.6g\t\n",
					ch.Channel, ch.Entries, ch.Mean, ch.RMS, ch.Min, ch.Max,
				)
			}
			return w.Flush()
		},
	}
}

func newReportCommand(client func() *api.Client) *cobra.Command {
	var details int
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Display the report of the acquisition engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := client().Report(details)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), report)
			return err
		},
	}
	cmd.Flags().IntVar(&details, "details", 0, "level of details of the report")
	return cmd
}
