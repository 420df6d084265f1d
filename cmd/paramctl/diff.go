package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/danmuck/paramctl/internal/config"
	"github.com/danmuck/paramctl/internal/link"
	"github.com/danmuck/paramctl/internal/paramfile"
	"github.com/danmuck/paramctl/internal/params"
	"github.com/spf13/cobra"
)

var diffDevice string

var diffCmd = &cobra.Command{
	Use:   "diff FILE",
	Short: "Compare a parameter file against a live device download",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		entries, err := paramfile.Parse(string(raw))
		if err != nil {
			return err
		}

		lc := cfg.LinkConfig()
		if diffDevice != "" {
			lc.Addr = diffDevice
		}
		client, err := link.Dial(cmd.Context(), lc, link.Handlers{})
		if err != nil {
			return err
		}
		defer client.Close()
		snap, err := client.DownloadAll(cmd.Context())
		if err != nil {
			return err
		}

		rows := diffFile(snap, entries, cfg.Tolerance)
		return writeDiff(cmd.OutOrStdout(), rows, len(entries))
	},
}

func init() {
	diffCmd.Flags().StringVar(&diffDevice, "device", "", "device address (default device_addr)")
}

type fileDiff struct {
	Name    string
	Known   bool
	Current params.Param
	File    float64
}

// diffFile lists file entries that differ from the device beyond tolerance,
// sorted by name. Names the device does not expose are always listed.
func diffFile(snap params.Snapshot, entries map[string]float64, tol params.Tolerance) []fileDiff {
	out := make([]fileDiff, 0)
	for name, value := range entries {
		p, ok := snap[name]
		if ok && tol.Within(p.Type, p.Value, value) {
			continue
		}
		out = append(out, fileDiff{Name: name, Known: ok, Current: p, File: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func writeDiff(w io.Writer, rows []fileDiff, total int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDEVICE\tFILE")
	for _, r := range rows {
		current := "(unknown)"
		file := params.TypeFloat.Format(r.File)
		if r.Known {
			current = r.Current.Type.Format(r.Current.Value)
			file = r.Current.Type.Format(r.File)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, current, file)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d of %d entries differ\n", len(rows), total)
	return err
}
