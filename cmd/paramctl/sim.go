package main

import (
	"time"

	"github.com/danmuck/paramctl/internal/config"
	"github.com/danmuck/paramctl/internal/device/sim"
	"github.com/danmuck/paramctl/internal/logging"
	"github.com/spf13/cobra"
)

var (
	simAddr    string
	simLatency time.Duration
	simRejects []string
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Serve a simulated parameter device over the link protocol",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		addr := cfg.SimAddr
		if simAddr != "" {
			addr = simAddr
		}
		dev := sim.Default()
		dev.SetLatency(simLatency)
		for _, name := range simRejects {
			dev.Reject(name, "rejected by simulator")
		}
		logging.Infof("paramctl.sim addr=%s latency=%s rejects=%v", addr, simLatency, simRejects)
		return sim.NewServer(dev).ListenAndServe(cmd.Context(), addr)
	},
}

func init() {
	simCmd.Flags().StringVar(&simAddr, "addr", "", "listen address (default sim_addr)")
	simCmd.Flags().DurationVar(&simLatency, "latency", 0, "delay applied to every device call")
	simCmd.Flags().StringSliceVar(&simRejects, "reject", nil, "parameter names whose writes always fail")
}
