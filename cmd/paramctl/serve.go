package main

import (
	"context"

	"github.com/danmuck/paramctl/internal/api"
	"github.com/danmuck/paramctl/internal/auth"
	"github.com/danmuck/paramctl/internal/config"
	"github.com/danmuck/paramctl/internal/device/sim"
	"github.com/danmuck/paramctl/internal/engine"
	"github.com/danmuck/paramctl/internal/link"
	"github.com/danmuck/paramctl/internal/logging"
	"github.com/danmuck/paramctl/internal/metadata"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveWithSim bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and keep a link to the device",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg, serveWithSim)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithSim, "sim", false, "start a simulated device on sim_addr and connect to it")
}

func runServe(ctx context.Context, cfg config.Config, withSim bool) error {
	g, gctx := errgroup.WithContext(ctx)

	if withSim {
		cfg.DeviceAddr = cfg.SimAddr
		srv := sim.NewServer(sim.Default())
		g.Go(func() error { return srv.ListenAndServe(gctx, cfg.SimAddr) })
	}

	sup := link.NewSupervisor(cfg.LinkConfig())
	ecfg := engine.DefaultConfig()
	ecfg.Device = sup
	ecfg.DeviceTypeHint = cfg.DeviceType
	ecfg.Tolerance = cfg.Tolerance
	ecfg.EventBuffer = cfg.EventBuffer
	if cfg.MetadataFile != "" {
		ecfg.Metadata = metadata.FileProvider{Path: cfg.MetadataFile}
	}
	eng, err := engine.New(ecfg)
	if err != nil {
		return err
	}
	sup.Attach(eng)
	server := api.New("paramctl", cfg.ListenAddr, eng, api.Options{
		CorsOrigins: cfg.CorsOrigins,
		Auth:        auth.FromConfig(cfg.APIToken),
	})

	logging.Infof(
		"paramctl.serve listen=%s device=%s metadata=%q sim=%t",
		cfg.ListenAddr,
		cfg.DeviceAddr,
		cfg.MetadataFile,
		withSim,
	)
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return sup.Run(gctx) })
	g.Go(func() error { return server.Serve(gctx) })
	return g.Wait()
}
