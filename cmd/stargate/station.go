package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-stargate/pkg/observability"
	"github.com/ZentaChain/zentalk-stargate/pkg/station"
)

var statsInterval = time.Minute

type stationOptions struct {
	line  string
	link  string
	short string
}

func newStationCmd(root *rootOptions) *cobra.Command {
	opts := &stationOptions{}

	cmd := &cobra.Command{
		Use:   "station",
		Short: "Run a local echo station for both transports",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if !cmd.Flags().Changed("line") {
				opts.line = cfg.Station.Line
			}
			if !cmd.Flags().Changed("link") {
				opts.link = cfg.Station.Long
			}
			if !cmd.Flags().Changed("short") {
				opts.short = cfg.Station.Short
			}
			return runStation(opts, logger)
		},
	}

	cmd.Flags().StringVar(&opts.line, "line", ":9394", "socket transport listen address")
	cmd.Flags().StringVar(&opts.link, "link", ":9395", "long-link listen address")
	cmd.Flags().StringVar(&opts.short, "short", ":8080", "short-link listen address")
	return cmd
}

func runStation(opts *stationOptions, logger *zap.Logger) error {
	printBanner()
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	line := station.NewLineServer(opts.line,
		station.WithLineLogger(logger),
		station.WithLineMetrics(metrics))
	if err := line.Start(); err != nil {
		return fmt.Errorf("failed to start line server: %w", err)
	}
	defer line.Stop()

	link := station.NewLinkServer(station.LinkConfig{
		LongAddress:  opts.link,
		ShortAddress: opts.short,
	}, station.WithLogger(logger), station.WithMetrics(metrics))
	if err := link.Start(); err != nil {
		return fmt.Errorf("failed to start link server: %w", err)
	}
	defer link.Stop()

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("🚀 Station Status")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("   Socket transport: %s\n", line.Addr())
	fmt.Printf("   Long link:        %s\n", link.LongAddr())
	fmt.Printf("   Short link:       %s\n", link.ShortAddr())
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	done := make(chan struct{})
	go reportStats(line, link, logger, done)
	waitForShutdown(nil)
	close(done)

	logger.Info("🛑 shutting down gracefully")
	return nil
}

func reportStats(line *station.LineServer, link *station.LinkServer, logger *zap.Logger, done <-chan struct{}) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ls, ks := line.Stats(), link.Stats()
			logger.Info("💓 station stats",
				zap.Any("line_peers", ls["active_peers"]),
				zap.Any("line_frames", ls["frames"]),
				zap.Any("line_heartbeats", ls["heartbeats"]),
				zap.Any("link_peers", ks["active_peers"]),
				zap.Any("link_requests", ks["requests"]),
				zap.Any("link_noops", ks["noops"]))
		}
	}
}
