package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-stargate/pkg/config"
	"github.com/ZentaChain/zentalk-stargate/pkg/observability"
)

// version is set at build time via -ldflags "-X main.version=x.y.z"
var version = "1.0.0"

type rootOptions struct {
	cfgFile  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "stargate",
		Short: "Stargate client transports and development station",
		Long: `Stargate keeps a persistent connection to a station over the socket
transport (fence) or the multiplexed long-link/short-link transport (mars),
queues outbound packages until the session is running and reports every
delivery outcome.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is ./stargate.yaml or ~/.stargate/stargate.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newStationCmd(opts),
		newConnectCmd(opts),
		newVersionCmd(),
	)
	return root
}

// load reads the configuration and builds the logger
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	return cfg, logger, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the stargate version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "stargate version %s\n", version)
			return nil
		},
	}
}
