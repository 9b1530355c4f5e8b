package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-stargate/pkg/api"
	"github.com/ZentaChain/zentalk-stargate/pkg/config"
	"github.com/ZentaChain/zentalk-stargate/pkg/delivery"
	"github.com/ZentaChain/zentalk-stargate/pkg/observability"
	"github.com/ZentaChain/zentalk-stargate/pkg/session"
	"github.com/ZentaChain/zentalk-stargate/pkg/stargate"
	"github.com/ZentaChain/zentalk-stargate/pkg/stargate/fence"
	"github.com/ZentaChain/zentalk-stargate/pkg/stargate/mars"
)

const defaultUser = "guest"

type connectOptions struct {
	transport string
	api       string
	user      string
}

func newConnectCmd(root *rootOptions) *cobra.Command {
	opts := &connectOptions{}

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a station and send stdin lines as packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if opts.transport != "" {
				cfg.Transport = opts.transport
			}
			if opts.api != "" {
				cfg.API.Enabled = true
				cfg.API.Listen = opts.api
			}
			if opts.user != "" {
				cfg.Session.User = opts.user
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runConnect(cmd.Context(), cfg, logger, os.Stdin, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", "", "transport: fence or mars (default from config)")
	cmd.Flags().StringVar(&opts.api, "api", "", "status API listen address, enables the API")
	cmd.Flags().StringVar(&opts.user, "user", "", "session user (default from config)")
	return cmd
}

// starFactory builds the configured transport
func starFactory(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) session.StarFactory {
	if cfg.Transport == config.TransportMars {
		netCfg := cfg.NetworkConfig()
		return func(d stargate.Delegate) stargate.Star {
			return mars.New(d,
				mars.WithNetworkConfig(netCfg),
				mars.WithLogger(logger),
				mars.WithMetrics(metrics))
		}
	}

	fenceCfg := cfg.FenceTimings()
	return func(d stargate.Delegate) stargate.Star {
		return fence.New(d,
			fence.WithConfig(fenceCfg),
			fence.WithLogger(logger),
			fence.WithMetrics(metrics))
	}
}

// printer writes inbound packages and delivery outcomes to out
type printer struct {
	mu     sync.Mutex
	out    io.Writer
	logger *zap.Logger
}

func (p *printer) OnReceivePackage(data []byte, _ *session.Server) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "📨 %s\n", data)
}

func (p *printer) DidSendPackage(data []byte, _ *session.Server) {
	p.logger.Debug("package delivered", zap.Int("size", len(data)))
}

func (p *printer) DidFailToSendPackage(data []byte, err error, _ *session.Server) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "❌ failed to send %q: %v\n", data, err)
}

func runConnect(ctx context.Context, cfg *config.Config, logger *zap.Logger, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	printBanner()

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	serverOpts := []session.Option{
		session.WithConfig(cfg.SessionTimings()),
		session.WithLogger(logger),
		session.WithMetrics(metrics),
		session.WithDelegate(&printer{out: out, logger: logger}),
	}
	if cfg.Session.StrandedDB != "" {
		store, err := delivery.NewStore(cfg.Session.StrandedDB, cfg.Session.StrandedTTL, logger)
		if err != nil {
			return fmt.Errorf("failed to open stranded store: %w", err)
		}
		defer store.Close()
		serverOpts = append(serverOpts, session.WithStore(store))
		logger.Info("📬 stranded store opened",
			zap.String("path", cfg.Session.StrandedDB),
			zap.Duration("ttl", cfg.Session.StrandedTTL))
	}

	server := session.NewServer(starFactory(cfg, logger, metrics), serverOpts...)

	user := cfg.Session.User
	if user == "" {
		user = defaultUser
	}
	server.SetUser(user)

	if err := server.Start(cfg.LaunchOptions()); err != nil {
		return fmt.Errorf("failed to start %s transport: %w", cfg.Transport, err)
	}
	defer server.Stop()
	logger.Info("✅ transport launched", zap.String("transport", cfg.Transport), zap.String("user", user))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.API.Enabled {
		apiCfg := api.DefaultConfig()
		apiCfg.Listen = cfg.API.Listen
		apiServer := api.NewServer(server, apiCfg, api.WithLogger(logger))
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				logger.Error("API server stopped", zap.Error(err))
			}
		}()
		logger.Info("✅ status API listening", zap.String("listen", cfg.API.Listen))
	}

	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		sendLines(server, in, logger)
	}()

	// stdin EOF does not end the session, pushes keep arriving
	waitForShutdown(ctx.Done())
	logger.Info("🛑 shutting down gracefully")
	return nil
}

// sendLines queues every non-empty line of in
func sendLines(server *session.Server, in io.Reader, logger *zap.Logger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		data := append([]byte(nil), line...)
		if err := server.SendPackage(data, nil, 0); err != nil {
			if errors.Is(err, session.ErrDuplicate) {
				logger.Warn("⚠️ package already queued", zap.ByteString("data", data))
				continue
			}
			logger.Error("send failed", zap.Error(err))
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("⚠️ input closed", zap.Error(err))
	}
}
