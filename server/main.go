// Command codlab-server is the relay: it accepts bridge connections and fans
// every change out to the other bridges.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Eldolfin/codlab/internal/config"
	"github.com/Eldolfin/codlab/internal/discovery"
	"github.com/Eldolfin/codlab/internal/journal"
	"github.com/Eldolfin/codlab/internal/logger"
	"github.com/Eldolfin/codlab/internal/relay"
	"github.com/Eldolfin/codlab/internal/telemetry"
)

var version = "dev"

type flags struct {
	configPath string
	listen     string
	journal    string
	discovery  bool
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "codlab-server",
		Short: "Relay document changes between codlab bridges",
		Long: `Run the codlab relay.

Every bridge connects to the relay over a websocket. Each change a bridge
sends is forwarded unchanged to every other connected bridge.

Examples:
  codlab-server
  codlab-server --listen 127.0.0.1:7575 --verbose
  codlab-server --config relay.toml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			if err := run(cmd.Context(), cfg, f.verbose); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to a TOML config file")
	cmd.Flags().StringVarP(&f.listen, "listen", "l", "", "listen address, overrides listen_addr")
	cmd.Flags().StringVar(&f.journal, "journal", "", "journal driver: none, memory, postgres, redis or sqlite")
	cmd.Flags().BoolVar(&f.discovery, "mdns", false, "advertise the relay over mDNS")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "log every relayed change")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("codlab-server version %s\n", version)
		},
	})
	return cmd
}

// loadConfig applies command line flags on top of the file and environment.
func loadConfig(cmd *cobra.Command, f flags) (config.Relay, error) {
	cfg, err := config.LoadRelay(f.configPath)
	if err != nil {
		return config.Relay{}, err
	}
	if cmd.Flags().Changed("listen") {
		cfg.ListenAddr = f.listen
	}
	if cmd.Flags().Changed("journal") {
		cfg.Journal.Driver = f.journal
	}
	if cmd.Flags().Changed("mdns") {
		cfg.Discovery.Enabled = f.discovery
	}
	if err := cfg.Validate(); err != nil {
		return config.Relay{}, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.Relay, verbose bool) error {
	log, err := logger.New("relay", logger.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Verbose: verbose,
	})
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	tp, err := telemetry.Setup("codlab-server", telemetry.Options{Stdout: cfg.Telemetry.Stdout})
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	j, err := journal.Open(ctx, cfg.Journal)
	if err != nil {
		return fmt.Errorf("opening %s journal: %w", cfg.Journal.Driver, err)
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", cfg.ListenAddr)
	if err != nil {
		_ = j.Close()
		return fmt.Errorf("listening on %s: %w", cfg.ListenAddr, err)
	}

	if cfg.Discovery.Enabled {
		port := ln.Addr().(*net.TCPAddr).Port
		mdns, err := discovery.Advertise(cfg.Discovery.Instance, port, cfg.WSPath, log)
		if err != nil {
			// The relay is still reachable by address.
			log.Warn("mDNS advertisement disabled", zap.Error(err))
		} else {
			defer mdns.Shutdown()
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := relay.NewServer(relay.Options{
		WSPath:                cfg.WSPath,
		WriteTimeout:          cfg.WriteTimeout.Std(),
		MaxInflightBroadcasts: int64(cfg.MaxInflightBroadcasts),
		MaxMessagesPerSecond:  cfg.MaxMessagesPerSecond,
		Journal:               j,
		Logger:                log,
		Tracer:                tp.Tracer("github.com/Eldolfin/codlab/internal/relay"),
		Registry:              reg,
	})
	defer func() {
		if err := srv.Close(); err != nil {
			log.Warn("closing journal", zap.Error(err))
		}
	}()
	log.Info("starting relay", zap.String("version", version), zap.String("journal", cfg.Journal.Driver))

	err = srv.Serve(ctx, ln)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("relay stopped: %w", err)
	}
	log.Info("relay stopped")
	return nil
}
