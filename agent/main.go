// Command codlab-agent is the bridge an editor starts as its language server.
// It speaks LSP on stdin and stdout and exchanges changes with the relay.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Eldolfin/codlab/internal/bridge"
	"github.com/Eldolfin/codlab/internal/config"
	"github.com/Eldolfin/codlab/internal/discovery"
	"github.com/Eldolfin/codlab/internal/journal"
	"github.com/Eldolfin/codlab/internal/logger"
	"github.com/Eldolfin/codlab/internal/lsp"
	"github.com/Eldolfin/codlab/internal/telemetry"
	"github.com/Eldolfin/codlab/internal/transport"
)

var version = "dev"

type flags struct {
	configPath  string
	relayAddr   string
	journalPath string
	discovery   bool
	unitChanges bool
	verbose     bool
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
		Use:   "codlab-agent",
		Short: "Share the documents of an editor through a codlab relay",
		Long: `Run the codlab bridge as a language server.

Configure your editor to start codlab-agent as a language server. The agent
forwards your edits to the relay and applies the edits of other peers.
Logs go to stderr; stdout carries the LSP stream.

Examples:
  codlab-agent --relay ws://192.168.1.20:7575/ws
  codlab-agent --mdns`,
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
	cmd.Flags().StringVarP(&f.relayAddr, "relay", "r", "", "relay websocket address, overrides relay_addr")
	cmd.Flags().StringVar(&f.journalPath, "journal", "", "bbolt file recording sent and applied changes")
	cmd.Flags().BoolVar(&f.discovery, "mdns", false, "look the relay up over mDNS")
	cmd.Flags().BoolVar(&f.unitChanges, "unit-changes", false, "send one message per character")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("codlab-agent version %s\n", version)
		},
	})
	return cmd
}

// loadConfig applies command line flags on top of the file and environment.
func loadConfig(cmd *cobra.Command, f flags) (config.Bridge, error) {
	cfg, err := config.LoadBridge(f.configPath)
	if err != nil {
		return config.Bridge{}, err
	}
	if cmd.Flags().Changed("relay") {
		cfg.RelayAddr = f.relayAddr
	}
	if cmd.Flags().Changed("journal") {
		cfg.Journal.Path = f.journalPath
	}
	if cmd.Flags().Changed("mdns") {
		cfg.Discovery.Enabled = f.discovery
	}
	if cmd.Flags().Changed("unit-changes") {
		cfg.UnitChanges = f.unitChanges
	}
	if err := cfg.Validate(); err != nil {
		return config.Bridge{}, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.Bridge, verbose bool) error {
	log, err := logger.New("bridge", logger.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Verbose: verbose,
	})
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	tp, err := telemetry.Setup("codlab-agent", telemetry.Options{Stdout: cfg.Telemetry.Stdout})
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	addr, err := relayAddr(ctx, cfg, log)
	if err != nil {
		return err
	}
	conn, err := transport.Dial(ctx, addr, transport.DialOptions{
		Attempts:     cfg.DialAttempts,
		WriteTimeout: cfg.WriteTimeout.Std(),
		Logger:       log,
	})
	if err != nil {
		return err
	}

	var j journal.Journal = journal.Nop{}
	if cfg.Journal.Path != "" {
		bolt, err := journal.OpenBolt(cfg.Journal.Path)
		if err != nil {
			_ = conn.Close()
			return err
		}
		async := journal.NewAsync(bolt, journal.AsyncOptions{
			OnError: func(e journal.Entry, err error) {
				log.Warn("journal record failed", zap.Stringer("change_id", e.ChangeID), zap.Error(err))
			},
		})
		defer async.Close()
		j = async
	}

	b := bridge.New(conn, bridge.Options{
		EchoTimeout: cfg.EchoTimeout.Std(),
		OutboxSize:  cfg.OutboxSize,
		UnitChanges: cfg.UnitChanges,
		Journal:     j,
		Logger:      log,
		Tracer:      tp.Tracer("github.com/Eldolfin/codlab/internal/bridge"),
	})
	srv := lsp.NewServer(lsp.NewReadWriteCloser(os.Stdin, os.Stdout), b, log, version)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		return b.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, bridge.ErrApplyRejected) {
			log.Error("documents diverged from the other peers, reopen them to resync", zap.Error(err))
		}
		return err
	}
	log.Info("bridge stopped")
	return nil
}

// relayAddr returns the configured relay address, or the first relay found
// over mDNS when discovery is enabled.
func relayAddr(ctx context.Context, cfg config.Bridge, log *zap.Logger) (string, error) {
	if !cfg.Discovery.Enabled {
		return cfg.RelayAddr, nil
	}
	lookupCtx, cancel := context.WithTimeout(ctx, cfg.Discovery.Timeout.Std())
	defer cancel()
	addr, err := discovery.Lookup(lookupCtx, log)
	if err == nil {
		return addr, nil
	}
	if cfg.RelayAddr == "" {
		return "", err
	}
	log.Warn("mDNS lookup failed, using relay_addr", zap.String("relay_addr", cfg.RelayAddr), zap.Error(err))
	return cfg.RelayAddr, nil
}
