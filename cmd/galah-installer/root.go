package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/galah-group/galah-installer/internal/config"
	"github.com/galah-group/galah-installer/internal/logging"
	"github.com/galah-group/galah-installer/internal/platform"
	"github.com/galah-group/galah-installer/internal/service"
	"github.com/galah-group/galah-installer/internal/signature"
	"github.com/galah-group/galah-installer/internal/state"
	"github.com/galah-group/galah-installer/internal/transfer"
)

// rootOptions holds the global flags and the logger built from them.
type rootOptions struct {
	configPath string
	verbose    bool

	logger logging.Logger
	sync   func() error
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{logger: logging.Nop()}

	cmd := &cobra.Command{
		Use:           "galah-installer",
		Short:         "Fetch and verify signed galah updates",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, sync, err := logging.New(opts.verbose)
			if err != nil {
				return fmt.Errorf("initialize logging: %w", err)
			}
			opts.logger, opts.sync = logger, sync
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.sync != nil {
				_ = opts.sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to galah.lua (default $GALAH_CONFIG or the user config directory)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newPlanCmd(opts),
		newFetchCmd(opts),
		newSignCmd(opts),
		newVerifyCmd(opts),
		newKeygenCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// installer bundles what the plan and fetch commands share.
type installer struct {
	cfg   *config.Config
	key   signature.KeyMaterial
	plans *service.PlanService
}

// loadInstaller reads the config and the release key and wires the plan
// service against the configured server.
func loadInstaller(ctx context.Context, opts *rootOptions) (*installer, error) {
	path := opts.configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}

	cfg, err := config.NewParser(platform.NewDetector(), opts.logger).ParseFile(ctx, path)
	if err != nil {
		return nil, err
	}

	key, err := signature.LoadKey(cfg.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("load public key: %w", err)
	}
	key = key.Public()

	downloads := filepath.Join(cfg.CacheDir, ".downloads")
	if err := os.MkdirAll(downloads, 0o700); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}

	idx := &service.RemoteIndex{
		Pipeline: transfer.NewPipeline(transfer.Options{TempDir: downloads, Logger: opts.logger}),
		Server:   cfg.Server,
		Key:      key,
		Timeout:  cfg.Timeout,
		MaxSize:  cfg.MaxIndexSize,
	}
	store := state.NewStore(cfg.StateDir, opts.logger)

	return &installer{
		cfg:   cfg,
		key:   key,
		plans: service.NewPlanService(idx, store, opts.logger),
	}, nil
}
