package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/weasel/comparator/internal/artifact"
	"github.com/weasel/comparator/internal/comparator"
	"github.com/weasel/comparator/internal/config"
	"github.com/weasel/comparator/internal/platform"
	"github.com/weasel/comparator/internal/server"
	"github.com/weasel/comparator/pkg/log"
	"github.com/weasel/comparator/pkg/version"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:          "run",
	Short:        "Run the comparator service",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		logger, err := log.InitLog(zap.NewAtomicLevelAt(cfg.Level()), cfg.LogFile())
		if err != nil {
			return fmt.Errorf("initializing logs: %w", err)
		}
		defer func() { _ = logger.Sync() }()

		undo := zap.ReplaceGlobals(logger)
		defer undo()

		zap.S().Infof("starting comparator %s", version.Get())
		zap.S().Infof("using config: %s", cfg)
		defer zap.S().Info("comparator stopped")

		store, err := newStore(cfg)
		if err != nil {
			zap.S().Errorf("initializing artifact store: %v", err)
			return err
		}

		client, err := platform.NewFromConfig(platform.Config{
			Server:  cfg.APIURL,
			Timeout: cfg.RequestTimeout.Duration,
		})
		if err != nil {
			zap.S().Errorf("initializing platform client: %v", err)
			return err
		}
		interceptor := platform.NewInterceptor(client)

		srv := comparator.New(cfg, interceptor, artifact.NewLoader(store))

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		if cfg.StatusAddress != "" {
			statusServer := server.New(cfg.StatusAddress, srv, interceptor)
			go func() {
				if err := statusServer.Run(ctx); err != nil {
					zap.S().Named("status_server").Errorf("failed to run status server: %v", err)
				}
			}()
		}

		if err := srv.Start(ctx); err != nil {
			return exitError(ctx, err)
		}
		return exitError(ctx, srv.Run(ctx))
	},
}

func init() {
	config.BindFlags(runCmd.Flags())
}

// exitError drops the error caused by a termination signal.
func exitError(ctx context.Context, err error) error {
	if err == nil || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
		return nil
	}
	zap.S().Errorf("comparator failed: %v", err)
	return err
}

func newStore(cfg config.Config) (artifact.Store, error) {
	if !cfg.ObjectStore.Enabled() {
		return artifact.NewFileStore(cfg.StorageRoot()), nil
	}
	return artifact.NewObjectStore(
		artifact.WithEndpoint(cfg.ObjectStore.Endpoint),
		artifact.WithBucket(cfg.ObjectStore.Bucket),
		artifact.WithPrefix(cfg.StorageRoot()),
		artifact.WithAccessKey(cfg.ObjectStore.AccessKey),
		artifact.WithSecretKey(cfg.ObjectStore.SecretKey),
		artifact.WithSSL(cfg.ObjectStore.UseSSL),
	)
}
