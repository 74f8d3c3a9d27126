package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	router "github.com/dkeye/collab/internal/adapters/http"
	gateway "github.com/dkeye/collab/internal/adapters/signal"
	"github.com/dkeye/collab/internal/app"
	"github.com/dkeye/collab/internal/app/dirsync"
	"github.com/dkeye/collab/internal/app/orch"
	"github.com/dkeye/collab/internal/app/relay"
	"github.com/dkeye/collab/internal/auth"
	"github.com/dkeye/collab/internal/config"
	"github.com/dkeye/collab/internal/domain"
	"github.com/dkeye/collab/internal/storage/sqlite"
	"github.com/dkeye/collab/internal/tree"
)

func main() {
	var configFile string

	root := &cobra.Command{
		Use:           "collabd",
		Short:         "Real-time sync server for shared documents and project trees",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configFile)
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (default config/config.$CONFIG_ENV.yaml)")

	var (
		subject string
		name    string
		ttl     time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue-token",
		Short: "Sign a bearer token with the configured secret, for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			v, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.CacheSize)
			if err != nil {
				return err
			}
			if !v.Enabled() {
				return errors.New("auth.jwt_secret is empty")
			}
			tok, err := v.Issue(domain.UserID(subject), name, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	issue.Flags().StringVar(&subject, "sub", "", "user id")
	issue.Flags().StringVar(&name, "name", "", "display name")
	issue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = issue.MarkFlagRequired("sub")
	root.AddCommand(issue)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("collabd failed")
		os.Exit(1)
	}
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if cfg.File != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		})
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

func openPersister(ctx context.Context, path string) (tree.Persister, func(), error) {
	if path == "" {
		log.Warn().Msg("storage.path is empty, trees live in memory only")
		return nil, func() {}, nil
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, err
		}
	}
	st, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("closing storage")
		}
	}
	return st, closeFn, nil
}

func serve(ctx context.Context, configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	persist, closeStore, err := openPersister(ctx, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer closeStore()

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.CacheSize)
	if err != nil {
		return err
	}
	if !verifier.Enabled() {
		log.Warn().Msg("auth.jwt_secret is empty, connections are admitted as guests")
	}

	o := orch.New(app.PolicyByName(cfg.Gateway.Backpressure))
	trees := tree.NewManager(persist)
	dirs := dirsync.NewController(trees, o)
	o.OnRoomClosed(dirs.Release)
	ctl := gateway.NewSignalWSController(
		o,
		relay.New(o, relay.FrameMode(cfg.Relay.DeltaFrame)),
		dirs,
		verifier,
		gateway.Options{
			ReadLimit:      cfg.Gateway.ReadLimit,
			PingPeriod:     cfg.Gateway.PingPeriod,
			WriteTimeout:   cfg.Gateway.WriteTimeout,
			SendQueue:      cfg.Gateway.SendQueue,
			ActionLimit:    cfg.Gateway.ActionLimit,
			ActionWindow:   cfg.Gateway.ActionWindow,
			AllowedOrigins: cfg.Gateway.AllowedOrigin,
		},
	)

	r := router.SetupRouter(ctx, cfg, router.Deps{Orch: o, Gateway: ctl, Trees: trees, Auth: verifier})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("collab server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return ctl.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
