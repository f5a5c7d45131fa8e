package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/pixel-board-backend/internal/board"
	"github.com/DoyleJ11/pixel-board-backend/internal/config"
	"github.com/DoyleJ11/pixel-board-backend/internal/httpapi"
	"github.com/DoyleJ11/pixel-board-backend/internal/hub"
	"github.com/DoyleJ11/pixel-board-backend/internal/lockauth"
	"github.com/DoyleJ11/pixel-board-backend/internal/store"
	"github.com/DoyleJ11/pixel-board-backend/internal/ws"
)

const shutdownTimeout = 10 * time.Second

// loadConfig reads dotenv files and the environment, then applies global
// flag overrides.
func loadConfig(c *cli.Context) (config.Config, *zap.Logger, error) {
	if err := config.LoadDotEnv(c.StringSlice("env-file")...); err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, nil, err
	}
	if lvl := c.String("log-level"); lvl != "" {
		l, err := zapcore.ParseLevel(lvl)
		if err != nil {
			return config.Config{}, nil, err
		}
		cfg.LogLevel = l
	}
	log, err := cfg.Logger()
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

// loadBackground decodes the configured background image, if any.
func loadBackground(cfg *config.Config) error {
	if cfg.Background == "" {
		return nil
	}
	f, err := os.Open(cfg.Background)
	if err != nil {
		return err
	}
	defer f.Close()
	img, err := board.DecodeImage(f)
	if err != nil {
		return err
	}
	cfg.Board.Background = img
	return nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the board server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "override ADDR"},
		},
		Action: func(c *cli.Context) error {
			cfg, log, err := loadConfig(c)
			if err != nil {
				return cli.Exit(err, 1)
			}
			defer log.Sync()
			if a := c.String("addr"); a != "" {
				cfg.Addr = a
			}
			if err := loadBackground(&cfg); err != nil {
				return cli.Exit(fmt.Errorf("background: %w", err), 1)
			}
			if err := serve(c.Context, cfg, log); err != nil {
				log.Error("server stopped", zap.Error(err))
				return cli.Exit(err, 1)
			}
			return nil
		},
	}
}

func serve(parent context.Context, cfg config.Config, log *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	locks, err := lockauth.Open(ctx, cfg.Locks)
	if err != nil {
		return fmt.Errorf("open lock authority: %w", err)
	}
	defer func() { err = multierr.Append(err, locks.Close()) }()
	if cfg.Bucket.Capacity > 0 {
		locks = lockauth.WithBuckets(locks, cfg.Bucket)
	}

	h := hub.NewHub(ctx, hub.Config{
		Board:      cfg.Board,
		Store:      st,
		Locks:      locks,
		Logger:     log,
		Moderators: cfg.Moderators,
	})
	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.SetupRoutes(h, st, ws.Options{
			Logger:         log,
			PingInterval:   cfg.PingInterval,
			OriginPatterns: cfg.OriginPatterns,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening",
			zap.String("addr", cfg.Addr),
			zap.String("store", cfg.Store.Driver),
			zap.String("locks", cfg.Locks.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		select {
		case h.Inbox() <- hub.ShutdownHub{}:
		case <-h.Done():
		}
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
