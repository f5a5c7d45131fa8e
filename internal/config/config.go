package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DoyleJ11/pixel-board-backend/internal/board"
	"github.com/DoyleJ11/pixel-board-backend/internal/lockauth"
	"github.com/DoyleJ11/pixel-board-backend/internal/palette"
	"github.com/DoyleJ11/pixel-board-backend/internal/store"
	"github.com/DoyleJ11/pixel-board-backend/internal/tile"
)

type Config struct {
	Addr           string
	LogLevel       zapcore.Level
	DevLog         bool
	Store          store.Config
	Locks          lockauth.Config
	Bucket         lockauth.BucketConfig // zero Capacity disables the edit allowance
	Board          board.Config
	Background     string // optional image path
	Moderators     []uint16
	PingInterval   time.Duration
	OriginPatterns []string
}

func Default() Config {
	return Config{
		Addr:     ":8080",
		LogLevel: zapcore.InfoLevel,
		Store:    store.Config{Driver: store.DriverBolt, Path: "pixelboard.db"},
		Locks:    lockauth.Config{Driver: lockauth.DriverMemory, TTL: lockauth.DefaultTTL},
		Bucket:   lockauth.DefaultBucket,
		Board: board.Config{
			Rows:     8,
			Cols:     8,
			Palette:  palette.Default(),
			Bounds:   tile.ClipToTile,
			MaxEdits: tile.DefaultMaxEdits,
		},
		PingInterval: 30 * time.Second,
	}
}

// LoadDotEnv reads .env style files into the environment. Missing files are
// skipped; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// FromEnv reads the configuration from the process environment.
func FromEnv() (Config, error) {
	return Parse(os.Getenv)
}

// Parse builds a Config from getenv, starting from Default. Every bad
// variable is reported.
func Parse(getenv func(string) string) (Config, error) {
	c := Default()
	var errs error
	set := func(key string, fn func(string) error) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		if err := fn(v); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s=%q: %w", key, v, err))
		}
	}

	set("ADDR", func(v string) error { c.Addr = v; return nil })
	set("LOG_LEVEL", func(v string) error {
		l, err := zapcore.ParseLevel(v)
		c.LogLevel = l
		return err
	})
	set("LOG_DEV", func(v string) (err error) { c.DevLog, err = strconv.ParseBool(v); return })

	set("STORE_DRIVER", func(v string) error { c.Store.Driver = v; return oneOf(v, store.DriverMemory, store.DriverBolt, store.DriverPostgres) })
	set("DATA_PATH", func(v string) error { c.Store.Path = v; return nil })
	set("DATABASE_URL", func(v string) error { c.Store.DatabaseURL = v; return nil })

	set("LOCK_DRIVER", func(v string) error { c.Locks.Driver = v; return oneOf(v, lockauth.DriverMemory, lockauth.DriverRedis) })
	set("REDIS_ADDR", func(v string) error { c.Locks.RedisAddr = v; return nil })
	set("LOCK_TIMEOUT", func(v string) (err error) { c.Locks.TTL, err = positiveDuration(v); return })
	set("EDIT_BUCKET_CAPACITY", func(v string) (err error) { c.Bucket.Capacity, err = intIn(v, 0, 1<<16); return })
	set("EDIT_BUCKET_REFILL", func(v string) (err error) { c.Bucket.Refill, err = positiveDuration(v); return })

	set("BOARD_ROWS", func(v string) (err error) { c.Board.Rows, err = intIn(v, 1, 16); return })
	set("BOARD_COLS", func(v string) (err error) { c.Board.Cols, err = intIn(v, 1, 16); return })
	set("PALETTE", func(v string) (err error) { c.Board.Palette, err = palette.ParseHex(strings.Split(v, ",")); return })
	set("BOUNDS", func(v string) error {
		switch v {
		case "clip":
			c.Board.Bounds = tile.ClipToTile
		case "legacy":
			c.Board.Bounds = tile.LegacyEdge
		default:
			return errors.New("want clip or legacy")
		}
		return nil
	})
	set("MAX_EDITS", func(v string) (err error) { c.Board.MaxEdits, err = intIn(v, 1, tile.DefaultMaxEdits); return })
	set("PLAYBACK_SPEED", func(v string) (err error) { c.Board.Speed, err = intIn(v, 1, 64); return })
	set("BACKGROUND", func(v string) error { c.Background = v; return nil })

	set("MODERATORS", func(v string) error {
		c.Moderators = nil
		for _, s := range strings.Split(v, ",") {
			id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
			if err != nil || id == 0 {
				return fmt.Errorf("bad user id %q", s)
			}
			c.Moderators = append(c.Moderators, uint16(id))
		}
		return nil
	})
	set("PING_INTERVAL", func(v string) (err error) { c.PingInterval, err = time.ParseDuration(v); return })
	set("ORIGIN_PATTERNS", func(v string) error { c.OriginPatterns = strings.Split(v, ","); return nil })

	return c, errs
}

// Logger builds the process logger.
func (c Config) Logger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.DevLog {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(c.LogLevel)
	return zc.Build()
}

func oneOf(v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("want one of %s", strings.Join(allowed, ", "))
}

func intIn(v string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("out of range [%d, %d]", lo, hi)
	}
	return n, nil
}

func positiveDuration(v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("must be positive")
	}
	return d, nil
}
