package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/tapgate/tapgate/internal/authority"
	"github.com/tapgate/tapgate/internal/config"
	"github.com/tapgate/tapgate/internal/db"
	"github.com/tapgate/tapgate/internal/tapgate/carrier"
	"github.com/tapgate/tapgate/internal/tapgate/decide"
	"github.com/tapgate/tapgate/internal/tapgate/reader"
	sqlitestore "github.com/tapgate/tapgate/internal/tapgate/store/sqlite"
	"github.com/tapgate/tapgate/internal/tapgate/syncer"
	"github.com/tapgate/tapgate/internal/tapgate/types"
)

func main() {
	// .env is optional; env vars set any other way win regardless.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("config")
	}

	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer conn.Close()

	if cfg.Env == "dev" {
		if err := db.SeedDev(ctx, conn, db.SeedDevOptions{
			HolderID:       cfg.HolderID,
			ControlPointID: cfg.ControlPointID,
		}); err != nil {
			logger.Warn().Err(err).Msg("dev seed failed")
		}
	}

	writer := db.NewWorker(conn)
	defer writer.Close()

	ruleCache := sqlitestore.NewRuleCache(conn, writer)
	eventStore := sqlitestore.NewEventStore(conn, writer)

	client := authority.NewClient(cfg.AuthorityURL, cfg.AuthorityTimeoutDuration(),
		logger.With().Str("component", "authority").Logger())

	source := &decide.Fallback{
		Primary:   decide.NewOnline(client),
		Secondary: decide.NewOffline(ruleCache),
		Logger:    logger.With().Str("component", "decide").Logger(),
	}

	coord := syncer.New(syncer.Config{
		HolderID:        cfg.HolderID,
		Interval:        cfg.SyncInterval(),
		MaxPushAttempts: cfg.PushRetryLimit,
		Logger:          logger.With().Str("component", "syncer").Logger(),
	}, client, ruleCache, eventStore)
	go coord.Run(ctx)

	monitor := syncer.NewConnectivityMonitor(client, syncer.MonitorConfig{
		Interval: cfg.ProbeInterval(),
	}, coord.TriggerSync, logger.With().Str("component", "monitor").Logger())
	monitor.Start(ctx)
	defer monitor.Stop()

	rd := reader.New(reader.Config{
		AID:              cfg.AID(),
		ControlPointID:   cfg.ControlPointID,
		ResultTimeout:    cfg.ResultTimeout(),
		DisplayDuration:  cfg.DisplayDuration(),
		CooldownDuration: cfg.Cooldown(),
		Logger:           logger.With().Str("component", "reader").Logger(),
	}, source, eventStore, coord.TriggerSync)

	go func() {
		for s := range rd.StatusChanges() {
			logger.Debug().Str("status", s.String()).Msg("reader state")
		}
	}()

	targets := targetSource(ctx, cfg, logger)

	logger.Info().
		Int64("control_point_id", cfg.ControlPointID).
		Str("authority", cfg.AuthorityURL).
		Str("db", cfg.DBPath).
		Msg("tapgated running")

	rd.Run(ctx, targets)

	// Give the writer a moment to drain queued audit writes.
	time.Sleep(100 * time.Millisecond)
	logger.Info().Msg("tapgated stopped")
}

// targetSource attaches the carrier adapter. With TAPGATE_SIM_TAPS set
// (comma-separated "credential:holder" pairs) a simulated tap source is
// used; otherwise the channel stays open for a hardware adapter to feed
// and the daemon idles on sync duty.
func targetSource(ctx context.Context, cfg config.Config, logger zerolog.Logger) <-chan carrier.Carrier {
	spec := strings.TrimSpace(os.Getenv("TAPGATE_SIM_TAPS"))
	if spec == "" {
		logger.Info().Msg("no carrier adapter configured, sync-only mode")
		return make(chan carrier.Carrier)
	}

	var ids []types.Identity
	for _, pair := range strings.Split(spec, ",") {
		credStr, holderStr, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			logger.Warn().Str("pair", pair).Msg("sim tap ignored, want credential:holder")
			continue
		}
		credID, err1 := strconv.ParseInt(credStr, 10, 64)
		holderID, err2 := strconv.ParseInt(holderStr, 10, 64)
		if err1 != nil || err2 != nil {
			logger.Warn().Str("pair", pair).Msg("sim tap ignored, non-numeric id")
			continue
		}
		ids = append(ids, types.Identity{CredentialID: credID, HolderID: holderID})
	}

	interval := time.Duration(getenvInt("TAPGATE_SIM_INTERVAL_S", 10)) * time.Second
	logger.Info().Int("taps", len(ids)).Dur("interval", interval).Msg("simulated tap source active")
	return carrier.Simulate(ctx, cfg.AID(), ids, interval,
		logger.With().Str("component", "sim").Logger())
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).
		With().Timestamp().Logger()
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
