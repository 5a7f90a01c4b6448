// tapgatectl is the operator CLI for a tapgate reader device: simulate
// a tap end to end, force a sync cycle, and inspect the local stores.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tapgate/tapgate/internal/authority"
	"github.com/tapgate/tapgate/internal/config"
	"github.com/tapgate/tapgate/internal/db"
	"github.com/tapgate/tapgate/internal/tapgate/carrier"
	"github.com/tapgate/tapgate/internal/tapgate/credential"
	"github.com/tapgate/tapgate/internal/tapgate/decide"
	"github.com/tapgate/tapgate/internal/tapgate/reader"
	sqlitestore "github.com/tapgate/tapgate/internal/tapgate/store/sqlite"
	"github.com/tapgate/tapgate/internal/tapgate/syncer"
	"github.com/tapgate/tapgate/internal/tapgate/types"
)

type deviceEnv struct {
	cfg       config.Config
	logger    zerolog.Logger
	ruleCache *sqlitestore.RuleCache
	events    *sqlitestore.EventStore
	client    *authority.Client
	close     func()
}

func openDevice(ctx context.Context) (*deviceEnv, error) {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.WarnLevel).With().Timestamp().Logger()

	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	writer := db.NewWorker(conn)

	return &deviceEnv{
		cfg:       cfg,
		logger:    logger,
		ruleCache: sqlitestore.NewRuleCache(conn, writer),
		events:    sqlitestore.NewEventStore(conn, writer),
		client:    authority.NewClient(cfg.AuthorityURL, cfg.AuthorityTimeoutDuration(), logger),
		close: func() {
			writer.Close()
			conn.Close()
		},
	}, nil
}

func main() {
	root := &cobra.Command{
		Use:           "tapgatectl",
		Short:         "Operate and inspect a tapgate reader device",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(tapCmd(), syncCmd(), eventsCmd(), rulesCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func tapCmd() *cobra.Command {
	var credentialID, holderID int64

	cmd := &cobra.Command{
		Use:   "tap",
		Short: "Run one full transaction through an in-process credential",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			dev, err := openDevice(ctx)
			if err != nil {
				return err
			}
			defer dev.close()

			source := &decide.Fallback{
				Primary:   decide.NewOnline(dev.client),
				Secondary: decide.NewOffline(dev.ruleCache),
				Logger:    dev.logger,
			}

			rd := reader.New(reader.Config{
				AID:              dev.cfg.AID(),
				ControlPointID:   dev.cfg.ControlPointID,
				ResultTimeout:    dev.cfg.ResultTimeout(),
				DisplayDuration:  time.Millisecond, // no operator display here
				CooldownDuration: time.Millisecond,
				Logger:           dev.logger,
			}, source, dev.events, nil)

			cred := credential.New(credential.Config{
				AID:      dev.cfg.AID(),
				Identity: &types.Identity{CredentialID: credentialID, HolderID: holderID},
				Logger:   dev.logger,
			})

			rd.HandleTarget(ctx, carrier.NewLoopback(cred))

			select {
			case n := <-cred.Decisions():
				verdict := "DENIED"
				if n.Granted {
					verdict = "GRANTED"
				}
				fmt.Printf("%s  %s\n", verdict, n.Message)
			default:
				fmt.Println("REJECTED  credential not recognized")
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&credentialID, "credential", 1, "credential id to present")
	cmd.Flags().Int64Var(&holderID, "holder", 1, "holder id to present")
	return cmd
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle against the authority",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			dev, err := openDevice(ctx)
			if err != nil {
				return err
			}
			defer dev.close()

			coord := syncer.New(syncer.Config{
				HolderID:        dev.cfg.HolderID,
				MaxPushAttempts: dev.cfg.PushRetryLimit,
				Logger:          dev.logger,
			}, dev.client, dev.ruleCache, dev.events)

			coord.SyncOnce(ctx)

			pending, err := dev.events.UnsyncedFor(ctx, dev.cfg.HolderID, 0)
			if err != nil {
				return err
			}
			fmt.Printf("sync complete, %d event(s) still unsynced\n", len(pending))
			return nil
		},
	}
}

func eventsCmd() *cobra.Command {
	var unsyncedOnly bool
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List locally recorded access events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			dev, err := openDevice(ctx)
			if err != nil {
				return err
			}
			defer dev.close()

			var events []types.AccessEvent
			if unsyncedOnly {
				events, err = dev.events.UnsyncedFor(ctx, dev.cfg.HolderID, 0)
			} else {
				events, err = dev.events.EventsFor(ctx, dev.cfg.HolderID, limit)
			}
			if err != nil {
				return err
			}

			for _, ev := range events {
				verdict := "deny"
				if ev.Granted {
					verdict = "grant"
				}
				sync := "unsynced"
				if ev.Synced {
					sync = "synced"
				}
				fmt.Printf("%6d  %s  %-5s  cp=%d  %-8s  %s\n",
					ev.ID, ev.OccurredAt.Format(time.RFC3339), verdict,
					ev.ControlPointID, sync, ev.Reason)
			}
			fmt.Printf("%d event(s)\n", len(events))
			return nil
		},
	}

	cmd.Flags().BoolVar(&unsyncedOnly, "unsynced", false, "only events not yet accepted by the authority")
	cmd.Flags().IntVar(&limit, "limit", 50, "max events to list")
	return cmd
}

func rulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List cached offline rules for this device's holder",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			dev, err := openDevice(ctx)
			if err != nil {
				return err
			}
			defer dev.close()

			rules, err := dev.ruleCache.Lookup(ctx, dev.cfg.HolderID, dev.cfg.ControlPointID)
			if err != nil {
				return err
			}

			for _, r := range rules {
				fmt.Printf("days=%v  %02d:%02d-%02d:%02d  synced=%s\n",
					r.AllowedDays.Days(),
					r.Start/60, r.Start%60, r.End/60, r.End%60,
					r.LastSyncedAt.Format(time.RFC3339))
			}
			fmt.Printf("%d rule(s)\n", len(rules))
			return nil
		},
	}
}
