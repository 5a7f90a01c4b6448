// Package syncer reconciles the local device state with the authority:
// it pulls fresh rules into the offline cache, replaces local event
// history with the authoritative record, and pushes events that were
// created while offline.
package syncer

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tapgate/tapgate/internal/tapgate/store"
	"github.com/tapgate/tapgate/internal/tapgate/types"
)

// AuthorityAPI is the slice of the authority client the coordinator
// uses.
type AuthorityAPI interface {
	FetchRules(ctx context.Context, holderID int64) ([]types.CachedRule, error)
	FetchEvents(ctx context.Context, holderID int64) ([]types.AccessEvent, error)
	PushEvent(ctx context.Context, ev types.AccessEvent) (int64, error)
}

type Config struct {
	// HolderID scopes this device's sync: rules and history are pulled
	// for the holder the device is provisioned for.
	HolderID int64

	// Interval between periodic sync cycles. Defaults to 5 minutes.
	Interval time.Duration

	// MaxPushAttempts bounds how often one event is retried before it
	// is left to the history pull to resolve. Defaults to 10.
	MaxPushAttempts int

	Logger zerolog.Logger
}

type Coordinator struct {
	cfg       Config
	authority AuthorityAPI
	rules     store.RuleCache
	events    store.EventStore
	logger    zerolog.Logger
	trigger   chan struct{}
}

func New(cfg Config, authority AuthorityAPI, rules store.RuleCache, events store.EventStore) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.MaxPushAttempts <= 0 {
		cfg.MaxPushAttempts = 10
	}
	return &Coordinator{
		cfg:       cfg,
		authority: authority,
		rules:     rules,
		events:    events,
		logger:    cfg.Logger,
		trigger:   make(chan struct{}, 1),
	}
}

// TriggerSync requests a sync cycle. Non-blocking; a cycle already
// pending absorbs further triggers.
func (c *Coordinator) TriggerSync() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run executes sync cycles until ctx is done: once immediately, then on
// every trigger and on the periodic ticker.
func (c *Coordinator) Run(ctx context.Context) {
	c.SyncOnce(ctx)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.trigger:
			c.SyncOnce(ctx)
		case <-ticker.C:
			c.SyncOnce(ctx)
		}
	}
}

// SyncOnce runs one full cycle: rules pull, history reconcile, event
// push. Pull failures end the cycle early (the authority is simply not
// reachable); push failures are per-event and tolerated.
func (c *Coordinator) SyncOnce(ctx context.Context) {
	holder := c.cfg.HolderID

	rules, err := c.authority.FetchRules(ctx, holder)
	if err != nil {
		c.logger.Info().Err(err).Msg("rule pull failed, staying on cached rules")
		return
	}
	if err := c.rules.ReplaceAll(ctx, rules); err != nil {
		c.logger.Error().Err(err).Msg("rule cache replace failed")
		return
	}
	c.logger.Debug().Int("rules", len(rules)).Msg("rule cache replaced")

	history, err := c.authority.FetchEvents(ctx, holder)
	if err != nil {
		c.logger.Info().Err(err).Msg("history pull failed, keeping local events")
		return
	}
	if err := c.events.ReplaceAllFor(ctx, holder, history); err != nil {
		c.logger.Error().Err(err).Msg("event history replace failed")
		return
	}
	c.logger.Debug().Int("events", len(history)).Msg("event history reconciled")

	// Whatever survived the reconcile was created while no coordinator
	// was running (or raced this cycle); push it now. A push racing the
	// pull above cannot duplicate rows: the authority dedups on uid and
	// the next reconcile folds the row back in.
	c.pushUnsynced(ctx, holder)
}

func (c *Coordinator) pushUnsynced(ctx context.Context, holder int64) {
	pending, err := c.events.UnsyncedFor(ctx, holder, c.cfg.MaxPushAttempts)
	if err != nil {
		c.logger.Error().Err(err).Msg("unsynced listing failed")
		return
	}

	for _, ev := range pending {
		backendID, err := c.authority.PushEvent(ctx, ev)
		if err != nil {
			// Left unsynced; retried next cycle until the attempt
			// bound, then only the history pull can resolve it.
			c.logger.Warn().Err(err).Str("uid", ev.UID).
				Int("attempts", ev.SyncAttempts+1).
				Msg("event push failed")
			if err := c.events.MarkPushFailed(ctx, ev.ID); err != nil {
				c.logger.Error().Err(err).Str("uid", ev.UID).Msg("attempt bump failed")
			}
			continue
		}
		if err := c.events.MarkSynced(ctx, ev.ID, backendID); err != nil {
			c.logger.Error().Err(err).Str("uid", ev.UID).Msg("synced mark failed")
		}
	}
}
