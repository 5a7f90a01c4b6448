// Package decide composes the pure policy engine with its two rule
// sources: the authority (online) and the local cache (offline). The
// reader only sees the Source interface.
package decide

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tapgate/tapgate/internal/tapgate/policy"
	"github.com/tapgate/tapgate/internal/tapgate/store"
	"github.com/tapgate/tapgate/internal/tapgate/types"
)

// Source produces a decision for one identity at one control point.
type Source interface {
	Decide(ctx context.Context, id types.Identity, controlPointID int64, now time.Time) (types.Decision, error)
}

// Validator is the slice of the authority client the online source
// needs.
type Validator interface {
	Validate(ctx context.Context, holderID, controlPointID int64) (types.Decision, error)
}

// Online delegates to the authority's validate endpoint.
type Online struct {
	authority Validator
}

func NewOnline(v Validator) *Online {
	return &Online{authority: v}
}

func (o *Online) Decide(ctx context.Context, id types.Identity, controlPointID int64, _ time.Time) (types.Decision, error) {
	return o.authority.Validate(ctx, id.HolderID, controlPointID)
}

// Offline evaluates the locally cached rule projection.
type Offline struct {
	cache store.RuleCache
}

func NewOffline(cache store.RuleCache) *Offline {
	return &Offline{cache: cache}
}

func (o *Offline) Decide(ctx context.Context, id types.Identity, controlPointID int64, now time.Time) (types.Decision, error) {
	rules, err := o.cache.Lookup(ctx, id.HolderID, controlPointID)
	if err != nil {
		return types.Decision{}, err
	}
	return policy.EvaluateCached(rules, now), nil
}

// Fallback consults Primary and, if it fails, falls back to Secondary
// for the same transaction. Connectivity loss is an expected condition
// here, so the failure is logged once at info level rather than
// propagated.
type Fallback struct {
	Primary   Source
	Secondary Source
	Logger    zerolog.Logger
}

func (f *Fallback) Decide(ctx context.Context, id types.Identity, controlPointID int64, now time.Time) (types.Decision, error) {
	d, err := f.Primary.Decide(ctx, id, controlPointID, now)
	if err == nil {
		return d, nil
	}

	f.Logger.Info().Err(err).
		Int64("holder_id", id.HolderID).
		Int64("control_point_id", controlPointID).
		Msg("authority unreachable, deciding offline")

	return f.Secondary.Decide(ctx, id, controlPointID, now)
}
