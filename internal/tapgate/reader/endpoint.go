// Package reader drives the active side of a contactless transaction:
// select the application, pull the identity, decide, record, and push
// the verdict back to the credential device.
package reader

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tapgate/tapgate/internal/tapgate/apdu"
	"github.com/tapgate/tapgate/internal/tapgate/carrier"
	"github.com/tapgate/tapgate/internal/tapgate/decide"
	"github.com/tapgate/tapgate/internal/tapgate/store"
	"github.com/tapgate/tapgate/internal/tapgate/types"
)

// Status is the operator-visible scan state.
type Status int

const (
	StatusScanning Status = iota
	StatusValidating
	StatusShowingResult
	StatusInvalidTag
)

func (s Status) String() string {
	switch s {
	case StatusScanning:
		return "scanning"
	case StatusValidating:
		return "validating"
	case StatusShowingResult:
		return "showing_result"
	case StatusInvalidTag:
		return "invalid_tag"
	default:
		return "unknown"
	}
}

type Config struct {
	// AID selects the emulated access application on the credential.
	AID []byte

	// ControlPointID identifies the passage this reader guards.
	ControlPointID int64

	// ResultTimeout bounds the round trip that delivers the verdict to
	// the credential. Generous on purpose: slow carriers are common and
	// a timeout here cannot undo the recorded decision.
	ResultTimeout time.Duration

	// DisplayDuration is how long the result stays visible before the
	// reader returns to scanning.
	DisplayDuration time.Duration

	// CooldownDuration is how long the transient invalid-tag state is
	// held after an incomplete credential.
	CooldownDuration time.Duration

	// GrantedMessage / DeniedMessage are shown on the credential
	// device. DeniedMessage is prefixed to the deny reason.
	GrantedMessage string

	Logger zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.ResultTimeout <= 0 {
		c.ResultTimeout = 10 * time.Second
	}
	if c.DisplayDuration <= 0 {
		c.DisplayDuration = 5 * time.Second
	}
	if c.CooldownDuration <= 0 {
		c.CooldownDuration = 3 * time.Second
	}
	if c.GrantedMessage == "" {
		c.GrantedMessage = "Access granted"
	}
}

type Endpoint struct {
	cfg      Config
	source   decide.Source
	events   store.EventStore
	logger   zerolog.Logger
	statusCh chan Status
	nudge    func()
}

// New builds a reader. nudge, if non-nil, is called after every
// recorded event to wake the sync coordinator; it must not block.
func New(cfg Config, source decide.Source, events store.EventStore, nudge func()) *Endpoint {
	cfg.applyDefaults()
	return &Endpoint{
		cfg:      cfg,
		source:   source,
		events:   events,
		logger:   cfg.Logger,
		statusCh: make(chan Status, 16),
		nudge:    nudge,
	}
}

// StatusChanges is the operator surface. Sends are non-blocking; an
// undrained channel loses intermediate states, never the transaction.
func (e *Endpoint) StatusChanges() <-chan Status {
	return e.statusCh
}

// Run processes discovered devices one at a time until ctx is done.
// Transactions from different credentials are independent; within one
// transaction the command sequence is strictly ordered.
func (e *Endpoint) Run(ctx context.Context, targets <-chan carrier.Carrier) {
	e.setStatus(StatusScanning)
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-targets:
			if !ok {
				return
			}
			e.HandleTarget(ctx, c)
		}
	}
}

// HandleTarget runs one full transaction against a discovered device.
// It never returns an error: every failure mode is either an expected
// physical event (carrier loss), a rejected tag, or a recorded deny.
func (e *Endpoint) HandleTarget(ctx context.Context, c carrier.Carrier) {
	defer e.setStatus(StatusScanning)

	// Step 1: select. A device that does not acknowledge our AID is not
	// a compatible credential; abandon it silently.
	resp, err := c.Transceive(ctx, apdu.EncodeSelect(e.cfg.AID))
	if err != nil {
		e.logger.Debug().Err(err).Msg("carrier lost during select")
		return
	}
	if !apdu.HasSuccessTrailer(resp) {
		e.logger.Debug().Msg("device refused application select, skipping")
		return
	}

	// Step 2: identity.
	resp, err = c.Transceive(ctx, apdu.EncodeGetData())
	if err != nil {
		e.logger.Debug().Err(err).Msg("carrier lost during get-data")
		return
	}
	payload, ok := apdu.TrimTrailer(resp)
	if !ok {
		e.rejectTag(ctx, "credential refused data request")
		return
	}
	identity, err := apdu.ParseIdentity(payload)
	if err != nil {
		e.rejectTag(ctx, "incomplete credential payload")
		return
	}

	// Step 3: decide.
	e.setStatus(StatusValidating)
	now := time.Now().UTC()
	decision, err := e.source.Decide(ctx, identity, e.cfg.ControlPointID, now)
	if err != nil {
		// Both rule sources failed (e.g. local store error). Fail
		// closed but keep the transaction alive so the holder gets an
		// answer.
		e.logger.Error().Err(err).Msg("decision source failed, denying")
		decision = types.Decision{Granted: false, Reason: "decision unavailable"}
	}

	// Step 4: record. An audit write failure must not prevent the
	// holder from receiving the verdict.
	ev := types.AccessEvent{
		UID:            uuid.NewString(),
		HolderID:       identity.HolderID,
		ControlPointID: e.cfg.ControlPointID,
		OccurredAt:     now,
		Granted:        decision.Granted,
		Reason:         decision.Reason,
	}
	if _, err := e.events.Append(ctx, ev); err != nil {
		e.logger.Error().Err(err).Str("uid", ev.UID).Msg("event append failed")
	} else if e.nudge != nil {
		e.nudge()
	}

	// Step 5: deliver the verdict. The decision is already recorded, so
	// a lost carrier here only costs the visual feedback.
	e.setStatus(StatusShowingResult)
	e.sendResult(ctx, c, decision)

	// Step 6: hold the display, then back to scanning.
	e.logger.Info().
		Int64("holder_id", identity.HolderID).
		Int64("credential_id", identity.CredentialID).
		Bool("granted", decision.Granted).
		Str("reason", decision.Reason).
		Msg("transaction complete")
	sleepCtx(ctx, e.cfg.DisplayDuration)
}

func (e *Endpoint) sendResult(ctx context.Context, c carrier.Carrier, d types.Decision) {
	msg := e.cfg.GrantedMessage
	if !d.Granted {
		msg = "Access denied: " + d.Reason
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.ResultTimeout)
	defer cancel()

	resp, err := c.Transceive(sendCtx, apdu.EncodeResult(d.Granted, msg))
	if err != nil {
		e.logger.Warn().Err(err).Msg("visual feedback not delivered")
		return
	}
	if !apdu.HasSuccessTrailer(resp) {
		e.logger.Warn().Msg("credential did not acknowledge result frame")
	}
}

// rejectTag surfaces the transient invalid-credential state. No event
// is recorded: a tag that cannot present a complete identity never
// reached a policy decision.
func (e *Endpoint) rejectTag(ctx context.Context, why string) {
	e.logger.Warn().Str("why", why).Msg("invalid tag")
	e.setStatus(StatusInvalidTag)
	sleepCtx(ctx, e.cfg.CooldownDuration)
}

func (e *Endpoint) setStatus(s Status) {
	select {
	case e.statusCh <- s:
	default:
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
