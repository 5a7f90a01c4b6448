// Package credential implements the passive side of a contactless
// transaction: the device emulating an access card. The hardware layer
// delivers raw frames to ProcessCommand on whatever goroutine it likes;
// the endpoint serializes them itself and never blocks.
package credential

import (
	"bytes"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tapgate/tapgate/internal/tapgate/apdu"
	"github.com/tapgate/tapgate/internal/tapgate/types"
)

// State is the per-session protocol position.
type State int

const (
	StateIdle State = iota
	StateSelected
	StateDataSent
	StateResultReceived
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelected:
		return "selected"
	case StateDataSent:
		return "data_sent"
	case StateResultReceived:
		return "result_received"
	default:
		return "unknown"
	}
}

// DecisionNotice is raised when the reader pushes its verdict back to
// this device.
type DecisionNotice struct {
	Granted bool
	Message string
	At      time.Time
}

// Config is injected per instance; there is no process-global identity.
type Config struct {
	// AID is the application identifier this endpoint answers to.
	AID []byte

	// Identity is the credential to present. Nil means not yet
	// configured by the operator; get-data is refused until it is set.
	Identity *types.Identity

	Logger zerolog.Logger
}

type Endpoint struct {
	mu       sync.Mutex
	state    State
	aid      []byte
	identity *types.Identity
	logger   zerolog.Logger

	decisions chan DecisionNotice
}

func New(cfg Config) *Endpoint {
	return &Endpoint{
		state:     StateIdle,
		aid:       cfg.AID,
		identity:  cfg.Identity,
		logger:    cfg.Logger,
		decisions: make(chan DecisionNotice, 8),
	}
}

// Decisions is the channel decision notices are delivered on. Sends are
// non-blocking; if nobody is draining it, the oldest notices are lost
// and a warning is logged.
func (e *Endpoint) Decisions() <-chan DecisionNotice {
	return e.decisions
}

// SetIdentity installs or replaces the presented identity. Operator
// configuration; takes effect on the next get-data.
func (e *Endpoint) SetIdentity(id types.Identity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.identity = &id
}

// State returns the current session state. Mainly for tests.
func (e *Endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ProcessCommand handles one inbound frame and returns the response
// bytes. It never blocks and never returns an error: protocol problems
// are answered with the Unknown response on the wire.
func (e *Endpoint) ProcessCommand(buf []byte) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	cmd := apdu.Decode(buf)

	switch cmd.Kind {
	case apdu.KindSelect:
		return e.handleSelect(cmd)
	case apdu.KindGetData:
		return e.handleGetData()
	case apdu.KindGrant, apdu.KindDeny:
		return e.handleResult(cmd)
	default:
		e.logger.Debug().Str("state", e.state.String()).
			Msg("unrecognized command frame")
		return apdu.EncodeUnknown()
	}
}

// Deactivate resets the session. Carrier loss is expected physical
// behavior (the device moved away), so this is not an error path.
func (e *Endpoint) Deactivate() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateIdle {
		e.logger.Debug().Str("state", e.state.String()).Msg("carrier lost, session reset")
	}
	e.state = StateIdle
}

func (e *Endpoint) handleSelect(cmd apdu.Command) []byte {
	if !bytes.Equal(cmd.AID, e.aid) {
		e.logger.Debug().Msg("select with foreign AID refused")
		return apdu.EncodeStatus(false)
	}
	e.state = StateSelected
	return apdu.EncodeStatus(true)
}

func (e *Endpoint) handleGetData() []byte {
	if e.state != StateSelected {
		// Command before selection: answer unknown, hold the session
		// open for the reader to retry in order.
		return apdu.EncodeUnknown()
	}
	if e.identity == nil {
		// Operator error, not a protocol error: the session survives so
		// a retry after configuration can succeed.
		e.logger.Warn().Msg("get-data with no identity configured")
		return apdu.EncodeStatus(false)
	}
	e.state = StateDataSent
	return apdu.EncodeIdentity(*e.identity)
}

func (e *Endpoint) handleResult(cmd apdu.Command) []byte {
	if e.state != StateDataSent {
		return apdu.EncodeUnknown()
	}

	e.state = StateResultReceived

	notice := DecisionNotice{
		Granted: cmd.Kind == apdu.KindGrant,
		Message: cmd.Message,
		At:      time.Now().UTC(),
	}
	select {
	case e.decisions <- notice:
	default:
		e.logger.Warn().Msg("decision notice dropped, channel full")
	}

	return apdu.EncodeStatus(true)
}
