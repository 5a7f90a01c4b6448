package carrier

import (
	"context"
	"errors"
)

// CommandHandler is the credential-side surface a loopback connects to.
// *credential.Endpoint satisfies it.
type CommandHandler interface {
	ProcessCommand(buf []byte) []byte
	Deactivate()
}

// ErrCarrierLost is returned once a loopback has been detached.
var ErrCarrierLost = errors.New("carrier lost")

// Loopback wires a reader directly to an in-process credential
// endpoint. Used by the tap simulator and by tests; there is no radio.
type Loopback struct {
	handler CommandHandler
	lost    bool
}

func NewLoopback(h CommandHandler) *Loopback {
	return &Loopback{handler: h}
}

func (l *Loopback) Transceive(ctx context.Context, cmd []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.lost {
		return nil, ErrCarrierLost
	}
	return l.handler.ProcessCommand(cmd), nil
}

// Detach simulates the device moving out of range: the credential side
// resets its session and further transceives fail.
func (l *Loopback) Detach() {
	l.lost = true
	l.handler.Deactivate()
}
