// Package carrier abstracts the contactless link. The hardware-facing
// adapter discovers nearby devices and hands each one to the reader as
// a Carrier over a channel, so the protocol state machine never runs on
// a hardware callback thread.
package carrier

import "context"

// Carrier is one exclusive physical session with a discovered device.
// Transceive sends a command frame and returns the response frame. Any
// error means the carrier is gone; the session cannot be resumed.
type Carrier interface {
	Transceive(ctx context.Context, cmd []byte) ([]byte, error)
}
