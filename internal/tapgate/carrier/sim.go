package carrier

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tapgate/tapgate/internal/tapgate/credential"
	"github.com/tapgate/tapgate/internal/tapgate/types"
)

// Simulate emits a fresh in-process credential for each configured
// identity on the given interval, cycling forever. It stands in for the
// hardware discovery adapter in dev environments: the reader consumes
// the returned channel exactly as it would consume real discoveries.
func Simulate(ctx context.Context, aid []byte, ids []types.Identity, interval time.Duration, logger zerolog.Logger) <-chan Carrier {
	out := make(chan Carrier)

	go func() {
		defer close(out)

		if len(ids) == 0 {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		i := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			id := ids[i%len(ids)]
			i++

			ep := credential.New(credential.Config{
				AID:      aid,
				Identity: &id,
				Logger:   logger,
			})
			logger.Debug().
				Int64("credential_id", id.CredentialID).
				Int64("holder_id", id.HolderID).
				Msg("simulated tap")

			select {
			case <-ctx.Done():
				return
			case out <- NewLoopback(ep):
			}
		}
	}()

	return out
}
