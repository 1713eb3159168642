package router

import (
	"context"
	"strings"
	"time"

	"routechat/internal/models"
)

const commitTimeout = 10 * time.Second

// Relay forwards chunks from a specialist stream to the caller while
// accumulating them for the session commit. The accumulated exchange is
// committed only on a complete terminal; an error terminal is forwarded
// without committing; cancellation stops upstream consumption and discards
// the partial buffer. Exactly one terminal outcome reaches the output
// channel, after which it is closed. done runs once the stream is finished,
// whatever the outcome.
func Relay(ctx context.Context, upstream <-chan models.StreamChunk, commit func([]models.ContentPart) error, done func()) <-chan models.StreamChunk {
	out := make(chan models.StreamChunk, 16)
	go func() {
		defer close(out)
		defer done()

		var buf strings.Builder
		for {
			select {
			case <-ctx.Done():
				sendTerminal(ctx, out, models.StreamChunk{Outcome: models.OutcomeCancelled})
				return
			case chunk, ok := <-upstream:
				if !ok {
					// Producer bailed without a terminal chunk; that only
					// happens when it observed cancellation.
					sendTerminal(ctx, out, models.StreamChunk{Outcome: models.OutcomeCancelled})
					return
				}
				if !chunk.Terminal() {
					buf.WriteString(chunk.Delta)
					select {
					case out <- chunk:
					case <-ctx.Done():
						sendTerminal(ctx, out, models.StreamChunk{Outcome: models.OutcomeCancelled})
						return
					}
					continue
				}

				switch chunk.Outcome {
				case models.OutcomeComplete:
					responseParts := []models.ContentPart{models.TextPart(buf.String())}
					if err := commit(responseParts); err != nil {
						sendTerminal(ctx, out, models.StreamChunk{Outcome: models.OutcomeError, Err: err})
						return
					}
					sendTerminal(ctx, out, chunk)
				default:
					sendTerminal(ctx, out, chunk)
				}
				return
			}
		}
	}()
	return out
}

// sendTerminal blocks until the terminal chunk is delivered, falling back to
// a best-effort send when the caller is already gone.
func sendTerminal(ctx context.Context, out chan<- models.StreamChunk, chunk models.StreamChunk) {
	select {
	case out <- chunk:
	case <-ctx.Done():
		select {
		case out <- chunk:
		default:
		}
	}
}
