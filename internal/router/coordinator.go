package router

import (
	"context"
	"errors"

	"routechat/internal/models"
	"routechat/internal/route"
	"routechat/internal/session"
	"routechat/internal/specialist"
	"routechat/internal/worker"
)

// Config tunes coordinator policy. UpstreamRetries bounds automatic retries
// of retryable upstream failures that occur before any chunk is produced;
// zero disables retrying.
type Config struct {
	DefaultPreference string
	UpstreamRetries   int
}

// Coordinator orchestrates classifier, registry, and session store per
// request. It contains no specialist-specific branching: adding a specialist
// changes registry bindings and classifier rules only.
type Coordinator struct {
	store    *session.Store
	registry *route.Registry
	pool     *worker.Pool
	cfg      Config
}

func NewCoordinator(store *session.Store, registry *route.Registry, pool *worker.Pool, cfg Config) *Coordinator {
	return &Coordinator{store: store, registry: registry, pool: pool, cfg: cfg}
}

// Handle routes one inbound message to its specialist and returns the relayed
// chunk stream. Validation and routing failures are returned synchronously
// before any session mutation or specialist invocation.
func (c *Coordinator) Handle(ctx context.Context, msg models.InboundMessage) (<-chan models.StreamChunk, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	target, err := route.Classify(msg.Parts)
	if err != nil {
		return nil, err
	}
	capability, err := c.registry.Resolve(target)
	if err != nil {
		return nil, err
	}
	debugLog("routing %s:%s -> %s", msg.UserID, msg.ConversationID, target)

	key := session.Key{UserID: msg.UserID, ConversationID: msg.ConversationID}
	c.store.GetOrCreate(ctx, key, c.cfg.DefaultPreference)
	if msg.Model != "" {
		c.store.SetPreference(key, msg.Model)
	}

	var releaseSlot func()
	if c.pool != nil {
		releaseSlot, err = c.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
	}

	releaseExchange, err := c.store.BeginExchange(key)
	if err != nil {
		if releaseSlot != nil {
			releaseSlot()
		}
		return nil, err
	}
	done := func() {
		releaseExchange()
		if releaseSlot != nil {
			releaseSlot()
		}
	}

	// The exchange slot is held, so no other writer can move the history
	// between this read and the commit.
	snap, _ := c.store.Read(key)
	inv := route.Invocation{
		History:    snap.History,
		Parts:      msg.Parts,
		Preference: snap.ModelPreference,
	}

	upstream, err := c.invoke(ctx, capability, inv)
	if err != nil {
		done()
		return nil, err
	}

	commit := func(responseParts []models.ContentPart) error {
		// Commit with a detached context: a caller that disconnects in the
		// instant after the terminal chunk must not lose a fully delivered
		// exchange.
		commitCtx, cancel := context.WithTimeout(context.Background(), commitTimeout)
		defer cancel()
		return c.store.AppendExchange(commitCtx, key, msg.Parts, models.RoleSpecialist, responseParts)
	}
	return Relay(ctx, upstream, commit, done), nil
}

// invoke starts the specialist stream, retrying bounded times when the
// failure happened before any output and is classified retryable.
func (c *Coordinator) invoke(ctx context.Context, capability route.Capability, inv route.Invocation) (<-chan models.StreamChunk, error) {
	attempts := c.cfg.UpstreamRetries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		upstream, err := capability.Invoke(ctx, inv)
		if err == nil {
			return upstream, nil
		}
		lastErr = err
		var ue *specialist.UpstreamError
		if !errors.As(err, &ue) || !ue.Retryable || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}
