package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"routechat/internal/models"
	"routechat/internal/route"
	"routechat/internal/session"
	"routechat/internal/specialist"
)

type fakeCapability struct {
	mu          sync.Mutex
	histories   [][]models.Turn
	preferences []string
	invokeErr   []error
	run         func(ctx context.Context, out chan<- models.StreamChunk)
}

func (f *fakeCapability) Invoke(ctx context.Context, inv route.Invocation) (<-chan models.StreamChunk, error) {
	f.mu.Lock()
	f.histories = append(f.histories, inv.History)
	f.preferences = append(f.preferences, inv.Preference)
	var err error
	if len(f.invokeErr) > 0 {
		err = f.invokeErr[0]
		f.invokeErr = f.invokeErr[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make(chan models.StreamChunk, 16)
	run := f.run
	if run == nil {
		run = func(ctx context.Context, out chan<- models.StreamChunk) {
			out <- models.StreamChunk{Delta: "ok"}
			out <- models.StreamChunk{Outcome: models.OutcomeComplete}
		}
	}
	go func() {
		defer close(out)
		run(ctx, out)
	}()
	return out, nil
}

func newTestCoordinator(cfg Config) (*Coordinator, *session.Store, *route.Registry) {
	store := session.NewStore(nil, nil)
	registry := route.NewRegistry()
	return NewCoordinator(store, registry, nil, cfg), store, registry
}

func drain(t *testing.T, ch <-chan models.StreamChunk) (string, models.StreamChunk) {
	t.Helper()
	var full string
	var terminal models.StreamChunk
	for chunk := range ch {
		if chunk.Terminal() {
			terminal = chunk
			continue
		}
		full += chunk.Delta
	}
	if terminal.Outcome == models.OutcomeNone {
		t.Fatalf("stream closed without terminal outcome")
	}
	return full, terminal
}

func textMsg(user, conv, text string) models.InboundMessage {
	return models.InboundMessage{
		UserID:         user,
		ConversationID: conv,
		Parts:          []models.ContentPart{models.TextPart(text)},
	}
}

func TestHandleCompleteCommitsExchange(t *testing.T) {
	coord, store, registry := newTestCoordinator(Config{})
	capability := &fakeCapability{run: func(_ context.Context, out chan<- models.StreamChunk) {
		out <- models.StreamChunk{Delta: "Par"}
		out <- models.StreamChunk{Delta: "is"}
		out <- models.StreamChunk{Outcome: models.OutcomeComplete}
	}}
	registry.Register(route.TargetText, capability)

	ch, err := coord.Handle(context.Background(), textMsg("u1", "1", "What is the capital of France?"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	full, terminal := drain(t, ch)
	if full != "Paris" {
		t.Fatalf("streamed %q, want Paris", full)
	}
	if terminal.Outcome != models.OutcomeComplete {
		t.Fatalf("outcome %s, want complete", terminal.Outcome)
	}

	snap, ok := store.Read(session.Key{UserID: "u1", ConversationID: "1"})
	if !ok {
		t.Fatalf("session missing after exchange")
	}
	if len(snap.History) != 2 {
		t.Fatalf("history = %d turns, want 2", len(snap.History))
	}
	if snap.History[0].Role != models.RoleUser || snap.History[1].Role != models.RoleSpecialist {
		t.Fatalf("turn order wrong")
	}
	if snap.History[1].Parts[0].Text != "Paris" {
		t.Fatalf("committed response = %q", snap.History[1].Parts[0].Text)
	}
}

func TestHandleRoutesMediaWithText(t *testing.T) {
	coord, _, registry := newTestCoordinator(Config{})
	textCap := &fakeCapability{}
	mediaCap := &fakeCapability{}
	registry.Register(route.TargetText, textCap)
	registry.Register(route.TargetMedia, mediaCap)

	msg := models.InboundMessage{
		UserID:         "u1",
		ConversationID: "1",
		Parts: []models.ContentPart{
			models.TextPart("What's in this image?"),
			models.MediaPart(models.KindImage, "uploads/x.jpg", "image/jpeg", 100),
		},
	}
	ch, err := coord.Handle(context.Background(), msg)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	drain(t, ch)

	if len(mediaCap.histories) != 1 {
		t.Fatalf("media capability invoked %d times, want 1", len(mediaCap.histories))
	}
	if len(textCap.histories) != 0 {
		t.Fatalf("text capability should not have been invoked")
	}
}

func TestHandleInvalidInputCreatesNoSession(t *testing.T) {
	coord, store, registry := newTestCoordinator(Config{})
	registry.Register(route.TargetText, &fakeCapability{})

	_, err := coord.Handle(context.Background(), models.InboundMessage{UserID: "u1", ConversationID: "1"})
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
	if _, ok := store.Read(session.Key{UserID: "u1", ConversationID: "1"}); ok {
		t.Fatalf("session was created for invalid input")
	}
}

func TestHandleFileTooLargeBeforeInvocation(t *testing.T) {
	coord, store, registry := newTestCoordinator(Config{})
	capability := &fakeCapability{}
	registry.Register(route.TargetMedia, capability)

	msg := models.InboundMessage{
		UserID:         "u1",
		ConversationID: "1",
		Parts:          []models.ContentPart{models.MediaPart(models.KindVideo, "r", "video/mp4", 600<<20)},
	}
	_, err := coord.Handle(context.Background(), msg)
	if !errors.Is(err, models.ErrFileTooLarge) {
		t.Fatalf("got %v, want ErrFileTooLarge", err)
	}
	if len(capability.histories) != 0 {
		t.Fatalf("specialist invoked despite oversized part")
	}
	if _, ok := store.Read(session.Key{UserID: "u1", ConversationID: "1"}); ok {
		t.Fatalf("session was created for rejected input")
	}
}

func TestHandleUnroutableTarget(t *testing.T) {
	coord, _, _ := newTestCoordinator(Config{})
	_, err := coord.Handle(context.Background(), textMsg("u1", "1", "hi"))
	if !errors.Is(err, route.ErrUnroutableTarget) {
		t.Fatalf("got %v, want ErrUnroutableTarget", err)
	}
}

func TestSequentialRequestsSeePriorContext(t *testing.T) {
	coord, _, registry := newTestCoordinator(Config{})
	capability := &fakeCapability{}
	registry.Register(route.TargetText, capability)

	for i := 0; i < 2; i++ {
		ch, err := coord.Handle(context.Background(), textMsg("u1", "1", "turn"))
		if err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
		drain(t, ch)
	}

	if len(capability.histories) != 2 {
		t.Fatalf("capability invoked %d times", len(capability.histories))
	}
	if len(capability.histories[0]) != 0 {
		t.Fatalf("first request saw %d prior turns, want 0", len(capability.histories[0]))
	}
	if len(capability.histories[1]) != 2 {
		t.Fatalf("second request saw %d prior turns, want 2", len(capability.histories[1]))
	}
}

func TestModelPreferencePropagation(t *testing.T) {
	coord, _, registry := newTestCoordinator(Config{DefaultPreference: "model-default"})
	capability := &fakeCapability{}
	registry.Register(route.TargetText, capability)

	ch, err := coord.Handle(context.Background(), textMsg("u1", "1", "hi"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	drain(t, ch)

	override := textMsg("u1", "1", "again")
	override.Model = "model-pro"
	ch, err = coord.Handle(context.Background(), override)
	if err != nil {
		t.Fatalf("handle override: %v", err)
	}
	drain(t, ch)

	// The override sticks for later requests on the same session.
	ch, err = coord.Handle(context.Background(), textMsg("u1", "1", "once more"))
	if err != nil {
		t.Fatalf("handle after override: %v", err)
	}
	drain(t, ch)

	want := []string{"model-default", "model-pro", "model-pro"}
	for i, pref := range want {
		if capability.preferences[i] != pref {
			t.Fatalf("invocation %d saw preference %q, want %q", i, capability.preferences[i], pref)
		}
	}
}

func TestCancelledStreamCommitsNothing(t *testing.T) {
	coord, store, registry := newTestCoordinator(Config{})
	emitted := make(chan struct{})
	registry.Register(route.TargetText, &fakeCapability{run: func(ctx context.Context, out chan<- models.StreamChunk) {
		for i := 0; i < 10; i++ {
			select {
			case out <- models.StreamChunk{Delta: "x"}:
			case <-ctx.Done():
				return
			}
			if i == 2 {
				close(emitted)
				<-ctx.Done()
				return
			}
		}
	}})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := coord.Handle(ctx, textMsg("u1", "1", "count to ten"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	seen := 0
	var terminal models.StreamChunk
	for chunk := range ch {
		if chunk.Terminal() {
			terminal = chunk
			continue
		}
		seen++
		if seen == 3 {
			<-emitted
			cancel()
		}
	}
	defer cancel()

	if terminal.Outcome != models.OutcomeCancelled {
		t.Fatalf("outcome %s, want cancelled", terminal.Outcome)
	}
	snap, _ := store.Read(session.Key{UserID: "u1", ConversationID: "1"})
	if len(snap.History) != 0 {
		t.Fatalf("cancelled exchange grew history by %d turns", len(snap.History))
	}
}

func TestUpstreamErrorNotCommitted(t *testing.T) {
	coord, store, registry := newTestCoordinator(Config{})
	registry.Register(route.TargetText, &fakeCapability{run: func(_ context.Context, out chan<- models.StreamChunk) {
		out <- models.StreamChunk{Delta: "par"}
		out <- models.StreamChunk{
			Outcome: models.OutcomeError,
			Err:     &specialist.UpstreamError{Reason: specialist.ReasonQuota, Retryable: true, Err: errors.New("quota exceeded")},
		}
	}})

	ch, err := coord.Handle(context.Background(), textMsg("u1", "1", "hi"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	_, terminal := drain(t, ch)
	if terminal.Outcome != models.OutcomeError {
		t.Fatalf("outcome %s, want error", terminal.Outcome)
	}
	var ue *specialist.UpstreamError
	if !errors.As(terminal.Err, &ue) {
		t.Fatalf("terminal error not an UpstreamError: %v", terminal.Err)
	}
	snap, _ := store.Read(session.Key{UserID: "u1", ConversationID: "1"})
	if len(snap.History) != 0 {
		t.Fatalf("failed exchange was committed")
	}
}

func TestSecondConcurrentRequestRejected(t *testing.T) {
	coord, _, registry := newTestCoordinator(Config{})
	started := make(chan struct{})
	registry.Register(route.TargetText, &fakeCapability{run: func(ctx context.Context, out chan<- models.StreamChunk) {
		select {
		case <-started:
			// Subsequent invocations (other conversations) complete normally.
			out <- models.StreamChunk{Delta: "ok"}
			out <- models.StreamChunk{Outcome: models.OutcomeComplete}
		default:
			close(started)
			<-ctx.Done()
		}
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := coord.Handle(ctx, textMsg("u1", "1", "slow"))
	if err != nil {
		t.Fatalf("first handle: %v", err)
	}
	<-started

	_, err = coord.Handle(context.Background(), textMsg("u1", "1", "impatient"))
	if !errors.Is(err, session.ErrSessionBusy) {
		t.Fatalf("got %v, want ErrSessionBusy", err)
	}

	// A different conversation of the same user is not blocked.
	ch2, err := coord.Handle(context.Background(), models.InboundMessage{
		UserID:         "u1",
		ConversationID: "2",
		Parts:          []models.ContentPart{models.TextPart("other")},
	})
	if err != nil {
		t.Fatalf("other conversation rejected: %v", err)
	}
	drain(t, ch2)

	cancel()
	for range ch {
	}
}

func TestUpstreamRetryPolicy(t *testing.T) {
	transient := &specialist.UpstreamError{Reason: specialist.ReasonNetwork, Retryable: true, Err: errors.New("timeout")}

	coord, _, registry := newTestCoordinator(Config{UpstreamRetries: 1})
	capability := &fakeCapability{invokeErr: []error{transient}}
	registry.Register(route.TargetText, capability)

	ch, err := coord.Handle(context.Background(), textMsg("u1", "1", "hi"))
	if err != nil {
		t.Fatalf("retryable failure not retried: %v", err)
	}
	drain(t, ch)
	if len(capability.histories) != 2 {
		t.Fatalf("capability invoked %d times, want 2", len(capability.histories))
	}

	// Retries disabled: the first failure surfaces.
	coordOff, _, registryOff := newTestCoordinator(Config{})
	capOff := &fakeCapability{invokeErr: []error{transient}}
	registryOff.Register(route.TargetText, capOff)
	if _, err := coordOff.Handle(context.Background(), textMsg("u1", "1", "hi")); err == nil {
		t.Fatalf("expected upstream error with retries disabled")
	}

	// Non-retryable failures are never retried.
	fatal := &specialist.UpstreamError{Reason: specialist.ReasonSafety, Retryable: false, Err: errors.New("blocked")}
	coordSafety, _, registrySafety := newTestCoordinator(Config{UpstreamRetries: 3})
	capSafety := &fakeCapability{invokeErr: []error{fatal, fatal, fatal, fatal}}
	registrySafety.Register(route.TargetText, capSafety)
	if _, err := coordSafety.Handle(context.Background(), textMsg("u1", "1", "hi")); err == nil {
		t.Fatalf("expected safety error")
	}
	if len(capSafety.histories) != 1 {
		t.Fatalf("non-retryable failure invoked %d times, want 1", len(capSafety.histories))
	}
}

func TestBusySlotReleasedAfterStream(t *testing.T) {
	coord, _, registry := newTestCoordinator(Config{})
	registry.Register(route.TargetText, &fakeCapability{})

	ch, err := coord.Handle(context.Background(), textMsg("u1", "1", "one"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	drain(t, ch)

	// Slot must be free again promptly after the terminal chunk.
	deadline := time.After(time.Second)
	for {
		_, err := coord.Handle(context.Background(), textMsg("u1", "1", "two"))
		if err == nil {
			return
		}
		if !errors.Is(err, session.ErrSessionBusy) {
			t.Fatalf("unexpected error: %v", err)
		}
		select {
		case <-deadline:
			t.Fatalf("exchange slot never released")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
