package specialist

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"routechat/internal/models"
	"routechat/internal/route"
)

// ProviderConfig selects and configures the chat-model backend for the text
// specialist.
type ProviderConfig struct {
	Provider string
	BaseURL  string
	Model    string
	APIKey   string
}

type chatStreamer interface {
	Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error)
}

// Text handles all-text exchanges through an eino chat model.
type Text struct {
	chatModel chatStreamer
}

var _ route.Capability = (*Text)(nil)

// NewText builds the text specialist for the configured provider.
func NewText(ctx context.Context, cfg ProviderConfig) (*Text, error) {
	var (
		chatModel chatStreamer
		err       error
	)
	switch cfg.Provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
		})
	case "gemini":
		client, cerr := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
		if cerr != nil {
			return nil, fmt.Errorf("gemini client: %w", cerr)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  cfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if cfg.BaseURL != "" {
			baseURLPtr = &cfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", cfg.Provider, err)
	}
	return &Text{chatModel: chatModel}, nil
}

// Invoke converts the session context to chat messages, opens the model
// stream, and relays text deltas until the model finishes.
func (t *Text) Invoke(ctx context.Context, inv route.Invocation) (<-chan models.StreamChunk, error) {
	messages := convertHistory(inv.History)
	messages = append(messages, &schema.Message{
		Role:    schema.User,
		Content: flattenParts(inv.Parts),
	})

	var opts []model.Option
	if inv.Preference != "" {
		opts = append(opts, model.WithModel(inv.Preference))
	}
	reader, err := t.chatModel.Stream(ctx, messages, opts...)
	if err != nil {
		return nil, WrapUpstream(err)
	}

	out := make(chan models.StreamChunk, 16)
	go func() {
		defer close(out)
		defer reader.Close()
		for {
			chunk, err := reader.Recv()
			if err == io.EOF {
				emit(ctx, out, models.StreamChunk{Outcome: models.OutcomeComplete})
				return
			}
			if err != nil {
				emit(ctx, out, models.StreamChunk{Outcome: models.OutcomeError, Err: WrapUpstream(err)})
				return
			}
			if chunk.Content == "" {
				continue
			}
			if !emit(ctx, out, models.StreamChunk{Delta: chunk.Content}) {
				return
			}
		}
	}()
	return out, nil
}

// emit forwards one chunk, bailing out when the consumer is gone.
func emit(ctx context.Context, out chan<- models.StreamChunk, c models.StreamChunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

func convertHistory(history []models.Turn) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history))
	for _, turn := range history {
		var role schema.RoleType
		switch turn.Role {
		case models.RoleSpecialist:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		messages = append(messages, &schema.Message{
			Role:    role,
			Content: flattenParts(turn.Parts),
		})
	}
	return messages
}

// flattenParts serializes a part sequence for a text-only model. Media parts
// in prior turns are referenced by name so the conversation stays coherent
// after a media exchange.
func flattenParts(parts []models.ContentPart) string {
	var sb strings.Builder
	for _, p := range parts {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		if p.Kind == models.KindText {
			sb.WriteString(p.Text)
		} else {
			sb.WriteString(fmt.Sprintf("[attached %s: %s]", p.Kind, p.Ref))
		}
	}
	return sb.String()
}
