package specialist

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/genai"

	"routechat/internal/models"
	"routechat/internal/route"
)

type contentStreamer interface {
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Media handles exchanges that carry image or video parts. It talks to the
// Gemini API directly since the media parts are storage references the
// backend fetches itself.
type Media struct {
	streamer contentStreamer
	model    string
}

var _ route.Capability = (*Media)(nil)

// NewMedia builds the media specialist.
func NewMedia(ctx context.Context, apiKey, modelName string) (*Media, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Media{streamer: client.Models, model: modelName}, nil
}

// Invoke builds multimodal contents from the session context plus the new
// parts and streams the generated text back.
func (m *Media) Invoke(ctx context.Context, inv route.Invocation) (<-chan models.StreamChunk, error) {
	contents := make([]*genai.Content, 0, len(inv.History)+1)
	for _, turn := range inv.History {
		contents = append(contents, &genai.Content{
			Role:  genaiRole(turn.Role),
			Parts: genaiParts(turn.Parts),
		})
	}
	contents = append(contents, &genai.Content{
		Role:  "user",
		Parts: genaiParts(inv.Parts),
	})

	modelName := m.model
	if inv.Preference != "" {
		modelName = inv.Preference
	}

	out := make(chan models.StreamChunk, 16)
	go func() {
		defer close(out)
		for chunk, err := range m.streamer.GenerateContentStream(ctx, modelName, contents, nil) {
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				emit(ctx, out, models.StreamChunk{Outcome: models.OutcomeError, Err: WrapUpstream(err)})
				return
			}
			if len(chunk.Candidates) == 0 {
				continue
			}
			cand := chunk.Candidates[0]
			if cand.Content != nil {
				var sb strings.Builder
				for _, p := range cand.Content.Parts {
					if p.Text != "" {
						sb.WriteString(p.Text)
					}
				}
				if sb.Len() > 0 {
					if !emit(ctx, out, models.StreamChunk{Delta: sb.String()}) {
						return
					}
				}
			}
			switch cand.FinishReason {
			case genai.FinishReasonUnspecified, "":
				// stream continues
			case genai.FinishReasonStop:
				emit(ctx, out, models.StreamChunk{Outcome: models.OutcomeComplete})
				return
			case genai.FinishReasonMaxTokens:
				emit(ctx, out, models.StreamChunk{Outcome: models.OutcomeError, Err: truncatedError()})
				return
			case genai.FinishReasonSafety:
				var cats []string
				for _, sr := range cand.SafetyRatings {
					if sr.Blocked {
						cats = append(cats, string(sr.Category))
					}
				}
				emit(ctx, out, models.StreamChunk{
					Outcome: models.OutcomeError,
					Err:     safetyError("blocked by " + strings.Join(cats, ", ")),
				})
				return
			default:
				emit(ctx, out, models.StreamChunk{
					Outcome: models.OutcomeError,
					Err:     WrapUpstream(fmt.Errorf("unexpected finish reason: %s", cand.FinishReason)),
				})
				return
			}
		}
		// Iterator ended without a finish reason: the backend closed the
		// stream early.
		emit(ctx, out, models.StreamChunk{
			Outcome: models.OutcomeError,
			Err:     WrapUpstream(fmt.Errorf("stream ended without finish reason")),
		})
	}()
	return out, nil
}

func genaiRole(role models.Role) string {
	if role == models.RoleSpecialist {
		return "model"
	}
	return "user"
}

func genaiParts(parts []models.ContentPart) []*genai.Part {
	converted := make([]*genai.Part, 0, len(parts))
	for _, p := range parts {
		if p.Kind == models.KindText {
			converted = append(converted, genai.NewPartFromText(p.Text))
			continue
		}
		converted = append(converted, genai.NewPartFromURI(p.Ref, p.MIME))
	}
	return converted
}
