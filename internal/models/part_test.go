package models

import (
	"errors"
	"testing"
)

func TestContentPartValidate(t *testing.T) {
	cases := []struct {
		name string
		part ContentPart
		want error
	}{
		{"text", TextPart("hello"), nil},
		{"jpeg image", MediaPart(KindImage, "ref-1", "image/jpeg", 1024), nil},
		{"webm video", MediaPart(KindVideo, "ref-2", "video/webm", 1 << 20), nil},
		{"gif image rejected", MediaPart(KindImage, "ref-3", "image/gif", 10), ErrUnsupportedMediaType},
		{"mkv video rejected", MediaPart(KindVideo, "ref-4", "video/x-matroska", 10), ErrUnsupportedMediaType},
		{"oversized video", MediaPart(KindVideo, "ref-5", "video/mp4", 600<<20), ErrFileTooLarge},
		{"missing ref", ContentPart{Kind: KindImage, MIME: "image/png"}, ErrInvalidInput},
		{"unknown kind", ContentPart{Kind: "audio"}, ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.part.Validate()
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestInboundMessageValidate(t *testing.T) {
	msg := InboundMessage{UserID: "u1", ConversationID: "c1", Parts: []ContentPart{TextPart("hi")}}
	if err := msg.Validate(); err != nil {
		t.Fatalf("valid message rejected: %v", err)
	}

	empty := InboundMessage{UserID: "u1", ConversationID: "c1"}
	if err := empty.Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty message: got %v, want ErrInvalidInput", err)
	}

	noUser := InboundMessage{ConversationID: "c1", Parts: []ContentPart{TextPart("hi")}}
	if err := noUser.Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing user: got %v, want ErrInvalidInput", err)
	}

	badPart := InboundMessage{
		UserID:         "u1",
		ConversationID: "c1",
		Parts:          []ContentPart{TextPart("look"), MediaPart(KindVideo, "r", "video/mp4", 600<<20)},
	}
	if err := badPart.Validate(); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("oversized part: got %v, want ErrFileTooLarge", err)
	}
}
