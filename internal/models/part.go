package models

import (
	"errors"
	"fmt"
)

// PartKind identifies the content category of a single message part.
type PartKind string

const (
	KindText  PartKind = "text"
	KindImage PartKind = "image"
	KindVideo PartKind = "video"
)

// MaxMediaBytes is the per-part size bound for uploaded media.
const MaxMediaBytes = 500 << 20 // 500 MB

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrFileTooLarge         = errors.New("file too large")
)

// ContentPart is one atomic unit of a message. Text parts carry the text
// inline; image and video parts carry a storage reference plus MIME type,
// never inline bytes.
type ContentPart struct {
	Kind PartKind `json:"kind"`
	Text string   `json:"text,omitempty"`
	Ref  string   `json:"ref,omitempty"`
	MIME string   `json:"mime,omitempty"`
	Size int64    `json:"size,omitempty"`
}

var allowedImageMIME = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/heic": {},
	"image/heif": {},
}

var allowedVideoMIME = map[string]struct{}{
	"video/mp4":   {},
	"video/mpeg":  {},
	"video/mov":   {},
	"video/avi":   {},
	"video/x-flv": {},
	"video/mpg":   {},
	"video/webm":  {},
	"video/wmv":   {},
	"video/3gpp":  {},
}

// IsMedia reports whether the part is an image or a video.
func (p ContentPart) IsMedia() bool {
	return p.Kind == KindImage || p.Kind == KindVideo
}

// Validate checks one part against the media allow-lists and size bound.
func (p ContentPart) Validate() error {
	switch p.Kind {
	case KindText:
		return nil
	case KindImage:
		if _, ok := allowedImageMIME[p.MIME]; !ok {
			return fmt.Errorf("%w: %s", ErrUnsupportedMediaType, p.MIME)
		}
	case KindVideo:
		if _, ok := allowedVideoMIME[p.MIME]; !ok {
			return fmt.Errorf("%w: %s", ErrUnsupportedMediaType, p.MIME)
		}
	default:
		return fmt.Errorf("%w: unknown part kind %q", ErrInvalidInput, p.Kind)
	}
	if p.Ref == "" {
		return fmt.Errorf("%w: media part missing storage reference", ErrInvalidInput)
	}
	if p.Size > MaxMediaBytes {
		return fmt.Errorf("%w: %d bytes", ErrFileTooLarge, p.Size)
	}
	return nil
}

// TextPart builds a text part.
func TextPart(text string) ContentPart {
	return ContentPart{Kind: KindText, Text: text}
}

// MediaPart builds an image or video part from a storage reference.
func MediaPart(kind PartKind, ref, mime string, size int64) ContentPart {
	return ContentPart{Kind: kind, Ref: ref, MIME: mime, Size: size}
}
