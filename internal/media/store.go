package media

import (
	"context"
	"io"

	"routechat/internal/models"
)

// Store persists uploaded media and hands back the opaque storage reference
// a ContentPart carries. The core never reads media bytes; specialists pass
// the reference through to the backend.
type Store interface {
	Save(ctx context.Context, name string, r io.Reader, size int64, mime string) (ref string, err error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// KindForMIME maps a detected MIME type to the part kind it belongs to.
func KindForMIME(mime string) (models.PartKind, bool) {
	switch {
	case len(mime) > 6 && mime[:6] == "image/":
		return models.KindImage, true
	case len(mime) > 6 && mime[:6] == "video/":
		return models.KindVideo, true
	}
	return "", false
}
