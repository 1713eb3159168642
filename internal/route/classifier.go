package route

import (
	"fmt"

	"routechat/internal/models"
)

// Target identifies which specialist handles a request. Targets are derived
// per request and never persisted.
type Target string

const (
	TargetText  Target = "text"
	TargetMedia Target = "media"
)

// rule maps a part-sequence predicate to a target. Rules are evaluated in
// order; the first match wins. New specialists extend this table rather than
// replacing the classifier.
type rule struct {
	match  func([]models.ContentPart) bool
	target Target
}

var rules = []rule{
	{match: anyMedia, target: TargetMedia},
}

func anyMedia(parts []models.ContentPart) bool {
	for _, p := range parts {
		if p.IsMedia() {
			return true
		}
	}
	return false
}

// Classify maps a non-empty part sequence to a target. Any image or video
// part routes the whole message to the media specialist; the accompanying
// text travels with it as the prompt. All-text messages route to the text
// specialist.
func Classify(parts []models.ContentPart) (Target, error) {
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: no parts to classify", models.ErrInvalidInput)
	}
	for _, r := range rules {
		if r.match(parts) {
			return r.target, nil
		}
	}
	return TargetText, nil
}
