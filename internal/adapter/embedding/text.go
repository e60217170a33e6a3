package embedding

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"imgsearch/internal/domain"
)

// DefaultMaxTextRunes is the context length of the Chinese-CLIP text tower.
const DefaultMaxTextRunes = 52

// PrepareText trims text and truncates it to maxRunes runes.
// Empty or invalid UTF-8 input is an input error; long input is never rejected.
func PrepareText(text string, maxRunes int) (string, error) {
	if !utf8.ValidString(text) {
		return "", fmt.Errorf("text is not valid UTF-8: %w", domain.ErrInput)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.ErrEmptyText
	}
	if maxRunes <= 0 {
		maxRunes = DefaultMaxTextRunes
	}
	if utf8.RuneCountInString(text) <= maxRunes {
		return text, nil
	}

	n := 0
	for i := range text {
		if n == maxRunes {
			return text[:i], nil
		}
		n++
	}
	return text, nil
}
