package recapsamurai

import (
	"strings"
)

// KeywordWatcher checks ingested messages against a static set of alert
// keywords. It's stateless and pure; the caller is responsible for the
// reply side effect.
type KeywordWatcher struct {
	keywords []string
}

func NewKeywordWatcher(keywords []string) *KeywordWatcher {
	kw := make([]string, len(keywords))
	copy(kw, keywords)
	return &KeywordWatcher{keywords: kw}
}

// Match returns the first configured keyword contained in text. Set order
// is the tie-break when multiple keywords match.
func (w *KeywordWatcher) Match(text string) (string, bool) {
	for _, keyword := range w.keywords {
		if keyword != "" && strings.Contains(text, keyword) {
			return keyword, true
		}
	}
	return "", false
}
