package recapsamurai

import (
	"github.com/stretchr/testify/assert"
	"testing"
)

// TestKeywordWatcherMatch verifies substring detection against the default
// keyword set, including the first-match-wins tie-break.
func TestKeywordWatcherMatch(t *testing.T) {
	watcher := NewKeywordWatcher(DefaultAlertKeywords)

	tests := []struct {
		name        string
		text        string
		wantKeyword string
		wantMatch   bool
	}{
		{
			name:        "keyword mid-sentence",
			text:        "本日は緊急会議です",
			wantKeyword: "緊急",
			wantMatch:   true,
		},
		{
			name:      "no keyword",
			text:      "こんにちは",
			wantMatch: false,
		},
		{
			name:        "multiple keywords returns first configured",
			text:        "質問があります、トラブルかも",
			wantKeyword: "トラブル",
			wantMatch:   true,
		},
		{
			name:      "empty text",
			text:      "",
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				keyword, matched := watcher.Match(tt.text)
				assert.Equal(t, tt.wantMatch, matched)
				assert.Equal(t, tt.wantKeyword, keyword)
			},
		)
	}
}

// TestKeywordWatcherConfiguredOrder verifies the configured order, not
// position in the text, decides ties.
func TestKeywordWatcherConfiguredOrder(t *testing.T) {
	watcher := NewKeywordWatcher([]string{"b", "a"})
	keyword, matched := watcher.Match("a then b")
	assert.True(t, matched)
	assert.Equal(t, "b", keyword)
}

// TestKeywordWatcherIgnoresEmptyKeywords verifies empty configured keywords
// never match.
func TestKeywordWatcherIgnoresEmptyKeywords(t *testing.T) {
	watcher := NewKeywordWatcher([]string{"", "alert"})
	keyword, matched := watcher.Match("no match here")
	assert.False(t, matched)
	assert.Empty(t, keyword)

	keyword, matched = watcher.Match("alert here")
	assert.True(t, matched)
	assert.Equal(t, "alert", keyword)
}

// TestKeywordWatcherCopiesKeywords verifies mutating the source slice after
// construction doesn't change matching.
func TestKeywordWatcherCopiesKeywords(t *testing.T) {
	keywords := []string{"alpha"}
	watcher := NewKeywordWatcher(keywords)
	keywords[0] = "beta"

	_, matched := watcher.Match("beta")
	assert.False(t, matched)
	keyword, matched := watcher.Match("alpha")
	assert.True(t, matched)
	assert.Equal(t, "alpha", keyword)
}
