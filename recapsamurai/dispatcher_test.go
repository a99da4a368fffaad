package recapsamurai

import (
	"errors"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"
)

type recordingSender struct {
	messages  []string
	channelID string

	// failAfter fails every send once this many messages have succeeded;
	// negative disables failure
	failAfter int
}

func (s *recordingSender) ChannelMessageSend(
	channelID string,
	message string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	if s.failAfter >= 0 && len(s.messages) >= s.failAfter {
		return nil, errors.New("transport error")
	}
	s.channelID = channelID
	s.messages = append(s.messages, message)
	return &discordgo.Message{ChannelID: channelID, Content: message}, nil
}

func newRecordingSender() *recordingSender {
	return &recordingSender{failAfter: -1}
}

// TestChunkMessage verifies chunk boundaries are rune-based and that
// concatenating the chunks reconstructs header+body exactly.
func TestChunkMessage(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		body       string
		limit      int
		wantChunks int
	}{
		{
			name:       "short message single chunk",
			header:     "📝 ",
			body:       "要約結果です",
			limit:      2000,
			wantChunks: 1,
		},
		{
			name:       "empty body sends header alone",
			header:     "📝 header\n",
			body:       "",
			limit:      2000,
			wantChunks: 1,
		},
		{
			name:       "exact limit is one chunk",
			header:     "",
			body:       strings.Repeat("a", 10),
			limit:      10,
			wantChunks: 1,
		},
		{
			name:       "one over the limit is two chunks",
			header:     "h",
			body:       strings.Repeat("a", 10),
			limit:      10,
			wantChunks: 2,
		},
		{
			name:       "multibyte text counts runes not bytes",
			header:     "🗞️",
			body:       strings.Repeat("要", 30),
			limit:      16,
			wantChunks: 2,
		},
	}

	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				chunks := chunkMessage(tt.header, tt.body, tt.limit)
				require.Len(t, chunks, tt.wantChunks)

				for _, chunk := range chunks {
					assert.LessOrEqual(
						t,
						utf8.RuneCountInString(chunk),
						tt.limit,
					)
				}
				assert.Equal(t, tt.header+tt.body, strings.Join(chunks, ""))
			},
		)
	}
}

// TestChunkedDispatcherSend verifies in-order delivery with the header on
// the first chunk only.
func TestChunkedDispatcherSend(t *testing.T) {
	sender := newRecordingSender()
	d := &ChunkedDispatcher{session: sender, limit: 10, logger: slog.Default()}

	sent, err := d.Send("chan-1", "HEAD:", strings.Repeat("x", 20))
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
	require.Len(t, sender.messages, 3)
	assert.Equal(t, "chan-1", sender.channelID)

	assert.True(t, strings.HasPrefix(sender.messages[0], "HEAD:"))
	for _, msg := range sender.messages[1:] {
		assert.False(t, strings.Contains(msg, "HEAD:"))
	}
	assert.Equal(
		t,
		"HEAD:"+strings.Repeat("x", 20),
		strings.Join(sender.messages, ""),
	)
}

// TestChunkedDispatcherAbortsOnFailure verifies that chunks after a failed
// send are not attempted, and that the returned count reflects only
// successful sends.
func TestChunkedDispatcherAbortsOnFailure(t *testing.T) {
	sender := newRecordingSender()
	sender.failAfter = 1
	d := &ChunkedDispatcher{session: sender, limit: 10, logger: slog.Default()}

	sent, err := d.Send("chan-1", "", strings.Repeat("x", 25))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDispatchFailed)
	assert.Equal(t, 1, sent)
	assert.Len(t, sender.messages, 1)
}

// TestChunkedDispatcherDefaultLimit verifies the production transport limit
// is applied by the constructor.
func TestChunkedDispatcherDefaultLimit(t *testing.T) {
	d := NewChunkedDispatcher(newRecordingSender(), nil)
	assert.Equal(t, discordMaxMessageLength, d.limit)
}
