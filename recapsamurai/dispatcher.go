package recapsamurai

import (
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"log/slog"
)

// ErrDispatchFailed indicates a transport send failed. Remaining chunks for
// the same guild are aborted; a partial digest is acceptable and logged, not
// retried.
var ErrDispatchFailed = errors.New("dispatch failed")

// messageSender defines the discordgo session method the dispatcher needs,
// to enable testing/mocking.
type messageSender interface {
	ChannelMessageSend(
		channelID string,
		message string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)
}

// ChunkedDispatcher delivers arbitrarily long generated text through the
// length-limited channel transport, splitting it into in-order chunks with
// the header prefix on the first chunk only.
type ChunkedDispatcher struct {
	session messageSender
	limit   int
	logger  *slog.Logger
}

func NewChunkedDispatcher(session messageSender, logger *slog.Logger) *ChunkedDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChunkedDispatcher{
		session: session,
		limit:   discordMaxMessageLength,
		logger:  logger,
	}
}

// chunkMessage slices header+body once, then the remainder at exactly limit.
// Lengths are measured in runes: the transport counts characters, and
// concatenating the chunks must reconstruct the input exactly even for
// multibyte text. An empty body still produces the header alone.
func chunkMessage(header string, body string, limit int) []string {
	runes := []rune(header + body)
	if len(runes) == 0 {
		return []string{""}
	}
	chunks := make([]string, 0, len(runes)/limit+1)
	for len(runes) > limit {
		chunks = append(chunks, string(runes[:limit]))
		runes = runes[limit:]
	}
	return append(chunks, string(runes))
}

// Send dispatches header+body to the given channel as one or more messages.
// It returns the number of chunks actually sent; on failure, chunks after
// the failed one are not attempted.
func (d *ChunkedDispatcher) Send(channelID string, header string, body string) (int, error) {
	chunks := chunkMessage(header, body, d.limit)
	for i, chunk := range chunks {
		if _, err := d.session.ChannelMessageSend(channelID, chunk); err != nil {
			return i, fmt.Errorf(
				"%w: chunk %d/%d to channel %s: %w",
				ErrDispatchFailed, i+1, len(chunks), channelID, err,
			)
		}
	}
	d.logger.Debug(
		"dispatched message",
		"channel_id", channelID,
		"chunks", len(chunks),
		"body_len", len(body),
	)
	return len(chunks), nil
}
