package recapsamurai

import (
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"log/slog"
)

// ErrNoDeliveryChannel indicates no text-capable channel could be resolved
// for a guild. Cadence handlers skip the guild and log; nothing is surfaced
// upward.
var ErrNoDeliveryChannel = errors.New("no delivery channel")

// channelProvider defines the discordgo session methods the resolver needs,
// to enable testing/mocking.
type channelProvider interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
}

// ChannelResolver maps a guild to the channel digests are delivered to.
//
// Resolution order:
//  1. the configured delivery channel, if set and text-capable
//  2. the guild's system channel, if text-capable
//  3. the first text-capable channel in the guild's channel list
//
// A guild with no usable channel resolves to ErrNoDeliveryChannel - never
// a panic, even for a guild with zero channels.
type ChannelResolver struct {
	provider channelProvider
	logger   *slog.Logger
}

func NewChannelResolver(provider channelProvider, logger *slog.Logger) *ChannelResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelResolver{provider: provider, logger: logger}
}

func channelIsTextCapable(ch *discordgo.Channel) bool {
	if ch == nil {
		return false
	}
	switch ch.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return true
	default:
		return false
	}
}

// Resolve returns the delivery channel ID for the given guild.
// configuredChannelID may be empty.
func (r *ChannelResolver) Resolve(guildID string, configuredChannelID string) (string, error) {
	if configuredChannelID != "" {
		ch, err := r.provider.Channel(configuredChannelID)
		if err != nil {
			r.logger.Warn(
				"configured channel lookup failed, falling back",
				"guild_id", guildID,
				"channel_id", configuredChannelID,
			)
		} else if channelIsTextCapable(ch) {
			return ch.ID, nil
		}
	}

	channels, err := r.provider.GuildChannels(guildID)
	if err != nil {
		return "", fmt.Errorf("listing channels for guild %s: %w", guildID, ErrNoDeliveryChannel)
	}

	if guild, guildErr := r.provider.Guild(guildID); guildErr == nil && guild.SystemChannelID != "" {
		for _, ch := range channels {
			if ch.ID == guild.SystemChannelID && channelIsTextCapable(ch) {
				return ch.ID, nil
			}
		}
	}

	for _, ch := range channels {
		if channelIsTextCapable(ch) {
			return ch.ID, nil
		}
	}

	return "", fmt.Errorf("guild %s: %w", guildID, ErrNoDeliveryChannel)
}
