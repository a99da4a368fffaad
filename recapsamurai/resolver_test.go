package recapsamurai

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

type stubChannelProvider struct {
	channels      map[string]*discordgo.Channel
	guilds        map[string]*discordgo.Guild
	guildChannels map[string][]*discordgo.Channel
}

func (p *stubChannelProvider) Channel(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	ch, ok := p.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("unknown channel %s", channelID)
	}
	return ch, nil
}

func (p *stubChannelProvider) Guild(
	guildID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Guild, error) {
	g, ok := p.guilds[guildID]
	if !ok {
		return nil, fmt.Errorf("unknown guild %s", guildID)
	}
	return g, nil
}

func (p *stubChannelProvider) GuildChannels(
	guildID string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Channel, error) {
	chs, ok := p.guildChannels[guildID]
	if !ok {
		return nil, fmt.Errorf("unknown guild %s", guildID)
	}
	return chs, nil
}

// TestChannelResolver covers the full resolution order: configured channel,
// system channel, first text-capable channel, and the no-channel error.
func TestChannelResolver(t *testing.T) {
	textChannel := &discordgo.Channel{
		ID:   "text-1",
		Type: discordgo.ChannelTypeGuildText,
	}
	newsChannel := &discordgo.Channel{
		ID:   "news-1",
		Type: discordgo.ChannelTypeGuildNews,
	}
	voiceChannel := &discordgo.Channel{
		ID:   "voice-1",
		Type: discordgo.ChannelTypeGuildVoice,
	}
	systemChannel := &discordgo.Channel{
		ID:   "system-1",
		Type: discordgo.ChannelTypeGuildText,
	}

	tests := []struct {
		name          string
		provider      *stubChannelProvider
		configuredID  string
		wantChannelID string
		wantErr       error
	}{
		{
			name: "configured channel wins",
			provider: &stubChannelProvider{
				channels: map[string]*discordgo.Channel{"text-1": textChannel},
			},
			configuredID:  "text-1",
			wantChannelID: "text-1",
		},
		{
			name: "configured news channel is text-capable",
			provider: &stubChannelProvider{
				channels: map[string]*discordgo.Channel{"news-1": newsChannel},
			},
			configuredID:  "news-1",
			wantChannelID: "news-1",
		},
		{
			name: "configured voice channel falls through to system channel",
			provider: &stubChannelProvider{
				channels: map[string]*discordgo.Channel{"voice-1": voiceChannel},
				guilds: map[string]*discordgo.Guild{
					"g1": {ID: "g1", SystemChannelID: "system-1"},
				},
				guildChannels: map[string][]*discordgo.Channel{
					"g1": {voiceChannel, systemChannel},
				},
			},
			configuredID:  "voice-1",
			wantChannelID: "system-1",
		},
		{
			name: "system channel preferred over other text channels",
			provider: &stubChannelProvider{
				guilds: map[string]*discordgo.Guild{
					"g1": {ID: "g1", SystemChannelID: "system-1"},
				},
				guildChannels: map[string][]*discordgo.Channel{
					"g1": {textChannel, systemChannel},
				},
			},
			wantChannelID: "system-1",
		},
		{
			name: "first text-capable channel when no system channel",
			provider: &stubChannelProvider{
				guilds: map[string]*discordgo.Guild{"g1": {ID: "g1"}},
				guildChannels: map[string][]*discordgo.Channel{
					"g1": {voiceChannel, newsChannel, textChannel},
				},
			},
			wantChannelID: "news-1",
		},
		{
			name: "no text-capable channels",
			provider: &stubChannelProvider{
				guilds: map[string]*discordgo.Guild{"g1": {ID: "g1"}},
				guildChannels: map[string][]*discordgo.Channel{
					"g1": {voiceChannel},
				},
			},
			wantErr: ErrNoDeliveryChannel,
		},
		{
			name: "guild with zero channels",
			provider: &stubChannelProvider{
				guilds: map[string]*discordgo.Guild{"g1": {ID: "g1"}},
				guildChannels: map[string][]*discordgo.Channel{
					"g1": {},
				},
			},
			wantErr: ErrNoDeliveryChannel,
		},
		{
			name:     "channel listing failure",
			provider: &stubChannelProvider{},
			wantErr:  ErrNoDeliveryChannel,
		},
	}

	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				resolver := NewChannelResolver(tt.provider, nil)
				channelID, err := resolver.Resolve("g1", tt.configuredID)
				if tt.wantErr != nil {
					require.Error(t, err)
					assert.ErrorIs(t, err, tt.wantErr)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tt.wantChannelID, channelID)
			},
		)
	}
}
