package recapsamurai

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
)

const (
	// setupCommandWeekdayOption is the option name for the digest weekday
	// in the /setup command.
	setupCommandWeekdayOption = "weekday"

	// setupCommandTimeOption is the option name for the digest time of day
	// (HH:MM) in the /setup command.
	setupCommandTimeOption = "time"

	// setupCommandChannelOption is the option name for the digest delivery
	// channel in the /setup command.
	setupCommandChannelOption = "channel"

	// logSearchCommandKeywordOption is the option name for the search
	// keyword in the /logsearch command.
	logSearchCommandKeywordOption = "keyword"

	// logQACommandQuestionOption is the option name for the question in
	// the /logqa command.
	logQACommandQuestionOption = "question"

	// logSearchResultLimit caps how many matching records /logsearch
	// returns, newest last.
	logSearchResultLimit = 10
)

// Discord manages the gateway session for the digest bot: connection
// lifecycle, slash command registration, and the message/interaction
// handlers that feed the log store.
type Discord struct {
	session                     DiscordSessionHandler
	config                      *DiscordConfig
	logger                      *slog.Logger
	metricConnects              atomic.Int64
	metricDisconnects           atomic.Int64
	metricMessagesLogged        atomic.Int64
	connected                   atomic.Bool
	discordgoRemoveHandlerFuncs []func()
	rs                          *RecapSamurai
}

// newDiscord initializes a new Discord instance with the provided configuration
func newDiscord(config *DiscordConfig) (*Discord, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("discord token not set")
	}
	return &Discord{
		config:                      config,
		discordgoRemoveHandlerFuncs: []func(){},
	}, nil
}

// newSession initializes a new Discord session for the Discord struct.
// It sets up the session with the appropriate logger, token, and configuration.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{logger: d.logger.With(loggerNameKey, "discord_session_handler")}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.StateEnabled = false
	disc.Identify.Intents = d.config.GatewayIntents
	session.session = disc
	if d.config.httpClient != nil {
		disc.Client = d.config.httpClient
	}

	if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
		return session, err
	}

	return session, nil
}

// appCommandDigest creates the ApplicationCommand for the on-demand
// digest command.
func (*Discord) appCommandDigest() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandDigest,
		Type:        discordgo.ChatApplicationCommand,
		Description: "蓄積されたメッセージログから今すぐダイジェストを生成します",
	}
}

// appCommandSetup creates the ApplicationCommand for configuring the
// per-guild digest schedule and delivery channel.
func (*Discord) appCommandSetup() *discordgo.ApplicationCommand {
	weekdayChoices := []*discordgo.ApplicationCommandOptionChoice{
		{Name: "日曜日", Value: 0},
		{Name: "月曜日", Value: 1},
		{Name: "火曜日", Value: 2},
		{Name: "水曜日", Value: 3},
		{Name: "木曜日", Value: 4},
		{Name: "金曜日", Value: 5},
		{Name: "土曜日", Value: 6},
	}
	channelTypes := []discordgo.ChannelType{
		discordgo.ChannelTypeGuildText,
		discordgo.ChannelTypeGuildNews,
	}
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandSetup,
		Type:        discordgo.ChatApplicationCommand,
		Description: "週次ダイジェストの曜日・時刻・配信チャンネルを設定します",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        setupCommandWeekdayOption,
				Description: "ダイジェストを配信する曜日",
				Required:    true,
				Choices:     weekdayChoices,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        setupCommandTimeOption,
				Description: "配信時刻（HH:MM、24時間表記）",
				Required:    true,
			},
			{
				Type:         discordgo.ApplicationCommandOptionChannel,
				Name:         setupCommandChannelOption,
				Description:  "ダイジェストの配信先チャンネル",
				Required:     false,
				ChannelTypes: channelTypes,
			},
		},
	}
}

// appCommandLogSearch creates the ApplicationCommand for searching the
// guild's message log.
func (*Discord) appCommandLogSearch() *discordgo.ApplicationCommand {
	minLength := 1
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandLogSearch,
		Type:        discordgo.ChatApplicationCommand,
		Description: "メッセージログをキーワードで検索します",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        logSearchCommandKeywordOption,
				Description: "検索するキーワード",
				Required:    true,
				MinLength:   &minLength,
			},
		},
	}
}

// appCommandLogQA creates the ApplicationCommand for asking a question
// against the guild's message log.
func (*Discord) appCommandLogQA() *discordgo.ApplicationCommand {
	minLength := 1
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandLogQA,
		Type:        discordgo.ChatApplicationCommand,
		Description: "メッセージログの内容について質問します",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        logQACommandQuestionOption,
				Description: "ログに対する質問",
				Required:    true,
				MinLength:   &minLength,
			},
		},
	}
}

// channelMessageSend sends the given message to the given discord channel ID
func (d *Discord) channelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) error {
	_, err := d.session.ChannelMessageSend(channelID, message, opts...)
	return err
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(s *discordgo.Session, r *discordgo.Ready) {
		d.logger.Info(
			"Ready",
			"session_id", s.State.SessionID,
			"user_id", s.State.User.ID,
			"username", s.State.User.Username,
		)
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(s *discordgo.Session, r *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		var sessionID string
		var userID string
		var username string

		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
			if s.State.User != nil {
				userID = s.State.User.ID
				username = s.State.User.Username
			}
		}
		d.logger.Info(
			"Connected",
			"session_id", sessionID,
			slog.Group("user", "id", userID, "username", username),
		)
		if d.config.CustomStatus != "" {
			if statusErr := d.session.UpdateCustomStatus(d.config.CustomStatus); statusErr != nil {
				d.logger.Error("unable to set custom status", tint.Err(statusErr))
			}
		}
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, r *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)

		var sessionID string
		var userID string
		var username string

		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
			if s.State.User != nil {
				userID = s.State.User.ID
				username = s.State.User.Username
			}
		}
		d.logger.Info(
			"disconnected",
			"session_id", sessionID,
			slog.Group("user", "id", userID, "username", username),
		)
	}
}

// registerCommands sends the bot's commands to the discord bulk overwrite
// endpoint
func (d *Discord) registerCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	commands := []*discordgo.ApplicationCommand{
		d.appCommandDigest(),
		d.appCommandSetup(),
		d.appCommandLogSearch(),
		d.appCommandLogQA(),
	}

	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command", c.Name)
	}

	return created, nil
}

func (d *Discord) ackResponse(commandName string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: d.ackResponseFlag(commandName),
		},
	}
}

// ackResponseFlag returns the appropriate discordgo.MessageFlags based on the given command.
func (*Discord) ackResponseFlag(command string) discordgo.MessageFlags {
	switch command {
	case DiscordSlashCommandDigest:
		return discordgo.MessageFlagsLoading
	case DiscordSlashCommandLogQA:
		return discordgo.MessageFlagsLoading
	default:
		return discordgo.MessageFlagsEphemeral
	}
}

// DiscordSessionHandler defines the interface for handling Discord sessions.
// This is basically defines methods from `discordgo.Session` which are
// used in this application, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// ChannelMessageSend sends a message to a specified channel
	ChannelMessageSend(
		channelID string,
		message string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageSendReply sends a message to the given channel, as a
	// reply to the referenced message
	ChannelMessageSendReply(
		channelID string,
		content string,
		reference *discordgo.MessageReference,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelFileSend sends a file attachment to the given channel
	ChannelFileSend(
		channelID string,
		name string,
		r io.Reader,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ApplicationCommandBulkOverwrite overwrites Discord application
	// commands in bulk
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// UpdateCustomStatus sets the bot's user status to the given string.
	// If empty, sets the bot user to active and removes any existing
	// custom status.
	UpdateCustomStatus(status string) error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// InteractionRespond sends an interaction response to Discord
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// InteractionResponseEdit modifies the given interaction
	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// Channel fetches a channel by ID
	Channel(
		channelID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	// Guild fetches a guild by ID
	Guild(
		guildID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Guild, error)

	// GuildChannels fetches all channels of a guild
	GuildChannels(
		guildID string,
		options ...discordgo.RequestOption,
	) ([]*discordgo.Channel, error)

	// SetHTTPClient sets the HTTP client for the session
	SetHTTPClient(client *http.Client)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSend(channelID, message, opts...)
}

func (d DiscordSession) ChannelMessageSendReply(
	channelID string,
	content string,
	reference *discordgo.MessageReference,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendReply(
		channelID, content, reference, options...,
	)
	if err != nil {
		d.logger.Error(
			"error sending message reply",
			tint.Err(err),
			"channel_id", channelID,
			"content", content,
			"reference", reference,
		)
	} else {
		d.logger.Info(
			"sent message reply",
			"channel_id", channelID,
			"content", content,
			"reference", reference,
		)
	}
	return msg, err
}

func (d DiscordSession) ChannelFileSend(
	channelID string,
	name string,
	r io.Reader,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelFileSend(channelID, name, r, options...)
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command", c.Name)
	}

	return created, nil
}

func (d DiscordSession) UpdateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.InteractionResponseEdit(interaction, newresp, options...)
}

func (d DiscordSession) Channel(
	channelID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.Channel(channelID, options...)
}

func (d DiscordSession) Guild(
	guildID string,
	options ...discordgo.RequestOption,
) (*discordgo.Guild, error) {
	return d.session.Guild(guildID, options...)
}

func (d DiscordSession) GuildChannels(
	guildID string,
	options ...discordgo.RequestOption,
) ([]*discordgo.Channel, error) {
	return d.session.GuildChannels(guildID, options...)
}

func (d DiscordSession) SetHTTPClient(client *http.Client) {
	d.session.Client = client
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}

// getDiscordUser returns the [discordgo.User] associated with the interaction.
// Users don't always appear in the same place in the interaction object, so
// this checks known areas.
func getDiscordUser(i *discordgo.InteractionCreate) *discordgo.User {
	u := i.User
	if u == nil && i.Member != nil {
		u = i.Member.User
	}
	return u
}
