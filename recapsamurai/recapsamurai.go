package recapsamurai

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/Paradise-Lost-Developer-Team/Recap-Samurai/recapsamurai.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// RecapSamurai is the top-level bot: it owns the Discord session, the
// in-memory message log, the digest scheduler, the database-backed
// settings and subscription stores, and the backend HTTP API.
type RecapSamurai struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler

	db            *database
	settings      *SettingsStore
	subscriptions *SubscriptionStore

	logStore   LogStore
	watcher    *KeywordWatcher
	resolver   *ChannelResolver
	summarizer Summarizer
	dispatcher *ChunkedDispatcher
	retention  *RetentionManager
	reporter   Reporter
	scheduler  *DigestScheduler

	discord *Discord
	api     *API

	startedAt   time.Time
	signalStop  chan struct{}
	signalReady chan struct{}
	runMu       sync.Mutex

	discordgoRemoveHandlerFuncs []func()
}

// New assembles a RecapSamurai from static configuration. Database and
// Discord connections are deferred to Run.
func New(config *Config) (*RecapSamurai, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	rs := &RecapSamurai{
		config:      config,
		signalReady: make(chan struct{}, 1),
		logStore:    NewMemoryLogStore(),
		watcher:     NewKeywordWatcher(config.Keywords),
	}

	rs.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	rs.logger = slog.New(rs.logHandler)
	slog.SetDefault(rs.logger)

	config.Discord.httpClient = config.HTTPClient

	disc, err := newDiscord(config.Discord)
	if err != nil {
		errs = append(errs, err)
	} else {
		disc.logger = newComponentLogger("discord", config.Discord.LogLevel)
		disc.rs = rs
		rs.discord = disc
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	rs.summarizer = newOpenAISummarizer(config.Summarizer, config.HTTPClient)

	return rs, errors.Join(errs...)
}

func (rs *RecapSamurai) ValidateConfig() error {
	return structValidator.Struct(rs.config)
}

// Run starts the bot and blocks until the given context is canceled or
// a stop signal is received, then shuts down gracefully.
func (rs *RecapSamurai) Run(ctx context.Context) error {
	// prevents concurrent runs
	rs.runMu.Lock()
	defer rs.runMu.Unlock()

	rs.signalStop = make(chan struct{}, 1)
	rs.startedAt = time.Now()
	logger := rs.logger

	if err := rs.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", rs.config))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-rs.signalStop:
			rs.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			rs.logger.Warn("context canceled, sending stop signal")
			rs.signalStop <- struct{}{}
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, rs.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		initErr <- rs.initRun(startCtx, ctx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
		logger.InfoContext(ctx, "init complete")
	}

	go func() {
		httpErr := rs.api.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			rs.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
		}
	}()

	rs.signalReady <- struct{}{}
	rs.logger.InfoContext(ctx, "sent ready signal")

	// block until something cancels the main runtime context
	<-ctx.Done()

	return rs.shutdown()
}

// initRun connects the database, wires the digest pipeline, opens the
// Discord gateway session and starts the scheduler.
func (rs *RecapSamurai) initRun(startCtx context.Context, ctx context.Context) error {
	db, err := connectDatabase(rs.config, rs.logHandler)
	if err != nil {
		return fmt.Errorf("error connecting to database: %w", err)
	}
	rs.db = db
	rs.settings = NewSettingsStore(db, rs.logger.With(loggerNameKey, "settings"))
	rs.subscriptions = NewSubscriptionStore(
		db,
		rs.logger.With(loggerNameKey, "subscriptions"),
	)

	api, err := newAPI(rs.config.API, rs.subscriptions, rs.config.HTTPClient)
	if err != nil {
		return fmt.Errorf("error creating api: %w", err)
	}
	rs.api = api

	session, err := rs.discord.newSession()
	if err != nil {
		return err
	}
	rs.discord.session = session

	rs.resolver = NewChannelResolver(
		session,
		rs.logger.With(loggerNameKey, "resolver"),
	)
	rs.dispatcher = NewChunkedDispatcher(
		session,
		rs.logger.With(loggerNameKey, "dispatcher"),
	)
	rs.reporter = NewCSVReporter(session, rs.logger.With(loggerNameKey, "reporter"))
	rs.retention = NewRetentionManager(
		rs.logStore,
		rs.subscriptions,
		rs.config.Scheduler.RetentionMaxAge,
		rs.logger.With(loggerNameKey, "retention"),
	)
	rs.scheduler = NewDigestScheduler(
		rs.config.Scheduler,
		rs.logStore,
		rs.resolver,
		rs.summarizer,
		rs.dispatcher,
		rs.retention,
		rs.subscriptions,
		rs.settings,
		rs.reporter,
		rs.db,
		newComponentLogger("scheduler", rs.config.Scheduler.LogLevel),
	)

	rs.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(rs.discord.handlerReady()),
		session.AddHandler(rs.discord.handlerConnect()),
		session.AddHandler(rs.discord.handlerDisconnect()),
		session.AddHandler(rs.getMessageCreateHandlerFunc()),
		session.AddHandler(rs.getGuildCreateHandlerFunc()),
		session.AddHandler(rs.getInteractionHandlerFunc(ctx)),
	}

	if err = session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}

	if _, err = rs.discord.registerCommands(); err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}

	if err = rs.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("error starting scheduler: %w", err)
	}

	select {
	case <-startCtx.Done():
		return startCtx.Err()
	default:
		return nil
	}
}

// getMessageCreateHandlerFunc returns the gateway handler that feeds the
// log store and fires keyword alerts. Bot authors and DMs are ignored.
func (rs *RecapSamurai) getMessageCreateHandlerFunc() func(
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	return func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		if m.GuildID == "" || m.Content == "" {
			return
		}

		record := MessageRecord{
			Content:   m.Content,
			Author:    m.Author.Username,
			Timestamp: m.Timestamp.UnixMilli(),
		}
		rs.logStore.Append(m.GuildID, record)
		rs.discord.metricMessagesLogged.Add(1)

		keyword, matched := rs.watcher.Match(m.Content)
		if !matched {
			return
		}
		if _, err := rs.discord.session.ChannelMessageSendReply(
			m.ChannelID,
			fmt.Sprintf(keywordAlertReplyFormat, keyword),
			m.Reference(),
		); err != nil {
			rs.logger.Error(
				"error sending keyword alert",
				tint.Err(err),
				"guild_id", m.GuildID,
				"channel_id", m.ChannelID,
				"keyword", keyword,
			)
		}
	}
}

// getGuildCreateHandlerFunc returns the gateway handler that greets a
// guild when the bot joins it.
func (rs *RecapSamurai) getGuildCreateHandlerFunc() func(
	s *discordgo.Session,
	g *discordgo.GuildCreate,
) {
	return func(_ *discordgo.Session, g *discordgo.GuildCreate) {
		if rs.config.Discord.StartupMessage == "" {
			return
		}
		// GuildCreate also fires for every guild on connect; only greet
		// guilds the bot was just added to.
		if g.JoinedAt.Before(rs.startedAt) {
			return
		}
		channelID, err := rs.resolver.Resolve(g.ID, "")
		if err != nil {
			rs.logger.Warn(
				"no channel for welcome message",
				tint.Err(err),
				"guild_id", g.ID,
			)
			return
		}
		if err = rs.discord.channelMessageSend(
			channelID,
			rs.config.Discord.StartupMessage,
		); err != nil {
			rs.logger.Error(
				"error sending welcome message",
				tint.Err(err),
				"guild_id", g.ID,
			)
		}
	}
}

// shutdown stops the scheduler, closes the gateway session and the HTTP
// server, bounded by the configured shutdown timeout.
func (rs *RecapSamurai) shutdown() error {
	logger := rs.logger
	logger.Warn("starting shutdown")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		rs.config.ShutdownTimeout,
	)
	defer cancel()

	if rs.scheduler != nil {
		rs.scheduler.Stop()
	}

	for _, removeHandler := range rs.discordgoRemoveHandlerFuncs {
		removeHandler()
	}
	if rs.discord != nil && rs.discord.session != nil {
		if err := rs.discord.session.Close(); err != nil {
			logger.Error("error closing discord session", tint.Err(err))
		}
	}

	if rs.api != nil {
		if err := rs.api.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down api", tint.Err(err))
		}
	}

	logger.Warn("shutdown complete")
	return nil
}
