package recapsamurai

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/robfig/cron/v3"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Cadence identifies one independently scheduled recurring trigger. Each
// cadence is its own cron entry; there is no shared state machine across
// cadences - only the log store they all read.
type Cadence string

const (
	CadenceWeeklyDigest    Cadence = "weekly_digest"
	CadenceHeadlineDaily   Cadence = "headline_daily"
	CadenceHeadlineWeekly  Cadence = "headline_weekly"
	CadenceHeadlineMonthly Cadence = "headline_monthly"
	CadencePremiumReport   Cadence = "premium_report"
	CadenceRetention       Cadence = "retention"
)

const (
	weeklyDigestHeader   = "📝 **要約侍による週次ダイジェスト**\n"
	digestCommandHeader  = "📝 **要約侍のダイジェスト結果**\n"
	headlineHeaderFormat = "🗞️ **要約侍ヘッドライン（%s）**\n"

	headlineDailyLabel   = "24時間"
	headlineWeeklyLabel  = "週間"
	headlineMonthlyLabel = "月間"

	headlineDailyPeriod   = 24 * time.Hour
	headlineWeeklyPeriod  = 7 * 24 * time.Hour
	headlineMonthlyPeriod = 30 * 24 * time.Hour
	premiumReportPeriod   = 30 * 24 * time.Hour
	activityStatsPeriod   = 30 * 24 * time.Hour
)

// settingsSource is the read-only per-guild digest configuration boundary.
// Settings are re-read per scheduling decision; a nil result means the
// guild uses defaults.
type settingsSource interface {
	Get(guildID string) *GuildSettings
	All() []GuildSettings
}

// DigestScheduler owns the recurring cadence triggers: the weekly full
// digest, the 24h/weekly/monthly headline digests, the monthly premium
// report, and the daily retention prune.
//
// Guilds are processed sequentially within one firing, bounding load on
// the summarization backend. Every per-guild error is caught at the
// guild-iteration boundary so one guild's failure never aborts the rest
// of the batch, and panics inside a cadence callback are recovered so a
// bad cycle doesn't unregister the timer.
type DigestScheduler struct {
	store      LogStore
	resolver   *ChannelResolver
	summarizer Summarizer
	dispatcher *ChunkedDispatcher
	retention  *RetentionManager
	tiers      TierSource
	settings   settingsSource
	reporter   Reporter

	// db persists DigestRun audit rows; may be nil
	db *database

	config *SchedulerConfig
	logger *slog.Logger

	cron         *cron.Cron
	guildEntries map[string]cron.EntryID
	mu           sync.Mutex

	ctx context.Context

	// now is swappable for tests
	now func() time.Time
}

func NewDigestScheduler(
	config *SchedulerConfig,
	store LogStore,
	resolver *ChannelResolver,
	summarizer Summarizer,
	dispatcher *ChunkedDispatcher,
	retention *RetentionManager,
	tiers TierSource,
	settings settingsSource,
	reporter Reporter,
	db *database,
	logger *slog.Logger,
) *DigestScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DigestScheduler{
		config:       config,
		store:        store,
		resolver:     resolver,
		summarizer:   summarizer,
		dispatcher:   dispatcher,
		retention:    retention,
		tiers:        tiers,
		settings:     settings,
		reporter:     reporter,
		db:           db,
		logger:       logger,
		guildEntries: map[string]cron.EntryID{},
		now:          time.Now,
	}
}

// Start registers every cadence entry plus any stored per-guild digest
// schedules, then starts the cron runner.
func (s *DigestScheduler) Start(ctx context.Context) error {
	loc, err := time.LoadLocation(s.config.Timezone)
	if err != nil {
		return fmt.Errorf("invalid scheduler timezone %q: %w", s.config.Timezone, err)
	}
	s.ctx = ctx
	s.cron = cron.New(cron.WithLocation(loc))

	cadences := []struct {
		cadence Cadence
		expr    string
		fn      func(context.Context)
	}{
		{CadenceWeeklyDigest, s.config.WeeklyDigestCron, s.runWeeklyDigest},
		{
			CadenceHeadlineDaily, s.config.HeadlineDailyCron,
			func(ctx context.Context) {
				s.runHeadlineDigest(ctx, CadenceHeadlineDaily, headlineDailyPeriod, headlineDailyLabel)
			},
		},
		{
			CadenceHeadlineWeekly, s.config.HeadlineWeeklyCron,
			func(ctx context.Context) {
				s.runHeadlineDigest(ctx, CadenceHeadlineWeekly, headlineWeeklyPeriod, headlineWeeklyLabel)
			},
		},
		{
			CadenceHeadlineMonthly, s.config.HeadlineMonthlyCron,
			func(ctx context.Context) {
				s.runHeadlineDigest(ctx, CadenceHeadlineMonthly, headlineMonthlyPeriod, headlineMonthlyLabel)
			},
		},
		{CadencePremiumReport, s.config.PremiumReportCron, s.runPremiumReports},
		{
			CadenceRetention, s.config.RetentionCron,
			func(context.Context) {
				s.retention.Prune(s.now())
			},
		},
	}

	for _, c := range cadences {
		if _, addErr := s.cron.AddFunc(c.expr, s.cadenceFunc(ctx, c.cadence, c.fn)); addErr != nil {
			return fmt.Errorf("registering cadence %s (%q): %w", c.cadence, c.expr, addErr)
		}
		s.logger.Info("registered cadence", "cadence", c.cadence, "cron", c.expr)
	}

	for _, settings := range s.settings.All() {
		if settings.DigestCron == "" {
			continue
		}
		if applyErr := s.ApplyGuildSchedule(settings.GuildID, settings.DigestCron); applyErr != nil {
			s.logger.Error(
				"skipping invalid guild digest schedule",
				tint.Err(applyErr),
				"guild_id", settings.GuildID,
				"cron", settings.DigestCron,
			)
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "timezone", s.config.Timezone)
	return nil
}

// Stop halts the cron runner and waits for in-flight cadence callbacks.
func (s *DigestScheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// ApplyGuildSchedule replaces the guild's dedicated weekly digest entry.
// An empty expression removes the override, returning the guild to the
// global weekly cadence.
func (s *DigestScheduler) ApplyGuildSchedule(guildID string, expr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.guildEntries[guildID]; ok {
		s.cron.Remove(entryID)
		delete(s.guildEntries, guildID)
	}
	if expr == "" {
		return nil
	}

	entryID, err := s.cron.AddFunc(
		expr,
		s.cadenceFunc(
			s.ctx, CadenceWeeklyDigest, func(ctx context.Context) {
				s.digestGuild(ctx, guildID)
			},
		),
	)
	if err != nil {
		return err
	}
	s.guildEntries[guildID] = entryID
	s.logger.Info("applied guild digest schedule", "guild_id", guildID, "cron", expr)
	return nil
}

func (s *DigestScheduler) hasGuildSchedule(guildID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.guildEntries[guildID]
	return ok
}

// cadenceFunc wraps a cadence handler with panic recovery and logging.
func (s *DigestScheduler) cadenceFunc(
	ctx context.Context,
	cadence Cadence,
	fn func(context.Context),
) func() {
	return func() {
		defer func() {
			if rc := recover(); rc != nil {
				s.logger.Error(
					"cadence handler panicked",
					"cadence", cadence,
					"panic", rc,
					"stack", string(debug.Stack()),
				)
			}
		}()
		s.logger.Info("cadence fired", "cadence", cadence)
		fn(ctx)
	}
}

// runWeeklyDigest runs the full weekly digest for every guild with a
// non-empty log. Guilds with their own digest schedule are handled by
// their dedicated entry and skipped here.
func (s *DigestScheduler) runWeeklyDigest(ctx context.Context) {
	for _, guildID := range s.store.GuildIDs() {
		if s.hasGuildSchedule(guildID) {
			continue
		}
		s.digestGuild(ctx, guildID)
	}
}

// digestGuild runs the weekly digest pipeline for one guild:
// resolve, summarize, dispatch and - strictly after a fully successful
// dispatch - clear the guild's log. Failures are logged and recorded,
// never propagated.
func (s *DigestScheduler) digestGuild(ctx context.Context, guildID string) {
	msgs := s.store.Get(guildID)
	if len(msgs) == 0 {
		return
	}

	run := &DigestRun{
		RunID:        uuid.NewString(),
		GuildID:      guildID,
		Cadence:      string(CadenceWeeklyDigest),
		MessageCount: len(msgs),
		StartedAt:    s.now().UnixMilli(),
	}

	channelID, err := s.resolver.Resolve(guildID, s.configuredChannel(guildID))
	if err != nil {
		s.logger.Warn(
			"skipping guild, no delivery channel",
			"guild_id", guildID,
			tint.Err(err),
		)
		s.recordRun(run, digestRunStateSkipped, err)
		return
	}
	run.ChannelID = channelID

	stats := summarizeActivity(msgs, s.now().Add(-activityStatsPeriod).UnixMilli())
	summary, err := s.summarizer.Summarize(ctx, weeklyPrompt(stats), msgs, weeklyGenerateOptions)
	if err != nil {
		s.logger.Error(
			"weekly digest generation failed",
			tint.Err(err),
			"guild_id", guildID,
		)
		s.recordRun(run, digestRunStateFailed, err)
		return
	}
	run.SummaryLength = len(summary)

	chunksSent, err := s.dispatcher.Send(channelID, weeklyDigestHeader, summary)
	run.ChunksSent = chunksSent
	if err != nil {
		s.logger.Error(
			"weekly digest dispatch failed",
			tint.Err(err),
			"guild_id", guildID,
			"channel_id", channelID,
		)
		s.recordRun(run, digestRunStateFailed, err)
		return
	}

	// Clearing happens only after successful dispatch, so a failed send
	// leaves the log intact for the next cycle.
	s.store.Replace(guildID, nil)
	s.recordRun(run, digestRunStateCompleted, nil)
	s.logger.Info(
		"weekly digest sent",
		"guild_id", guildID,
		"channel_id", channelID,
		"messages", len(msgs),
		"chunks", chunksSent,
	)
}

// runHeadlineDigest produces the bounded, structured headline summary over
// the period window. Unlike the weekly digest, it never clears the log:
// multiple overlapping cadences read the same records.
func (s *DigestScheduler) runHeadlineDigest(
	ctx context.Context,
	cadence Cadence,
	period time.Duration,
	label string,
) {
	cutoff := s.now().Add(-period).UnixMilli()
	for _, guildID := range s.store.GuildIDs() {
		s.headlineGuild(ctx, cadence, guildID, cutoff, label)
	}
}

func (s *DigestScheduler) headlineGuild(
	ctx context.Context,
	cadence Cadence,
	guildID string,
	cutoff int64,
	label string,
) {
	msgs := recordsSince(s.store.Get(guildID), cutoff)
	if len(msgs) == 0 {
		return
	}

	run := &DigestRun{
		RunID:        uuid.NewString(),
		GuildID:      guildID,
		Cadence:      string(cadence),
		MessageCount: len(msgs),
		StartedAt:    s.now().UnixMilli(),
	}

	channelID, err := s.resolver.Resolve(guildID, s.configuredChannel(guildID))
	if err != nil {
		s.logger.Warn(
			"skipping guild, no delivery channel",
			"guild_id", guildID,
			"cadence", cadence,
			tint.Err(err),
		)
		s.recordRun(run, digestRunStateSkipped, err)
		return
	}
	run.ChannelID = channelID

	summary, err := s.summarizer.Summarize(ctx, headlinePromptTemplate, msgs, headlineGenerateOptions)
	if err != nil {
		s.logger.Error(
			"headline generation failed",
			tint.Err(err),
			"guild_id", guildID,
			"cadence", cadence,
		)
		s.recordRun(run, digestRunStateFailed, err)
		return
	}
	run.SummaryLength = len(summary)

	chunksSent, err := s.dispatcher.Send(
		channelID,
		fmt.Sprintf(headlineHeaderFormat, label),
		summary,
	)
	run.ChunksSent = chunksSent
	if err != nil {
		s.logger.Error(
			"headline dispatch failed",
			tint.Err(err),
			"guild_id", guildID,
			"cadence", cadence,
		)
		s.recordRun(run, digestRunStateFailed, err)
		return
	}
	s.recordRun(run, digestRunStateCompleted, nil)
}

// runPremiumReports emits the monthly tabular activity export for premium
// guilds.
func (s *DigestScheduler) runPremiumReports(_ context.Context) {
	cutoff := s.now().Add(-premiumReportPeriod).UnixMilli()
	for _, guildID := range s.store.GuildIDs() {
		if s.tiers.GuildTier(guildID) != TierPremium {
			continue
		}
		msgs := recordsSince(s.store.Get(guildID), cutoff)
		if len(msgs) == 0 {
			continue
		}

		run := &DigestRun{
			RunID:        uuid.NewString(),
			GuildID:      guildID,
			Cadence:      string(CadencePremiumReport),
			MessageCount: len(msgs),
			StartedAt:    s.now().UnixMilli(),
		}

		channelID, err := s.resolver.Resolve(guildID, s.configuredChannel(guildID))
		if err != nil {
			s.recordRun(run, digestRunStateSkipped, err)
			continue
		}
		run.ChannelID = channelID

		if err = s.reporter.SendActivityReport(
			channelID,
			"monthly",
			activityRows(msgs),
		); err != nil {
			s.logger.Error(
				"premium report failed",
				tint.Err(err),
				"guild_id", guildID,
			)
			s.recordRun(run, digestRunStateFailed, err)
			continue
		}
		s.recordRun(run, digestRunStateCompleted, nil)
	}
}

func (s *DigestScheduler) configuredChannel(guildID string) string {
	if settings := s.settings.Get(guildID); settings != nil {
		return settings.DigestChannelID
	}
	return ""
}

func (s *DigestScheduler) recordRun(run *DigestRun, state string, err error) {
	run.State = state
	if err != nil {
		run.Error = err.Error()
	}
	run.FinishedAt = s.now().UnixMilli()
	if s.db == nil {
		return
	}
	if createErr := s.db.Create(run); createErr != nil {
		s.logger.Error("error recording digest run", tint.Err(createErr), "run_id", run.RunID)
	}
}

type activitySummary struct {
	total           int
	counts          map[string]int
	mostActive      string
	mostActiveCount int
}

// summarizeActivity computes per-author message counts over the whole log
// and the most active member within the month window. Ties resolve to the
// author seen first.
func summarizeActivity(msgs []MessageRecord, monthCutoff int64) activitySummary {
	stats := activitySummary{counts: map[string]int{}}
	monthCounts := map[string]int{}
	for _, m := range msgs {
		stats.total++
		stats.counts[m.Author]++
		if m.Timestamp >= monthCutoff {
			monthCounts[m.Author]++
			if monthCounts[m.Author] > stats.mostActiveCount {
				stats.mostActiveCount = monthCounts[m.Author]
				stats.mostActive = m.Author
			}
		}
	}
	return stats
}

// weeklyPrompt extends the weekly digest template with the participation
// insight so the generated digest can mention the most active member.
func weeklyPrompt(stats activitySummary) string {
	if stats.mostActive == "" {
		return weeklyPromptTemplate
	}
	return fmt.Sprintf(
		"%s\n\n参加者インサイト: 今週の発言数は%d件、今月のMVPメンバーは%s（%d件）です。要約の末尾にこのインサイトを一文で添えてください。",
		weeklyPromptTemplate,
		stats.total,
		stats.mostActive,
		stats.mostActiveCount,
	)
}

// activityRows aggregates records into export rows, ordered by first
// appearance of each author.
func activityRows(msgs []MessageRecord) []ActivityRow {
	index := map[string]int{}
	rows := make([]ActivityRow, 0)
	for _, m := range msgs {
		at := time.UnixMilli(m.Timestamp)
		i, ok := index[m.Author]
		if !ok {
			index[m.Author] = len(rows)
			rows = append(
				rows, ActivityRow{
					Author:        m.Author,
					Messages:      1,
					FirstActiveAt: at,
					LastActiveAt:  at,
				},
			)
			continue
		}
		rows[i].Messages++
		if at.After(rows[i].LastActiveAt) {
			rows[i].LastActiveAt = at
		}
	}
	return rows
}
