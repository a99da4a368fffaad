package recapsamurai

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"strconv"
	"strings"
)

const (
	digestEmptyLogMessage    = "今週のメッセージログが見つかりませんでした。"
	digestFailedMessage      = "ダイジェストの生成に失敗しました。時間をおいて再度お試しください。"
	setupGuildOnlyMessage    = "このコマンドはサーバー内でのみ使用できます。"
	setupBadTimeMessage      = "時刻は HH:MM（24時間表記）で指定してください。"
	setupSavedMessageFormat  = "週次ダイジェストを毎週%sの%sに配信するよう設定しました。"
	setupChannelNoteFormat   = "配信先チャンネル: <#%s>"
	logSearchNoMatchMessage  = "キーワードに一致するメッセージは見つかりませんでした。"
	logSearchHeaderFormat    = "🔍 「%s」の検索結果（最新%d件）\n"
	logQAEmptyLogMessage     = "質問に答えるためのメッセージログがまだありません。"
	keywordAlertReplyFormat  = "⚠️ キーワード「%s」が検出されました。"
	interactionFailedMessage = "コマンドの実行中にエラーが発生しました。"
)

var setupWeekdayLabels = [7]string{
	"日曜日", "月曜日", "火曜日", "水曜日", "木曜日", "金曜日", "土曜日",
}

// getInteractionHandlerFunc returns the gateway handler routing slash
// command interactions to their implementations. Unknown commands are
// acked ephemerally so the token never dangles.
func (rs *RecapSamurai) getInteractionHandlerFunc(ctx context.Context) func(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	return func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		logger := rs.logger.With(loggerNameKey, "interaction")
		logger.Info("received interaction", interactionLogAttrs(*i)...)

		commandName := i.ApplicationCommandData().Name
		if err := rs.discord.session.InteractionRespond(
			i.Interaction,
			rs.discord.ackResponse(commandName),
		); err != nil {
			logger.Error("error acknowledging interaction", tint.Err(err))
			return
		}

		switch commandName {
		case DiscordSlashCommandDigest:
			rs.handleDigestCommand(ctx, logger, i)
		case DiscordSlashCommandSetup:
			rs.handleSetupCommand(logger, i)
		case DiscordSlashCommandLogSearch:
			rs.handleLogSearchCommand(logger, i)
		case DiscordSlashCommandLogQA:
			rs.handleLogQACommand(ctx, logger, i)
		default:
			logger.Warn("unknown command", "command", commandName)
			rs.editInteractionResponse(logger, i, interactionFailedMessage)
		}
	}
}

// editInteractionResponse replaces the deferred ack with the given content,
// truncated to the transport limit.
func (rs *RecapSamurai) editInteractionResponse(
	logger *slog.Logger,
	i *discordgo.InteractionCreate,
	content string,
) {
	content = minifyString(content, discordMaxMessageLength)
	if _, err := rs.discord.session.InteractionResponseEdit(
		i.Interaction,
		&discordgo.WebhookEdit{Content: &content},
	); err != nil {
		logger.Error("error editing interaction response", tint.Err(err))
	}
}

// handleDigestCommand generates an on-demand digest of the guild's current
// log and replies with it in place. Unlike the weekly cadence, it never
// clears the log - the scheduled digest still owns that transition.
func (rs *RecapSamurai) handleDigestCommand(
	ctx context.Context,
	logger *slog.Logger,
	i *discordgo.InteractionCreate,
) {
	if i.GuildID == "" {
		rs.editInteractionResponse(logger, i, setupGuildOnlyMessage)
		return
	}
	msgs := rs.logStore.Get(i.GuildID)
	if len(msgs) == 0 {
		rs.editInteractionResponse(logger, i, digestEmptyLogMessage)
		return
	}

	summary, err := rs.summarizer.Summarize(
		ctx,
		weeklyPromptTemplate,
		msgs,
		weeklyGenerateOptions,
	)
	if err != nil {
		logger.Error(
			"on-demand digest failed",
			tint.Err(err),
			"guild_id", i.GuildID,
		)
		rs.editInteractionResponse(logger, i, digestFailedMessage)
		return
	}
	rs.editInteractionResponse(logger, i, digestCommandHeader+summary)
}

// handleSetupCommand persists the guild's digest schedule and delivery
// channel, then applies the schedule to the running scheduler.
func (rs *RecapSamurai) handleSetupCommand(
	logger *slog.Logger,
	i *discordgo.InteractionCreate,
) {
	if i.GuildID == "" {
		rs.editInteractionResponse(logger, i, setupGuildOnlyMessage)
		return
	}
	options := discordInteractionOptions(i)

	weekdayOpt, ok := options[setupCommandWeekdayOption]
	if !ok {
		rs.editInteractionResponse(logger, i, interactionFailedMessage)
		return
	}
	weekday := int(weekdayOpt.IntValue())

	timeOpt, ok := options[setupCommandTimeOption]
	if !ok {
		rs.editInteractionResponse(logger, i, interactionFailedMessage)
		return
	}
	hour, minute, err := parseClockTime(timeOpt.StringValue())
	if err != nil {
		rs.editInteractionResponse(logger, i, setupBadTimeMessage)
		return
	}

	var channelID string
	if channelOpt, hasChannel := options[setupCommandChannelOption]; hasChannel {
		channelID = channelOpt.Value.(string)
	}

	expr := fmt.Sprintf("%d %d * * %d", minute, hour, weekday)
	if err = rs.settings.Upsert(i.GuildID, expr, channelID); err != nil {
		logger.Error(
			"error saving guild settings",
			tint.Err(err),
			"guild_id", i.GuildID,
		)
		rs.editInteractionResponse(logger, i, interactionFailedMessage)
		return
	}
	if err = rs.scheduler.ApplyGuildSchedule(i.GuildID, expr); err != nil {
		logger.Error(
			"error applying guild schedule",
			tint.Err(err),
			"guild_id", i.GuildID,
			"cron", expr,
		)
		rs.editInteractionResponse(logger, i, interactionFailedMessage)
		return
	}

	reply := fmt.Sprintf(
		setupSavedMessageFormat,
		setupWeekdayLabels[weekday%len(setupWeekdayLabels)],
		fmt.Sprintf("%02d:%02d", hour, minute),
	)
	if channelID != "" {
		reply = reply + "\n" + fmt.Sprintf(setupChannelNoteFormat, channelID)
	}
	rs.editInteractionResponse(logger, i, reply)
}

// handleLogSearchCommand replies with the newest records whose content
// contains the given keyword.
func (rs *RecapSamurai) handleLogSearchCommand(
	logger *slog.Logger,
	i *discordgo.InteractionCreate,
) {
	if i.GuildID == "" {
		rs.editInteractionResponse(logger, i, setupGuildOnlyMessage)
		return
	}
	options := discordInteractionOptions(i)
	keywordOpt, ok := options[logSearchCommandKeywordOption]
	if !ok {
		rs.editInteractionResponse(logger, i, interactionFailedMessage)
		return
	}
	keyword := keywordOpt.StringValue()

	matches := searchRecords(rs.logStore.Get(i.GuildID), keyword, logSearchResultLimit)
	if len(matches) == 0 {
		rs.editInteractionResponse(logger, i, logSearchNoMatchMessage)
		return
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf(logSearchHeaderFormat, keyword, len(matches)))
	for _, m := range matches {
		b.WriteString(fmt.Sprintf("- %s: %s\n", m.Author, m.Content))
	}
	rs.editInteractionResponse(logger, i, b.String())
}

// handleLogQACommand answers a free-form question from the guild's full
// message log via the summarization backend.
func (rs *RecapSamurai) handleLogQACommand(
	ctx context.Context,
	logger *slog.Logger,
	i *discordgo.InteractionCreate,
) {
	if i.GuildID == "" {
		rs.editInteractionResponse(logger, i, setupGuildOnlyMessage)
		return
	}
	options := discordInteractionOptions(i)
	questionOpt, ok := options[logQACommandQuestionOption]
	if !ok {
		rs.editInteractionResponse(logger, i, interactionFailedMessage)
		return
	}
	question := questionOpt.StringValue()

	msgs := rs.logStore.Get(i.GuildID)
	if len(msgs) == 0 {
		rs.editInteractionResponse(logger, i, logQAEmptyLogMessage)
		return
	}

	prompt := fmt.Sprintf("%s\n\n質問: %s", logQAPromptTemplate, question)
	answer, err := rs.summarizer.Summarize(ctx, prompt, msgs, logQAGenerateOptions)
	if err != nil {
		logger.Error(
			"log QA failed",
			tint.Err(err),
			"guild_id", i.GuildID,
		)
		rs.editInteractionResponse(logger, i, interactionFailedMessage)
		return
	}
	rs.editInteractionResponse(logger, i, answer)
}

// searchRecords returns up to limit records containing the keyword,
// preferring the newest entries and preserving log order.
func searchRecords(msgs []MessageRecord, keyword string, limit int) []MessageRecord {
	var matches []MessageRecord
	for _, m := range msgs {
		if strings.Contains(m.Content, keyword) {
			matches = append(matches, m)
		}
	}
	if len(matches) > limit {
		matches = matches[len(matches)-limit:]
	}
	return matches
}

// parseClockTime parses a "HH:MM" 24-hour clock string.
func parseClockTime(s string) (hour int, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour %q", parts[0])
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute %q", parts[1])
	}
	return hour, minute, nil
}
