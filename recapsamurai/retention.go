package recapsamurai

import (
	"log/slog"
	"time"
)

// RetentionManager enforces tiered history limits by pruning the log store
// on a schedule. Premium guilds keep unlimited history; everyone else is
// trimmed to the configured window. Pruning is a pure filter through
// LogStore.Replace - it never reorders records and never contacts the
// summarization backend.
type RetentionManager struct {
	store  LogStore
	tiers  TierSource
	maxAge time.Duration
	logger *slog.Logger
}

func NewRetentionManager(
	store LogStore,
	tiers TierSource,
	maxAge time.Duration,
	logger *slog.Logger,
) *RetentionManager {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAge <= 0 {
		maxAge = DefaultRetentionMaxAge
	}
	return &RetentionManager{
		store:  store,
		tiers:  tiers,
		maxAge: maxAge,
		logger: logger,
	}
}

// Prune drops records older than now-maxAge from every non-premium guild.
func (m *RetentionManager) Prune(now time.Time) {
	cutoff := now.Add(-m.maxAge).UnixMilli()
	for _, guildID := range m.store.GuildIDs() {
		if m.tiers.GuildTier(guildID) == TierPremium {
			continue
		}
		recs := m.store.Get(guildID)
		kept := recordsSince(recs, cutoff)
		if len(kept) == len(recs) {
			continue
		}
		m.store.Replace(guildID, kept)
		m.logger.Info(
			"pruned guild log",
			"guild_id", guildID,
			"dropped", len(recs)-len(kept),
			"kept", len(kept),
		)
	}
}
