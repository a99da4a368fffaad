package recapsamurai

import (
	"errors"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"log/slog"
	"time"
)

// SubscriptionTier is a guild's plan. Missing or expired subscriptions
// resolve to the trial tier.
type SubscriptionTier string

const (
	TierTrial   SubscriptionTier = "trial"
	TierBasic   SubscriptionTier = "basic"
	TierPremium SubscriptionTier = "premium"
)

// ParseTier maps a stored tier string to a SubscriptionTier, defaulting
// to trial for anything unknown.
func ParseTier(s string) SubscriptionTier {
	switch SubscriptionTier(s) {
	case TierBasic:
		return TierBasic
	case TierPremium:
		return TierPremium
	default:
		return TierTrial
	}
}

// Subscription is a guild's plan record, written by the Patreon OAuth
// callback and read by the retention manager and premium-report gating.
type Subscription struct {
	ModelUintID
	ModelUnixTime

	GuildID string `gorm:"uniqueIndex" json:"guild_id"`
	Tier    string `json:"tier"`

	// ExpiresAt is the grant expiry in epoch milliseconds; 0 means no expiry
	ExpiresAt int64 `json:"expires_at"`

	// PatreonUserID links the grant to the patron who authorized it
	PatreonUserID string `json:"patreon_user_id"`
}

// TierSource is the read-only subscription boundary consumed by the engine.
type TierSource interface {
	GuildTier(guildID string) SubscriptionTier
}

// SubscriptionStore implements TierSource over the database.
type SubscriptionStore struct {
	db     *database
	logger *slog.Logger

	// now is swappable for tests
	now func() time.Time
}

func NewSubscriptionStore(db *database, logger *slog.Logger) *SubscriptionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionStore{db: db, logger: logger, now: time.Now}
}

// GuildTier returns the guild's current tier, treating missing and expired
// subscriptions as trial.
func (s *SubscriptionStore) GuildTier(guildID string) SubscriptionTier {
	var sub Subscription
	err := s.db.DB().Where("guild_id = ?", guildID).Take(&sub).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Error("error loading subscription", tint.Err(err), "guild_id", guildID)
		}
		return TierTrial
	}
	if sub.ExpiresAt > 0 && sub.ExpiresAt < s.now().UnixMilli() {
		return TierTrial
	}
	return ParseTier(sub.Tier)
}

// Grant upserts a subscription for the guild, expiring after the given
// duration (0 for no expiry).
func (s *SubscriptionStore) Grant(
	guildID string,
	tier SubscriptionTier,
	duration time.Duration,
	patreonUserID string,
) error {
	var expiresAt int64
	if duration > 0 {
		expiresAt = s.now().Add(duration).UnixMilli()
	}

	var sub Subscription
	err := s.db.DB().Where("guild_id = ?", guildID).Take(&sub).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	sub.GuildID = guildID
	sub.Tier = string(tier)
	sub.ExpiresAt = expiresAt
	sub.PatreonUserID = patreonUserID
	return s.db.Save(&sub)
}
