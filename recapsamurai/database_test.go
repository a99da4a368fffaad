package recapsamurai

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func testDatabase(t *testing.T) *database {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Database = filepath.Join(t.TempDir(), "recapsamurai_test.sqlite3")
	cfg.DatabaseType = dbTypeSQLite

	db, err := connectDatabase(cfg, slog.Default().Handler())
	require.NoError(t, err)
	return db
}

// TestSettingsStoreUpsert verifies settings round-trip and that Upsert
// overwrites an existing row rather than inserting a duplicate.
func TestSettingsStoreUpsert(t *testing.T) {
	db := testDatabase(t)
	store := NewSettingsStore(db, nil)

	assert.Nil(t, store.Get("g1"))
	assert.Empty(t, store.All())

	require.NoError(t, store.Upsert("g1", "0 9 * * 1", "chan-1"))

	settings := store.Get("g1")
	require.NotNil(t, settings)
	assert.Equal(t, "0 9 * * 1", settings.DigestCron)
	assert.Equal(t, "chan-1", settings.DigestChannelID)

	require.NoError(t, store.Upsert("g1", "30 18 * * 5", ""))

	settings = store.Get("g1")
	require.NotNil(t, settings)
	assert.Equal(t, "30 18 * * 5", settings.DigestCron)
	assert.Empty(t, settings.DigestChannelID)

	assert.Len(t, store.All(), 1)
}

// TestSubscriptionStoreGuildTier verifies tier resolution: missing rows and
// expired grants map to trial.
func TestSubscriptionStoreGuildTier(t *testing.T) {
	db := testDatabase(t)
	store := NewSubscriptionStore(db, nil)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	assert.Equal(t, TierTrial, store.GuildTier("unknown"))

	require.NoError(t, store.Grant("g1", TierPremium, 31*24*time.Hour, "patron-1"))
	assert.Equal(t, TierPremium, store.GuildTier("g1"))

	// expiry flips the guild back to trial
	store.now = func() time.Time { return now.Add(32 * 24 * time.Hour) }
	assert.Equal(t, TierTrial, store.GuildTier("g1"))

	// a renewed grant replaces the expired row
	require.NoError(t, store.Grant("g1", TierBasic, 31*24*time.Hour, "patron-1"))
	assert.Equal(t, TierBasic, store.GuildTier("g1"))
}

// TestSubscriptionStoreGrantNoExpiry verifies a zero duration grant never
// expires.
func TestSubscriptionStoreGrantNoExpiry(t *testing.T) {
	db := testDatabase(t)
	store := NewSubscriptionStore(db, nil)

	require.NoError(t, store.Grant("g1", TierPremium, 0, "patron-1"))
	store.now = func() time.Time { return time.Now().Add(10 * 365 * 24 * time.Hour) }
	assert.Equal(t, TierPremium, store.GuildTier("g1"))
}

// TestParseTier verifies unknown strings resolve to trial.
func TestParseTier(t *testing.T) {
	assert.Equal(t, TierBasic, ParseTier("basic"))
	assert.Equal(t, TierPremium, ParseTier("premium"))
	assert.Equal(t, TierTrial, ParseTier("trial"))
	assert.Equal(t, TierTrial, ParseTier("gold"))
	assert.Equal(t, TierTrial, ParseTier(""))
}

// TestDigestRunPersistence verifies digest audit rows survive a round-trip.
func TestDigestRunPersistence(t *testing.T) {
	db := testDatabase(t)

	run := &DigestRun{
		RunID:         "run-1",
		GuildID:       "g1",
		Cadence:       string(CadenceWeeklyDigest),
		ChannelID:     "chan-1",
		State:         digestRunStateCompleted,
		MessageCount:  3,
		SummaryLength: 42,
		ChunksSent:    1,
		StartedAt:     time.Now().UnixMilli(),
		FinishedAt:    time.Now().UnixMilli(),
	}
	require.NoError(t, db.Create(run))

	var loaded DigestRun
	require.NoError(t, db.DB().Where("run_id = ?", "run-1").Take(&loaded).Error)
	assert.Equal(t, "g1", loaded.GuildID)
	assert.Equal(t, digestRunStateCompleted, loaded.State)
	assert.Equal(t, 3, loaded.MessageCount)
	assert.NotZero(t, loaded.ID)
}
