package recapsamurai

import (
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"log/slog"
	"sync"
	"time"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
)

// ModelUnixTime is an embeddable model with Unix timestamps for
// creation, update, and deletion.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// GuildSettings is the externally supplied per-guild digest configuration,
// read-only to the engine: it's loaded once per scheduling decision, and
// the engine tolerates it being absent (falls back to defaults).
type GuildSettings struct {
	ModelUintID
	ModelUnixTime

	GuildID string `gorm:"uniqueIndex" json:"guild_id"`

	// DigestCron, when set, overrides the global weekly digest cadence
	// for this guild.
	DigestCron string `json:"digest_cron"`

	// DigestChannelID, when set, is the preferred delivery channel.
	DigestChannelID string `json:"digest_channel_id"`
}

// DigestRun logs one per-guild digest attempt - every generation and
// dispatch is persisted, including failures.
type DigestRun struct {
	ModelUintID
	ModelUnixTime

	RunID         string `json:"run_id"`
	GuildID       string `gorm:"index" json:"guild_id"`
	Cadence       string `json:"cadence"`
	ChannelID     string `json:"channel_id"`
	State         string `json:"state"`
	Error         string `json:"error"`
	MessageCount  int    `json:"message_count"`
	SummaryLength int    `json:"summary_length"`
	ChunksSent    int    `json:"chunks_sent"`
	StartedAt     int64  `json:"started_at"`
	FinishedAt    int64  `json:"finished_at"`
}

const (
	digestRunStateCompleted = "completed"
	digestRunStateFailed    = "failed"
	digestRunStateSkipped   = "skipped"
)

// database wraps the GORM connection. When using SQLite, writes are
// serialized through a mutex.
type database struct {
	db     *gorm.DB
	logger *slog.Logger
	mu     sync.Mutex

	serializeWrites bool
}

func (d *database) DB() *gorm.DB {
	return d.db
}

// Create inserts the given value, serializing writes when required.
func (d *database) Create(value any) error {
	if d.serializeWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	return d.db.Create(value).Error
}

// Save upserts the given value, serializing writes when required.
func (d *database) Save(value any) error {
	if d.serializeWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	return d.db.Save(value).Error
}

// connectDatabase opens the configured sqlite or postgres database,
// applies pragmas/pool settings, and migrates the schema.
func connectDatabase(config *Config, logHandler slog.Handler) (*database, error) {
	gormLogger := newGORMLogger(logHandler, config.DatabaseSlowThreshold)
	log := slog.New(logHandler).With(loggerNameKey, "database")

	var dialector gorm.Dialector
	switch config.DatabaseType {
	case dbTypeSQLite:
		dialector = sqlite.Open(config.Database)
	case dbTypePostgres:
		dialector = postgres.Open(config.Database)
	default:
		return nil, fmt.Errorf("invalid database type: %s", config.DatabaseType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if config.DatabaseType == dbTypeSQLite {
		sqlDB, dbErr := db.DB()
		if dbErr != nil {
			return nil, dbErr
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		for _, pragma := range sqliteExecPragma {
			if execErr := db.Exec(pragma).Error; execErr != nil {
				log.Error("error setting pragma", tint.Err(execErr), "pragma", pragma)
			}
		}
	}

	if err = db.AutoMigrate(
		&GuildSettings{},
		&Subscription{},
		&DigestRun{},
	); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	return &database{
		db:              db,
		logger:          log,
		serializeWrites: config.DatabaseType == dbTypeSQLite,
	}, nil
}

// SettingsStore reads and writes per-guild digest settings.
type SettingsStore struct {
	db     *database
	logger *slog.Logger
}

func NewSettingsStore(db *database, logger *slog.Logger) *SettingsStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsStore{db: db, logger: logger}
}

// Get returns the guild's settings, or nil when none are stored.
func (s *SettingsStore) Get(guildID string) *GuildSettings {
	var settings GuildSettings
	err := s.db.DB().Where("guild_id = ?", guildID).Take(&settings).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Error("error loading guild settings", tint.Err(err), "guild_id", guildID)
		}
		return nil
	}
	return &settings
}

// All returns every stored guild settings row.
func (s *SettingsStore) All() []GuildSettings {
	var settings []GuildSettings
	if err := s.db.DB().Find(&settings).Error; err != nil {
		s.logger.Error("error loading guild settings", tint.Err(err))
		return nil
	}
	return settings
}

// Upsert stores the digest cron expression and delivery channel for a guild.
func (s *SettingsStore) Upsert(guildID string, digestCron string, channelID string) error {
	settings := s.Get(guildID)
	if settings == nil {
		settings = &GuildSettings{GuildID: guildID}
	}
	settings.DigestCron = digestCron
	settings.DigestChannelID = channelID
	return s.db.Save(settings)
}
