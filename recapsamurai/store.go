package recapsamurai

import (
	"sync"
)

// MessageRecord is a single ingested guild message. Records are immutable
// once created, and append-only within a guild's log until pruned or cleared.
type MessageRecord struct {
	// Content is the raw message text
	Content string `json:"content"`

	// Author is the sender's identity string (discord tag)
	Author string `json:"author"`

	// Timestamp is the message creation time, in epoch milliseconds
	Timestamp int64 `json:"timestamp"`
}

// LogStore holds the rolling per-guild message log. It is the only shared
// mutable resource in the digest engine: the ingestion path appends, the
// scheduler clears/prunes, and readers always work on a snapshot.
type LogStore interface {
	// Append adds a record to the given guild's log, creating the log on
	// first use. It never rejects.
	Append(guildID string, rec MessageRecord)

	// Get returns a snapshot of the guild's log in append order, or an
	// empty slice for an unseen guild. The returned slice is a copy: a
	// concurrent Append during a long-running generation can't corrupt a
	// read in progress (the new record is picked up by a later cycle).
	Get(guildID string) []MessageRecord

	// Replace atomically swaps the stored sequence. Used by
	// clear-after-digest and by retention pruning. The guild key persists
	// even when the replacement is empty.
	Replace(guildID string, recs []MessageRecord)

	// GuildIDs returns all known guild IDs in order of first appearance.
	GuildIDs() []string
}

// MemoryLogStore is the in-memory LogStore implementation.
type MemoryLogStore struct {
	logs  map[string][]MessageRecord
	order []string
	mu    sync.RWMutex
}

func NewMemoryLogStore() *MemoryLogStore {
	return &MemoryLogStore{logs: map[string][]MessageRecord{}}
}

func (s *MemoryLogStore) Append(guildID string, rec MessageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.logs[guildID]; !seen {
		s.order = append(s.order, guildID)
	}
	s.logs[guildID] = append(s.logs[guildID], rec)
}

func (s *MemoryLogStore) Get(guildID string) []MessageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.logs[guildID]
	snapshot := make([]MessageRecord, len(recs))
	copy(snapshot, recs)
	return snapshot
}

func (s *MemoryLogStore) Replace(guildID string, recs []MessageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.logs[guildID]; !seen {
		s.order = append(s.order, guildID)
	}
	replacement := make([]MessageRecord, len(recs))
	copy(replacement, recs)
	s.logs[guildID] = replacement
}

func (s *MemoryLogStore) GuildIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, len(s.order))
	copy(ids, s.order)
	return ids
}

// recordsSince returns the records with a timestamp at or after the given
// cutoff (epoch milliseconds), preserving order.
func recordsSince(recs []MessageRecord, cutoff int64) []MessageRecord {
	windowed := make([]MessageRecord, 0, len(recs))
	for _, rec := range recs {
		if rec.Timestamp >= cutoff {
			windowed = append(windowed, rec)
		}
	}
	return windowed
}
