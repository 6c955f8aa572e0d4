package history

import (
	"strings"
	"sync"
	"time"
)

const (
	DefaultCapacity  = 5
	DefaultThreshold = 900 * time.Second
)

type Config struct {
	// Capacity is how many answered tickets each channel remembers.
	Capacity int
	// Threshold is how long a repeat mention of an answered ticket stays quiet. Zero disables suppression.
	Threshold time.Duration
}

type Entry struct {
	Key        string
	LastSeenAt time.Time
}

// Store keeps one bounded, recency-ordered history per channel. Channels are independent: each one is
// guarded by its own mutex so a decision in one channel never waits on another.
type Store struct {
	cfg      Config
	channels sync.Map
}

type channelHistory struct {
	mu      sync.Mutex
	entries []Entry
}

func New(cfg Config) *Store {
	if cfg.Capacity < 1 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Threshold < 0 {
		cfg.Threshold = 0
	}
	return &Store{cfg: cfg}
}

// ShouldRespond reports whether the bot may answer a mention of key in channel at now. An allowed mention
// is recorded as the most recent entry, evicting the least recently answered one when the channel is full.
// A suppressed mention leaves the history untouched, so the window always counts from the last answer.
func (s *Store) ShouldRespond(channel, key string, now time.Time) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	history := s.channel(channel)
	history.mu.Lock()
	defer history.mu.Unlock()

	index := history.indexOf(key)
	if index >= 0 && now.Sub(history.entries[index].LastSeenAt) < s.cfg.Threshold {
		return false
	}
	if index >= 0 {
		history.entries = append(history.entries[:index], history.entries[index+1:]...)
	}
	history.entries = append(history.entries, Entry{Key: key, LastSeenAt: now})
	if overflow := len(history.entries) - s.cfg.Capacity; overflow > 0 {
		history.entries = append(history.entries[:0], history.entries[overflow:]...)
	}
	return true
}

// Snapshot returns a copy of the channel's history, least recently answered first.
func (s *Store) Snapshot(channel string) []Entry {
	value, ok := s.channels.Load(normalizeChannel(channel))
	if !ok {
		return nil
	}
	history := value.(*channelHistory)
	history.mu.Lock()
	defer history.mu.Unlock()
	out := make([]Entry, len(history.entries))
	copy(out, history.entries)
	return out
}

func (s *Store) Capacity() int {
	return s.cfg.Capacity
}

func (s *Store) Threshold() time.Duration {
	return s.cfg.Threshold
}

func (s *Store) channel(channel string) *channelHistory {
	name := normalizeChannel(channel)
	if value, ok := s.channels.Load(name); ok {
		return value.(*channelHistory)
	}
	value, _ := s.channels.LoadOrStore(name, &channelHistory{
		entries: make([]Entry, 0, s.cfg.Capacity+1),
	})
	return value.(*channelHistory)
}

func (h *channelHistory) indexOf(key string) int {
	for index, entry := range h.entries {
		if entry.Key == key {
			return index
		}
	}
	return -1
}

func normalizeChannel(channel string) string {
	return strings.TrimSpace(channel)
}
