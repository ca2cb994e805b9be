package detector

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// dedupTTL is how long a copy-paste burst is tracked. Entries past the TTL
// are removed by the periodic sweep; the cache is not part of the durable
// signal log.
const dedupTTL = 15 * time.Minute

// Match reports the state of one tracked text burst after a Track call.
type Match struct {
	Hash    string // hex hash of the text
	Chats   int    // distinct chats that received this text in the window
	NewChat bool   // true if this Track added a chat not seen before
}

// DedupCache tracks identical-message fan-out per user.
//
// Texts are keyed by a simple FNV hash with no collision handling: this is a
// best-effort heuristic, and a collision merely merges two bursts. Do not
// rely on it for exact-match semantics.
type DedupCache struct {
	mu      sync.Mutex
	entries map[string]*dedupEntry // "userID:hash" → entry
}

type dedupEntry struct {
	chats     map[string]bool
	firstSeen time.Time
}

// NewDedupCache creates an empty cache.
func NewDedupCache() *DedupCache {
	return &DedupCache{entries: make(map[string]*dedupEntry)}
}

// Track records that text was sent by userID into chatID and returns the
// burst state. Expired entries restart the window.
func (c *DedupCache) Track(userID, text, chatID string) *Match {
	hash := hashText(text)
	key := userID + ":" + hash
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || now.Sub(entry.firstSeen) > copyPasteWindow {
		entry = &dedupEntry{
			chats:     make(map[string]bool),
			firstSeen: now,
		}
		c.entries[key] = entry
	}

	newChat := !entry.chats[chatID]
	entry.chats[chatID] = true

	return &Match{
		Hash:    hash,
		Chats:   len(entry.chats),
		NewChat: newChat,
	}
}

// Sweep removes entries older than the TTL. Returns the number removed.
func (c *DedupCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-dedupTTL)
	removed := 0
	for key, entry := range c.entries {
		if entry.firstSeen.Before(cutoff) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked bursts.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func hashText(text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%016x", h.Sum64())
}
