package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrChainBroken is returned by Verify when an entry no longer links to its
// predecessor or its payload no longer matches its hash.
var ErrChainBroken = errors.New("hash chain is broken")

const genesis = "genesis"

// Entry is one link of the chain.
type Entry struct {
	Sequence     uint64          `json:"sequence"`
	Event        Event           `json:"event"`
	Payload      json.RawMessage `json:"payload"`
	PayloadHash  string          `json:"payload_hash"`
	PreviousHash string          `json:"previous_hash"`
	EntryHash    string          `json:"entry_hash"`
}

// EntryHandler is called after an entry is appended, with the chain lock
// released.
type EntryHandler func(ctx context.Context, e Entry)

// DefaultRetention is how many entries a Chain keeps in memory.
const DefaultRetention = 10000

// Chain is an append-only, hash-chained, in-memory audit log. Only the most
// recent entries are retained; base is the hash the oldest retained entry
// links to.
type Chain struct {
	mu        sync.RWMutex
	entries   []Entry
	seq       uint64
	base      string
	head      string
	retention int
	handlers  []EntryHandler
	log       *slog.Logger
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithRetention bounds the number of retained entries. n <= 0 keeps the
// default.
func WithRetention(n int) ChainOption {
	return func(c *Chain) {
		if n > 0 {
			c.retention = n
		}
	}
}

func NewChain(opts ...ChainOption) *Chain {
	c := &Chain{
		base:      genesis,
		head:      genesis,
		retention: DefaultRetention,
		log:       slog.Default().With("component", "audit"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnAppend registers a handler for new entries.
func (c *Chain) OnAppend(h EntryHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *Chain) Record(ctx context.Context, e Event) {
	if _, err := c.Append(ctx, e); err != nil {
		c.log.WarnContext(ctx, "audit append failed", "id", e.ID, "error", err)
	}
}

// Append links e onto the chain and returns the new entry.
func (c *Chain) Append(ctx context.Context, e Event) (Entry, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to serialize event: %w", err)
	}

	c.mu.Lock()
	entry := Entry{
		Sequence:     c.seq + 1,
		Event:        e,
		Payload:      payload,
		PayloadHash:  hashBytes(payload),
		PreviousHash: c.head,
	}
	entry.EntryHash, err = entryHash(entry)
	if err != nil {
		c.mu.Unlock()
		return Entry{}, err
	}
	c.seq++
	c.entries = append(c.entries, entry)
	c.head = entry.EntryHash
	if len(c.entries) > c.retention {
		c.base = c.entries[0].EntryHash
		c.entries[0] = Entry{}
		c.entries = c.entries[1:]
	}
	handlers := c.handlers
	c.mu.Unlock()

	for _, h := range handlers {
		h(ctx, entry)
	}
	return entry, nil
}

// Head returns the hash of the latest entry.
func (c *Chain) Head() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head
}

// Sequence returns the number of entries ever appended.
func (c *Chain) Sequence() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seq
}

// Len returns the number of retained entries.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Events returns the recorded events in order, optionally filtered by
// correlation id.
func (c *Chain) Events(correlationID string) []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Event
	for _, en := range c.entries {
		if correlationID == "" || en.Event.CorrelationID == correlationID {
			out = append(out, en.Event)
		}
	}
	return out
}

// Verify checks every link of the retained entries, starting from the hash
// the oldest one was chained to.
func (c *Chain) Verify() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prev := c.base
	for _, en := range c.entries {
		if en.PreviousHash != prev {
			return fmt.Errorf("%w: entry %d links to %s, want %s", ErrChainBroken, en.Sequence, en.PreviousHash, prev)
		}
		if hashBytes(en.Payload) != en.PayloadHash {
			return fmt.Errorf("%w: entry %d payload hash mismatch", ErrChainBroken, en.Sequence)
		}
		h, err := entryHash(en)
		if err != nil {
			return err
		}
		if h != en.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, en.Sequence)
		}
		prev = en.EntryHash
	}
	return nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func entryHash(e Entry) (string, error) {
	data, err := json.Marshal(struct {
		Sequence     uint64    `json:"sequence"`
		Timestamp    time.Time `json:"timestamp"`
		Correlation  string    `json:"correlation_id"`
		PayloadHash  string    `json:"payload_hash"`
		PreviousHash string    `json:"previous_hash"`
	}{e.Sequence, e.Event.Timestamp, e.Event.CorrelationID, e.PayloadHash, e.PreviousHash})
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry for hashing: %w", err)
	}
	return hashBytes(data), nil
}
