package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anf-aiops/opsbot/pkg/archive"
)

// maxRefs bounds the batch references an Archiver remembers.
const maxRefs = 1000

// Archiver buffers events and ships them to an archive store as JSONL
// batches, one object per flush. While the store keeps failing at most
// maxPending events are held; the oldest are dropped first.
type Archiver struct {
	store      archive.Store
	batchSize  int
	maxPending int
	dropped    atomic.Int64

	mu      sync.Mutex
	pending []Event
	refs    []string
	log     *slog.Logger
}

// NewArchiver flushes automatically once batchSize events are buffered.
func NewArchiver(store archive.Store, batchSize int) *Archiver {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Archiver{
		store:      store,
		batchSize:  batchSize,
		maxPending: 10 * batchSize,
		log:        slog.Default().With("component", "audit"),
	}
}

func (a *Archiver) Record(ctx context.Context, e Event) {
	a.mu.Lock()
	a.pending = append(a.pending, e)
	a.trimLocked()
	full := len(a.pending) >= a.batchSize
	a.mu.Unlock()

	if full {
		if _, err := a.Flush(ctx); err != nil {
			a.log.WarnContext(ctx, "audit archive flush failed", "error", err)
		}
	}
}

// Flush writes buffered events and returns the object reference, or "" when
// there was nothing to write. On failure the batch stays buffered.
func (a *Archiver) Flush(ctx context.Context) (string, error) {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range batch {
		if err := enc.Encode(e); err != nil {
			a.requeue(batch)
			return "", err
		}
	}

	ref, err := a.store.Put(ctx, buf.Bytes())
	if err != nil {
		a.requeue(batch)
		return "", err
	}

	a.mu.Lock()
	a.refs = append(a.refs, ref)
	if len(a.refs) > maxRefs {
		a.refs = append([]string(nil), a.refs[len(a.refs)-maxRefs:]...)
	}
	a.mu.Unlock()
	a.log.InfoContext(ctx, "audit batch archived", "ref", ref, "events", len(batch))
	return ref, nil
}

func (a *Archiver) requeue(batch []Event) {
	a.mu.Lock()
	a.pending = append(batch, a.pending...)
	a.trimLocked()
	a.mu.Unlock()
}

func (a *Archiver) trimLocked() {
	over := len(a.pending) - a.maxPending
	if over <= 0 {
		return
	}
	a.pending = append([]Event(nil), a.pending[over:]...)
	a.dropped.Add(int64(over))
	a.log.Warn("audit archive backlog full, dropping oldest events", "dropped", over)
}

// Dropped returns how many events were discarded because the backlog was full.
func (a *Archiver) Dropped() int64 {
	return a.dropped.Load()
}

// Refs returns the references of the most recent archived batches.
func (a *Archiver) Refs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.refs...)
}

// Run flushes every interval until ctx ends, then flushes once more.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if _, err := a.Flush(context.WithoutCancel(ctx)); err != nil {
				a.log.Warn("final audit archive flush failed", "error", err)
			}
			return
		case <-ticker.C:
			if _, err := a.Flush(ctx); err != nil {
				a.log.WarnContext(ctx, "audit archive flush failed", "error", err)
			}
		}
	}
}

// ReadBatch decodes an archived JSONL object.
func ReadBatch(ctx context.Context, store archive.Store, ref string) ([]Event, error) {
	data, err := store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	var out []Event
	for dec.More() {
		var e Event
		if err := dec.Decode(&e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func timeFromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
