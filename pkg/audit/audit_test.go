package audit_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anf-aiops/opsbot/pkg/archive"
	"github.com/anf-aiops/opsbot/pkg/audit"
	"github.com/anf-aiops/opsbot/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func sampleEvent(id string) audit.Event {
	return audit.Event{
		ID:            id,
		CorrelationID: "corr-" + id,
		Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		TenantID:      "tenant-1",
		UserID:        "user-1",
		Modality:      "structured_command",
		Action:        "delete",
		Entity:        "volume",
		Parameters:    map[string]string{"name": "vol1"},
		Confidence:    1,
		Operation:     "delete_volume",
		Outcome:       audit.OutcomeDenied,
		Kind:          "NoMatchingPermission",
	}
}

func TestLogger_Record_WritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)

	logger.Record(context.Background(), sampleEvent("e1"))

	output := buf.String()
	assert.True(t, strings.HasPrefix(output, "AUDIT: "))

	var event audit.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(output, "AUDIT: "))), &event))
	assert.Equal(t, "e1", event.ID)
	assert.Equal(t, audit.OutcomeDenied, event.Outcome)
	assert.Equal(t, "vol1", event.Parameters["name"])
}

func TestChain_AppendAndVerify(t *testing.T) {
	chain := audit.NewChain()
	ctx := context.Background()

	var seen []uint64
	chain.OnAppend(func(_ context.Context, e audit.Entry) { seen = append(seen, e.Sequence) })

	first, err := chain.Append(ctx, sampleEvent("1"))
	require.NoError(t, err)
	assert.Equal(t, "genesis", first.PreviousHash)

	chain.Record(ctx, sampleEvent("2"))
	chain.Record(ctx, sampleEvent("3"))

	assert.Equal(t, 3, chain.Len())
	assert.Equal(t, []uint64{1, 2, 3}, seen)
	assert.NotEqual(t, "genesis", chain.Head())
	assert.NoError(t, chain.Verify())

	events := chain.Events("corr-2")
	require.Len(t, events, 1)
	assert.Equal(t, "2", events[0].ID)
	assert.Len(t, chain.Events(""), 3)
}

func TestMulti(t *testing.T) {
	a, b := audit.NewChain(), audit.NewChain()
	sink := audit.Multi(a, nil, b)
	sink.Record(context.Background(), sampleEvent("1"))
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 1, b.Len())

	audit.Discard.Record(context.Background(), sampleEvent("x"))
}

func TestAsync_DeliversAndDrains(t *testing.T) {
	chain := audit.NewChain()
	async := audit.NewAsync(chain, 16)

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 10; i++ {
		async.Record(ctx, sampleEvent(string(rune('a'+i))))
	}
	// a cancelled request context must not lose queued events
	cancel()

	closeCtx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	require.NoError(t, async.Close(closeCtx))
	assert.Equal(t, 10, chain.Len())

	async.Record(context.Background(), sampleEvent("late"))
	assert.Equal(t, int64(1), async.Dropped())
}

func TestAsync_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	delivered := 0
	slow := audit.SinkFunc(func(context.Context, audit.Event) {
		<-release
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	async := audit.NewAsync(slow, 1)
	for i := 0; i < 10; i++ {
		async.Record(context.Background(), sampleEvent("e"))
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, async.Close(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int64(10), int64(delivered)+async.Dropped())
	assert.Positive(t, async.Dropped())
}

func TestSQLSink_SQLite(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	sink, err := audit.NewSQLSink(ctx, db, database.SQLite)
	require.NoError(t, err)

	sink.Record(ctx, sampleEvent("1"))
	require.NoError(t, sink.Insert(ctx, sampleEvent("2")))

	// duplicate id fails loudly through Insert, quietly through Record
	assert.Error(t, sink.Insert(ctx, sampleEvent("1")))
	sink.Record(ctx, sampleEvent("1"))

	got, err := sink.ByCorrelation(ctx, "corr-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "delete_volume", got[0].Operation)
	assert.Equal(t, audit.OutcomeDenied, got[0].Outcome)
	assert.Equal(t, map[string]string{"name": "vol1"}, got[0].Parameters)
	assert.True(t, got[0].Timestamp.Equal(sampleEvent("1").Timestamp))
}

func TestArchiver_BatchesToStore(t *testing.T) {
	ctx := context.Background()
	store, err := archive.NewFileStore(t.TempDir())
	require.NoError(t, err)

	arch := audit.NewArchiver(store, 2)
	arch.Record(ctx, sampleEvent("1"))
	assert.Empty(t, arch.Refs())
	arch.Record(ctx, sampleEvent("2"))
	require.Len(t, arch.Refs(), 1, "full batch flushes")

	arch.Record(ctx, sampleEvent("3"))
	ref, err := arch.Flush(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, ref)

	ref, err = arch.Flush(ctx)
	require.NoError(t, err)
	assert.Empty(t, ref, "nothing pending")

	events, err := audit.ReadBatch(ctx, store, arch.Refs()[0])
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "1", events[0].ID)
	assert.Equal(t, "2", events[1].ID)
}

type failingStore struct{ archive.Store }

func (failingStore) Put(context.Context, []byte) (string, error) {
	return "", assert.AnError
}

func TestArchiver_KeepsBatchOnFailure(t *testing.T) {
	ctx := context.Background()
	arch := audit.NewArchiver(failingStore{}, 10)
	arch.Record(ctx, sampleEvent("1"))

	_, err := arch.Flush(ctx)
	assert.ErrorIs(t, err, assert.AnError)

	_, err = arch.Flush(ctx)
	assert.ErrorIs(t, err, assert.AnError, "batch was requeued")
}

func TestChain_RetentionKeepsVerifiableTail(t *testing.T) {
	ctx := context.Background()
	chain := audit.NewChain(audit.WithRetention(3))
	for i := 1; i <= 10; i++ {
		chain.Record(ctx, sampleEvent(strconv.Itoa(i)))
	}

	assert.Equal(t, 3, chain.Len())
	assert.Equal(t, uint64(10), chain.Sequence())
	assert.NoError(t, chain.Verify())

	events := chain.Events("")
	require.Len(t, events, 3)
	assert.Equal(t, "8", events[0].ID)
	assert.Equal(t, "10", events[2].ID)
	assert.Empty(t, chain.Events("corr-1"), "evicted entries are gone")

	next, err := chain.Append(ctx, sampleEvent("11"))
	require.NoError(t, err)
	assert.Equal(t, uint64(11), next.Sequence)
	assert.Equal(t, next.EntryHash, chain.Head())
}

func TestArchiver_BacklogIsBounded(t *testing.T) {
	ctx := context.Background()
	arch := audit.NewArchiver(failingStore{}, 2)
	for i := 0; i < 50; i++ {
		arch.Record(ctx, sampleEvent(strconv.Itoa(i)))
	}

	// 10 batches' worth stay buffered, the rest is dropped oldest-first
	assert.Equal(t, int64(30), arch.Dropped())
	_, err := arch.Flush(ctx)
	assert.Error(t, err)
	assert.Equal(t, int64(30), arch.Dropped())
	assert.Empty(t, arch.Refs())
}
