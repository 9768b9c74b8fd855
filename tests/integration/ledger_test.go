package integration

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neese/crmsync/internal/domain/relay"
	"github.com/neese/crmsync/internal/infrastructure/persistence"
)

// TestMain runs before any tests and handles cleanup
func TestMain(m *testing.M) {
	code := m.Run()
	CleanupSharedContainer()
	os.Exit(code)
}

func TestGormLedger_ConcurrentRegister_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := NewSharedTestDB(t)
	ledger := persistence.NewGormLedger(testDB.DB)
	ctx := context.Background()
	key := relay.DedupKey(relay.EventKindPixExpired, 42, "2")

	var (
		wins atomic.Int32
		wg   sync.WaitGroup
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inserted, err := ledger.RegisterIfNew(ctx, key, relay.EventKindPixExpired, 42, []byte(`{"tipo_evento":"pix_expirado"}`))
			assert.NoError(t, err)
			if inserted {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load(), "primary key admits exactly one writer")

	stats, err := ledger.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, relay.LedgerStats{Total: 1, Delivered: 0, Pending: 1}, stats)
}

func TestGormLedger_DeliveryAndRetry_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := NewSharedTestDB(t)
	ledger := persistence.NewGormLedger(testDB.DB)
	ctx := context.Background()

	keys := make([]string, 3)
	for i := range keys {
		keys[i] = relay.DedupKey(relay.EventKindCartAbandoned, int64(1000+i), "4")
		inserted, err := ledger.RegisterIfNew(ctx, keys[i], relay.EventKindCartAbandoned, int64(1000+i), []byte(`{}`))
		require.NoError(t, err)
		require.True(t, inserted)
	}

	require.NoError(t, ledger.MarkDelivered(ctx, keys[0], `{"status":"ok"}`))
	require.NoError(t, ledger.MarkDelivered(ctx, keys[0], `{"status":"again"}`), "idempotent")
	require.NoError(t, ledger.RecordFailure(ctx, keys[1], "HTTP 500"))
	require.NoError(t, ledger.RecordFailure(ctx, keys[2], "HTTP 500"))
	require.NoError(t, ledger.RecordFailure(ctx, keys[2], "HTTP 502"))

	pending, err := ledger.ListPendingRetries(ctx, time.Now().Add(-time.Hour), 2, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1, "entries at the attempt cap are skipped")
	assert.Equal(t, keys[1], pending[0].Key)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "HTTP 500", pending[0].LastError)

	delivered, err := ledger.Get(ctx, keys[0])
	require.NoError(t, err)
	assert.True(t, delivered.Delivered)

	stats, err := ledger.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, relay.LedgerStats{Total: 3, Delivered: 1, Pending: 2}, stats)

	removed, err := ledger.PurgeOlderThan(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
}

func TestGormLedger_Watermark_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := NewSharedTestDB(t)
	ledger := persistence.NewGormLedger(testDB.DB)
	ctx := context.Background()

	_, ok, err := ledger.GetLastWatermark(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	first := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, ledger.SetWatermark(ctx, first))
	require.NoError(t, ledger.SetWatermark(ctx, first.Add(20*time.Minute)))

	got, ok, err := ledger.GetLastWatermark(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, first.Add(20*time.Minute).Equal(got))

	var rows int64
	require.NoError(t, testDB.DB.Table("relay_watermark").Count(&rows).Error)
	assert.Equal(t, int64(1), rows, "single cursor row")
}

func TestGormSyncLogRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := NewSharedTestDB(t)
	repo := persistence.NewGormSyncLogRepository(testDB.DB)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		started := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, repo.Record(ctx, &relay.SyncLog{
			ID:              uuid.New(),
			Trigger:         relay.TriggerScheduled,
			WindowStart:     started.Add(-20 * time.Minute),
			WindowEnd:       started,
			StartedAt:       started,
			FinishedAt:      started.Add(2 * time.Second),
			DurationMs:      2000,
			EventsFound:     i,
			EventsProcessed: i,
			EventsDelivered: i,
			Status:          relay.SyncLogStatusSuccess,
			Error:           fmt.Sprintf("pass %d", i),
		}))
	}

	logs, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, 2, logs[0].EventsFound, "newest first")
	assert.Equal(t, 1, logs[1].EventsFound)

	removed, err := repo.PurgeOlderThan(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}
