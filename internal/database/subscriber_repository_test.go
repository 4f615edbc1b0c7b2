package database

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanguar/german-morning-bot/pkg/models"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Connect("", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestRepo(t *testing.T) *SubscriberRepository {
	return NewSubscriberRepository(newTestDB(t))
}

func TestRegisterIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Register(ctx, 1, "A1", "2026-08-01"))
	require.NoError(t, repo.Register(ctx, 1, "B2", "2026-09-01"))

	sub, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "A1", sub.Level)
	assert.Equal(t, "2026-08-01", sub.StartDate)
	assert.Equal(t, 0, sub.LessonIndex)
	assert.Equal(t, models.StatusActive, sub.Status)
}

func TestGetUnknownReturnsNil(t *testing.T) {
	repo := newTestRepo(t)

	sub, err := repo.Get(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestMutationsOnUnknownIDAreNoOps(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	assert.NoError(t, repo.SetLevel(ctx, 404, "A2"))
	assert.NoError(t, repo.ResetProgress(ctx, 404))
	assert.NoError(t, repo.IncrementLessonIndex(ctx, 404))
	assert.NoError(t, repo.IncrementManualCount(ctx, 404))
	assert.NoError(t, repo.ResetManualCountIfNewDay(ctx, 404, time.Now()))
	assert.NoError(t, repo.MarkBlocked(ctx, 404))

	reactivated, err := repo.ReactivateIfBlocked(ctx, 404, time.Now())
	assert.NoError(t, err)
	assert.False(t, reactivated)
}

func TestSetLevelResetsProgressAndQuota(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Register(ctx, 1, "A1", "2026-08-01"))
	require.NoError(t, repo.RecordDelivery(ctx, 1, now, true))
	require.NoError(t, repo.RecordDelivery(ctx, 1, now, true))
	require.NoError(t, repo.RecordDelivery(ctx, 1, now, true))

	require.NoError(t, repo.SetLevel(ctx, 1, "A2"))

	sub, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "A2", sub.Level)
	assert.Equal(t, 0, sub.LessonIndex)
	assert.Equal(t, 0, sub.ManualCountToday)
}

func TestResetProgressKeepsLevel(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Register(ctx, 1, "A2", "2026-08-01"))
	require.NoError(t, repo.RecordDelivery(ctx, 1, time.Now().UTC(), true))
	require.NoError(t, repo.ResetProgress(ctx, 1))

	sub, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "A2", sub.Level)
	assert.Equal(t, 0, sub.LessonIndex)
	assert.Equal(t, 0, sub.ManualCountToday)
}

func TestRecordDeliveryManual(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Register(ctx, 1, "A1", "2026-08-01"))
	require.NoError(t, repo.RecordDelivery(ctx, 1, now, true))

	sub, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, sub.LessonIndex)
	assert.Equal(t, 1, sub.ManualCountToday)
	assert.True(t, sub.LastRequestAt.Valid)
	assert.True(t, sub.LastSentAt.Valid)
}

func TestRecordDeliveryScheduled(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Register(ctx, 1, "A1", "2026-08-01"))
	require.NoError(t, repo.RecordDelivery(ctx, 1, time.Now().UTC(), false))

	sub, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, sub.LessonIndex)
	assert.Equal(t, 0, sub.ManualCountToday, "scheduled delivery must not consume the manual quota")
	assert.False(t, sub.LastRequestAt.Valid)
	assert.True(t, sub.LastSentAt.Valid)
}

func TestResetManualCountIfNewDay(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Register(ctx, 1, "A1", "2026-08-01"))
	require.NoError(t, repo.IncrementManualCount(ctx, 1))

	// Последний запрос был вчера — счётчик сбрасывается
	require.NoError(t, repo.TouchLastRequest(ctx, 1, now.Add(-24*time.Hour)))
	require.NoError(t, repo.ResetManualCountIfNewDay(ctx, 1, now))
	sub, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, sub.ManualCountToday)

	// Последний запрос сегодня — счётчик сохраняется
	require.NoError(t, repo.IncrementManualCount(ctx, 1))
	require.NoError(t, repo.TouchLastRequest(ctx, 1, now))
	require.NoError(t, repo.ResetManualCountIfNewDay(ctx, 1, now.Add(2*time.Hour)))
	sub, err = repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, sub.ManualCountToday)
}

func TestResetManualCountWithoutAnyRequest(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Register(ctx, 1, "A1", "2026-08-01"))
	require.NoError(t, repo.IncrementManualCount(ctx, 1))
	require.NoError(t, repo.ResetManualCountIfNewDay(ctx, 1, time.Now().UTC()))

	sub, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, sub.ManualCountToday)
}

func TestBlockAndReactivate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Register(ctx, 1, "A1", "2026-08-01"))
	require.NoError(t, repo.Register(ctx, 2, "A1", "2026-08-01"))
	require.NoError(t, repo.MarkBlocked(ctx, 2))

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, active)

	reactivated, err := repo.ReactivateIfBlocked(ctx, 2, now)
	require.NoError(t, err)
	assert.True(t, reactivated)

	sub, err := repo.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, sub.Status)
	assert.True(t, sub.ReactivatedAt.Valid)

	// Уже активен — второй вызов ничего не делает
	reactivated, err = repo.ReactivateIfBlocked(ctx, 2, now)
	require.NoError(t, err)
	assert.False(t, reactivated)
}

func TestStatisticsSnapshot(t *testing.T) {
	db := newTestDB(t)
	repo := NewSubscriberRepository(db)
	stats := NewStatisticsRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Register(ctx, 1, "A1", "2026-08-01"))
	require.NoError(t, repo.Register(ctx, 2, "A1", "2026-08-01"))
	require.NoError(t, repo.Register(ctx, 3, "A2", "2026-08-01"))
	require.NoError(t, repo.MarkBlocked(ctx, 3))
	for i := 0; i < 4; i++ {
		require.NoError(t, repo.RecordDelivery(ctx, 2, now, false))
	}
	require.NoError(t, repo.RecordDelivery(ctx, 3, now, false))

	snap, err := stats.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 2, snap.Active)
	assert.Equal(t, 1, snap.Blocked)
	assert.InDelta(t, 5.0/3.0, snap.AvgLessonIndex, 0.001)
}

func TestDeliveryErrorLog(t *testing.T) {
	db := newTestDB(t)
	errorLog := NewDeliveryErrorRepository(db)

	err := errorLog.Log(context.Background(), &models.DeliveryError{
		SubscriberID: 7,
		Level:        "A1",
		LessonIndex:  3,
		ErrorType:    "unreachable",
		Detail:       "recipient unreachable",
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.Get(&count, "SELECT COUNT(*) FROM delivery_errors"))
	assert.Equal(t, 1, count)
}
