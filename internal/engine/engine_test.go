package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanguar/german-morning-bot/internal/database"
	"github.com/vanguar/german-morning-bot/internal/lessons"
	"github.com/vanguar/german-morning-bot/pkg/models"
)

const testCurriculum = `{
	"A1": [
		{"title": "A1 урок 1", "words": [["Hallo", "Привет"]]},
		{"title": "A1 урок 2"}
	],
	"A2": [
		{"title": "A2 урок 1"},
		{"title": "A2 урок 2"},
		{"title": "A2 урок 3"}
	]
}`

type testEnv struct {
	engine *Engine
	repo   *database.SubscriberRepository
	store  *lessons.Store
}

func newTestEnv(t *testing.T, cfg Config, curriculumJSON string) *testEnv {
	t.Helper()

	db, err := database.Connect("", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := database.NewSubscriberRepository(db)

	path := filepath.Join(t.TempDir(), "lessons.json")
	store := lessons.NewStore(path)
	if curriculumJSON != "" {
		require.NoError(t, os.WriteFile(path, []byte(curriculumJSON), 0644))
		require.NoError(t, store.Load())
	}

	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = "A1"
	}
	return &testEnv{
		engine: New(repo, store, lessons.NewRenderer(), cfg),
		repo:   repo,
		store:  store,
	}
}

func (env *testEnv) mustGet(t *testing.T, id int64) *models.Subscriber {
	t.Helper()
	sub, err := env.repo.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, sub)
	return sub
}

func TestNextLessonWalksToEndOfLevel(t *testing.T) {
	env := newTestEnv(t, Config{MaxManualPerDay: 10}, testCurriculum)
	ctx := context.Background()
	require.NoError(t, env.repo.Register(ctx, 1, "A1", "2026-08-01"))

	text, err := env.engine.NextLesson(ctx, 1)
	require.NoError(t, err)
	assert.Contains(t, text, "A1 урок 1")
	assert.Contains(t, text, "(1/2)")
	assert.Equal(t, 1, env.mustGet(t, 1).LessonIndex)

	text, err = env.engine.NextLesson(ctx, 1)
	require.NoError(t, err)
	assert.Contains(t, text, "A1 урок 2")
	assert.Contains(t, text, "(2/2)")
	assert.Equal(t, 2, env.mustGet(t, 1).LessonIndex)

	// Уровень пройден: сообщение о завершении, без мутаций
	text, err = env.engine.NextLesson(ctx, 1)
	require.NoError(t, err)
	assert.Contains(t, text, "Все уроки уровня A1 пройдены")
	assert.Contains(t, text, "A2")
	sub := env.mustGet(t, 1)
	assert.Equal(t, 2, sub.LessonIndex)
	assert.Equal(t, 2, sub.ManualCountToday)
}

func TestNextLessonRequiresRegistration(t *testing.T) {
	env := newTestEnv(t, Config{MaxManualPerDay: 2}, testCurriculum)

	_, err := env.engine.NextLesson(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestNextLessonRequiresActiveStatus(t *testing.T) {
	env := newTestEnv(t, Config{MaxManualPerDay: 2}, testCurriculum)
	ctx := context.Background()
	require.NoError(t, env.repo.Register(ctx, 1, "A1", "2026-08-01"))
	require.NoError(t, env.repo.MarkBlocked(ctx, 1))

	_, err := env.engine.NextLesson(ctx, 1)
	assert.ErrorIs(t, err, ErrInactive)
	assert.Equal(t, 0, env.mustGet(t, 1).LessonIndex)
}

func TestNextLessonQuota(t *testing.T) {
	env := newTestEnv(t, Config{MaxManualPerDay: 2}, testCurriculum)
	ctx := context.Background()
	require.NoError(t, env.repo.Register(ctx, 1, "A2", "2026-08-01"))

	_, err := env.engine.NextLesson(ctx, 1)
	require.NoError(t, err)
	_, err = env.engine.NextLesson(ctx, 1)
	require.NoError(t, err)

	// Третий запрос в тот же день: лимит, состояние не меняется
	_, err = env.engine.NextLesson(ctx, 1)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	sub := env.mustGet(t, 1)
	assert.Equal(t, 2, sub.LessonIndex)
	assert.Equal(t, 2, sub.ManualCountToday)
}

func TestQuotaResetsOnNewUTCDay(t *testing.T) {
	env := newTestEnv(t, Config{MaxManualPerDay: 2}, testCurriculum)
	ctx := context.Background()
	require.NoError(t, env.repo.Register(ctx, 1, "A2", "2026-08-01"))

	day1 := time.Date(2026, 9, 1, 23, 0, 0, 0, time.UTC)
	env.engine.now = func() time.Time { return day1 }

	_, err := env.engine.NextLesson(ctx, 1)
	require.NoError(t, err)
	_, err = env.engine.NextLesson(ctx, 1)
	require.NoError(t, err)
	_, err = env.engine.NextLesson(ctx, 1)
	require.ErrorIs(t, err, ErrQuotaExceeded)

	// Через два часа наступил новый день (UTC)
	env.engine.now = func() time.Time { return day1.Add(2 * time.Hour) }
	text, err := env.engine.NextLesson(ctx, 1)
	require.NoError(t, err)
	assert.Contains(t, text, "A2 урок 3")
	sub := env.mustGet(t, 1)
	assert.Equal(t, 3, sub.LessonIndex)
	assert.Equal(t, 1, sub.ManualCountToday)
}

func TestEndOfLevelIsFreeToRequery(t *testing.T) {
	env := newTestEnv(t, Config{MaxManualPerDay: 2}, testCurriculum)
	ctx := context.Background()
	require.NoError(t, env.repo.Register(ctx, 1, "A1", "2026-08-01"))

	_, err := env.engine.NextLesson(ctx, 1)
	require.NoError(t, err)
	_, err = env.engine.NextLesson(ctx, 1)
	require.NoError(t, err)

	// Квота исчерпана, но конец уровня отвечает без ошибки и без мутаций
	for i := 0; i < 3; i++ {
		text, err := env.engine.NextLesson(ctx, 1)
		require.NoError(t, err)
		assert.Contains(t, text, "пройдены")
	}
	assert.Equal(t, 2, env.mustGet(t, 1).ManualCountToday)
}

func TestStartRegistersAndDeliversFirstLesson(t *testing.T) {
	env := newTestEnv(t, Config{MaxManualPerDay: 2}, testCurriculum)
	ctx := context.Background()

	text, reactivated, err := env.engine.Start(ctx, 42)
	require.NoError(t, err)
	assert.False(t, reactivated)
	assert.Contains(t, text, "A1 урок 1")

	sub := env.mustGet(t, 42)
	assert.Equal(t, "A1", sub.Level)
	assert.Equal(t, 1, sub.LessonIndex)
	assert.Equal(t, models.StatusActive, sub.Status)
}

func TestStartReactivatesBlockedSubscriber(t *testing.T) {
	env := newTestEnv(t, Config{MaxManualPerDay: 2}, testCurriculum)
	ctx := context.Background()
	require.NoError(t, env.repo.Register(ctx, 1, "A1", "2026-08-01"))
	require.NoError(t, env.repo.MarkBlocked(ctx, 1))

	_, reactivated, err := env.engine.Start(ctx, 1)
	require.NoError(t, err)
	assert.True(t, reactivated)
	assert.Equal(t, models.StatusActive, env.mustGet(t, 1).Status)
}

func TestChangeLevelResets(t *testing.T) {
	env := newTestEnv(t, Config{MaxManualPerDay: 10}, testCurriculum)
	ctx := context.Background()
	require.NoError(t, env.repo.Register(ctx, 1, "A1", "2026-08-01"))
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, env.repo.RecordDelivery(ctx, 1, now, true))
	}

	changed, err := env.engine.ChangeLevel(ctx, 1, "A2")
	require.NoError(t, err)
	assert.True(t, changed)

	sub := env.mustGet(t, 1)
	assert.Equal(t, "A2", sub.Level)
	assert.Equal(t, 0, sub.LessonIndex)
	assert.Equal(t, 0, sub.ManualCountToday)
}

func TestChangeLevelSameLevelWithProgressIsNoOp(t *testing.T) {
	env := newTestEnv(t, Config{MaxManualPerDay: 10}, testCurriculum)
	ctx := context.Background()
	require.NoError(t, env.repo.Register(ctx, 1, "A1", "2026-08-01"))
	require.NoError(t, env.repo.RecordDelivery(ctx, 1, time.Now().UTC(), true))

	changed, err := env.engine.ChangeLevel(ctx, 1, "A1")
	require.NoError(t, err)
	assert.False(t, changed)

	sub := env.mustGet(t, 1)
	assert.Equal(t, 1, sub.LessonIndex)
	assert.Equal(t, 1, sub.ManualCountToday)
}

func TestChangeLevelSameLevelWithoutProgressResets(t *testing.T) {
	env := newTestEnv(t, Config{MaxManualPerDay: 10}, testCurriculum)
	ctx := context.Background()
	require.NoError(t, env.repo.Register(ctx, 1, "A1", "2026-08-01"))

	changed, err := env.engine.ChangeLevel(ctx, 1, "A1")
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestChangeLevelUnknownSubscriber(t *testing.T) {
	env := newTestEnv(t, Config{MaxManualPerDay: 10}, testCurriculum)

	_, err := env.engine.ChangeLevel(context.Background(), 99, "A2")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestRestartFromFirstLesson(t *testing.T) {
	env := newTestEnv(t, Config{MaxManualPerDay: 10}, testCurriculum)
	ctx := context.Background()
	require.NoError(t, env.repo.Register(ctx, 1, "A1", "2026-08-01"))
	require.NoError(t, env.repo.RecordDelivery(ctx, 1, time.Now().UTC(), true))
	require.NoError(t, env.repo.RecordDelivery(ctx, 1, time.Now().UTC(), true))

	text, err := env.engine.Restart(ctx, 1)
	require.NoError(t, err)
	assert.Contains(t, text, "A1 урок 1")
	assert.Equal(t, 1, env.mustGet(t, 1).LessonIndex)
}

func TestRestartRegistersUnknownSubscriber(t *testing.T) {
	env := newTestEnv(t, Config{MaxManualPerDay: 10}, testCurriculum)

	text, err := env.engine.Restart(context.Background(), 7)
	require.NoError(t, err)
	assert.Contains(t, text, "A1 урок 1")
	assert.Equal(t, 1, env.mustGet(t, 7).LessonIndex)
}

func TestRestartIgnoresQuota(t *testing.T) {
	env := newTestEnv(t, Config{MaxManualPerDay: 0}, testCurriculum)
	ctx := context.Background()
	require.NoError(t, env.repo.Register(ctx, 1, "A1", "2026-08-01"))

	_, err := env.engine.NextLesson(ctx, 1)
	require.ErrorIs(t, err, ErrQuotaExceeded)

	text, err := env.engine.Restart(ctx, 1)
	require.NoError(t, err)
	assert.Contains(t, text, "A1 урок 1")
	assert.Equal(t, 0, env.mustGet(t, 1).ManualCountToday)
}

func TestRestartCountsAsManualWhenConfigured(t *testing.T) {
	env := newTestEnv(t, Config{MaxManualPerDay: 5, RestartCountsAsManual: true}, testCurriculum)

	_, err := env.engine.Restart(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, env.mustGet(t, 1).ManualCountToday)
}

func TestConcurrentNextLessonHonorsQuota(t *testing.T) {
	env := newTestEnv(t, Config{MaxManualPerDay: 1}, testCurriculum)
	ctx := context.Background()
	require.NoError(t, env.repo.Register(ctx, 1, "A1", "2026-08-01"))

	// Дабл-тап: успеть должен ровно один запрос
	const workers = 8
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.NextLesson(ctx, 1)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	delivered, rejected := 0, 0
	for err := range results {
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrQuotaExceeded):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, delivered)
	assert.Equal(t, workers-1, rejected)

	sub := env.mustGet(t, 1)
	assert.Equal(t, 1, sub.LessonIndex)
	assert.Equal(t, 1, sub.ManualCountToday)
}

func TestEmptyCurriculum(t *testing.T) {
	env := newTestEnv(t, Config{MaxManualPerDay: 2}, "")
	ctx := context.Background()
	require.NoError(t, env.repo.Register(ctx, 1, "A1", "2026-08-01"))

	_, err := env.engine.NextLesson(ctx, 1)
	assert.ErrorIs(t, err, ErrLessonUnavailable)

	sub := env.mustGet(t, 1)
	assert.Equal(t, 0, sub.LessonIndex)
	assert.Equal(t, 0, sub.ManualCountToday)
}

func TestRepeatAll(t *testing.T) {
	env := newTestEnv(t, Config{MaxManualPerDay: 10}, testCurriculum)
	ctx := context.Background()
	require.NoError(t, env.repo.Register(ctx, 1, "A1", "2026-08-01"))

	// Ещё ничего не пройдено
	parts, err := env.engine.RepeatAll(ctx, 1)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, lessons.NothingToRepeatMessage, parts[0])

	_, err = env.engine.NextLesson(ctx, 1)
	require.NoError(t, err)
	_, err = env.engine.NextLesson(ctx, 1)
	require.NoError(t, err)

	parts, err = env.engine.RepeatAll(ctx, 1)
	require.NoError(t, err)
	joined := strings.Join(parts, "\n\n")
	assert.Contains(t, joined, "Повторение")
	assert.Contains(t, joined, "A1 урок 1")
	assert.Contains(t, joined, "A1 урок 2")
}

func TestRepeatAllRequiresRegistration(t *testing.T) {
	env := newTestEnv(t, Config{MaxManualPerDay: 2}, testCurriculum)

	_, err := env.engine.RepeatAll(context.Background(), 99)
	assert.True(t, errors.Is(err, ErrNotRegistered))
}

func TestProgressReport(t *testing.T) {
	env := newTestEnv(t, Config{MaxManualPerDay: 10}, testCurriculum)
	ctx := context.Background()
	require.NoError(t, env.repo.Register(ctx, 1, "A1", "2026-08-01"))
	_, err := env.engine.NextLesson(ctx, 1)
	require.NoError(t, err)

	text, err := env.engine.Progress(ctx, 1)
	require.NoError(t, err)
	assert.Contains(t, text, "Уровень: A1")
	assert.Contains(t, text, "Уроков: 1 / 2")
	assert.Contains(t, text, "Процент: 50%")
}
