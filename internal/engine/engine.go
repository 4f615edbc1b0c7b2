// Package engine holds the progress and policy decisions: whether a
// lesson may be delivered to a subscriber, which one, and how the
// subscriber's state changes afterward.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vanguar/german-morning-bot/internal/lessons"
	"github.com/vanguar/german-morning-bot/pkg/models"
)

// Policy signals surfaced to the transport layer, which translates them
// into user-facing messages. None of them leaves state mutated.
var (
	ErrNotRegistered     = errors.New("subscriber is not registered")
	ErrInactive          = errors.New("subscriber is not active")
	ErrQuotaExceeded     = errors.New("manual lesson quota exceeded")
	ErrLessonUnavailable = errors.New("lesson content unavailable")
)

// SubscriberStore is the persistence surface the engine drives
type SubscriberStore interface {
	Register(ctx context.Context, id int64, level, startDate string) error
	Get(ctx context.Context, id int64) (*models.Subscriber, error)
	SetLevel(ctx context.Context, id int64, level string) error
	ResetProgress(ctx context.Context, id int64) error
	ResetManualCountIfNewDay(ctx context.Context, id int64, now time.Time) error
	ReactivateIfBlocked(ctx context.Context, id int64, now time.Time) (bool, error)
	RecordDelivery(ctx context.Context, id int64, at time.Time, manual bool) error
}

// Config controls policy decisions
type Config struct {
	MaxManualPerDay       int
	DefaultLevel          string
	RestartCountsAsManual bool
}

// deliveryPolicy selects which checks a delivery path runs
type deliveryPolicy struct {
	requireActive bool
	checkQuota    bool
	countManual   bool
}

// Engine makes per-subscriber delivery decisions. State is re-read on
// every call; nothing is cached across invocations.
type Engine struct {
	store      SubscriberStore
	curriculum *lessons.Store
	renderer   *lessons.Renderer
	cfg        Config
	now        func() time.Time

	// locks holds one mutex per known subscriber and is never pruned;
	// a few dozen bytes per user, bounded by the audience size
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// New creates the engine
func New(store SubscriberStore, curriculum *lessons.Store, renderer *lessons.Renderer, cfg Config) *Engine {
	return &Engine{
		store:      store,
		curriculum: curriculum,
		renderer:   renderer,
		cfg:        cfg,
		now:        time.Now,
		locks:      make(map[int64]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing decisions for one subscriber,
// so a double-tap cannot pass the quota check twice.
func (e *Engine) lockFor(id int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// Start registers the subscriber (idempotent), reactivates a blocked
// one, and delivers the current lesson through the manual path. The
// boolean reports whether a reactivation happened.
func (e *Engine) Start(ctx context.Context, id int64) (string, bool, error) {
	l := e.lockFor(id)
	l.Lock()
	defer l.Unlock()

	now := e.now()
	if err := e.store.Register(ctx, id, e.cfg.DefaultLevel, now.UTC().Format("2006-01-02")); err != nil {
		return "", false, err
	}
	reactivated, err := e.store.ReactivateIfBlocked(ctx, id, now)
	if err != nil {
		return "", false, err
	}
	text, err := e.deliverCurrent(ctx, id, deliveryPolicy{
		requireActive: true,
		checkQuota:    true,
		countManual:   true,
	})
	return text, reactivated, err
}

// NextLesson handles a manual lesson request
func (e *Engine) NextLesson(ctx context.Context, id int64) (string, error) {
	l := e.lockFor(id)
	l.Lock()
	defer l.Unlock()

	return e.deliverCurrent(ctx, id, deliveryPolicy{
		requireActive: true,
		checkQuota:    true,
		countManual:   true,
	})
}

// Restart resets progress to the first lesson and delivers it. Unknown
// subscribers are registered first: restart is a valid entry point.
// The quota never blocks a restart; whether it consumes quota is a
// config switch.
func (e *Engine) Restart(ctx context.Context, id int64) (string, error) {
	l := e.lockFor(id)
	l.Lock()
	defer l.Unlock()

	now := e.now()
	if err := e.store.Register(ctx, id, e.cfg.DefaultLevel, now.UTC().Format("2006-01-02")); err != nil {
		return "", err
	}
	if err := e.store.ResetProgress(ctx, id); err != nil {
		return "", err
	}
	return e.deliverCurrent(ctx, id, deliveryPolicy{
		countManual: e.cfg.RestartCountsAsManual,
	})
}

// deliverCurrent runs the core decision sequence for the subscriber's
// current lesson and records the delivery on success.
func (e *Engine) deliverCurrent(ctx context.Context, id int64, policy deliveryPolicy) (string, error) {
	sub, err := e.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if sub == nil {
		return "", ErrNotRegistered
	}
	if policy.requireActive && !sub.IsActive() {
		return "", ErrInactive
	}

	now := e.now()
	if err := e.store.ResetManualCountIfNewDay(ctx, id, now); err != nil {
		return "", err
	}
	// Перечитываем: счётчик мог обнулиться
	sub, err = e.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if sub == nil {
		return "", ErrNotRegistered
	}

	total := e.curriculum.Total(sub.Level)
	if total == 0 {
		return "", ErrLessonUnavailable
	}
	if sub.LessonIndex >= total {
		return e.renderer.RenderEndOfLevel(sub.Level, e.curriculum.OtherLevel(sub.Level)), nil
	}
	if policy.checkQuota && sub.ManualCountToday >= e.cfg.MaxManualPerDay {
		return "", ErrQuotaExceeded
	}

	lesson, ok := e.curriculum.LessonAt(sub.Level, sub.LessonIndex)
	if !ok {
		return "", ErrLessonUnavailable
	}
	text := e.renderer.RenderLesson(lesson, sub.LessonIndex, total)

	if err := e.store.RecordDelivery(ctx, id, now, policy.countManual); err != nil {
		return "", fmt.Errorf("failed to record delivery: %w", err)
	}
	return text, nil
}

// RepeatAll renders everything the subscriber has already taken, split
// into transport-sized blocks. No state changes.
func (e *Engine) RepeatAll(ctx context.Context, id int64) ([]string, error) {
	sub, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrNotRegistered
	}
	return e.renderer.RenderRange(e.curriculum.Sequence(sub.Level), sub.LessonIndex), nil
}

// Progress returns the subscriber's progress report. No state changes.
func (e *Engine) Progress(ctx context.Context, id int64) (string, error) {
	sub, err := e.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if sub == nil {
		return "", ErrNotRegistered
	}
	return e.renderer.RenderProgress(sub, e.curriculum.Total(sub.Level)), nil
}

// ChangeLevel switches the subscriber to another level, resetting
// progress and quota. Switching to the level already in progress
// (lesson_index > 0) is an idempotent no-op; the boolean reports
// whether anything changed.
func (e *Engine) ChangeLevel(ctx context.Context, id int64, level string) (bool, error) {
	l := e.lockFor(id)
	l.Lock()
	defer l.Unlock()

	sub, err := e.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if sub == nil {
		return false, ErrNotRegistered
	}
	if sub.Level == level && sub.LessonIndex > 0 {
		return false, nil
	}
	if err := e.store.SetLevel(ctx, id, level); err != nil {
		return false, err
	}
	return true, nil
}
