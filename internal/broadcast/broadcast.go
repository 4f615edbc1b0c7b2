// Package broadcast implements the daily lesson fan-out to all active
// subscribers.
package broadcast

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vanguar/german-morning-bot/internal/lessons"
	"github.com/vanguar/german-morning-bot/pkg/models"
)

// ErrUnreachable reports that the recipient permanently rejects
// delivery (e.g. blocked the bot).
var ErrUnreachable = errors.New("recipient unreachable")

// RateLimitedError reports a transport rate limit with a retry hint
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Sender delivers one text block to one subscriber. Implementations
// classify permanent rejections as ErrUnreachable and rate limits as
// *RateLimitedError; anything else is treated as transient.
type Sender interface {
	SendLesson(ctx context.Context, id int64, text string) error
}

// SubscriberStore is the storage subset the driver needs
type SubscriberStore interface {
	ListActive(ctx context.Context) ([]int64, error)
	Get(ctx context.Context, id int64) (*models.Subscriber, error)
	MarkBlocked(ctx context.Context, id int64) error
	RecordDelivery(ctx context.Context, id int64, at time.Time, manual bool) error
}

// ErrorLog records failed deliveries for diagnostics
type ErrorLog interface {
	Log(ctx context.Context, e *models.DeliveryError) error
}

const morningHeader = "🌅 Утренний урок\n\n"

// Options tune the driver
type Options struct {
	// Concurrency caps simultaneous deliveries (default 8)
	Concurrency int
	// SendTimeout bounds each transport call (default 30s)
	SendTimeout time.Duration
}

// Driver sends the current lesson to every active subscriber once per
// trigger. Per-subscriber failures are isolated: one bad recipient
// never aborts the batch.
type Driver struct {
	store      SubscriberStore
	curriculum *lessons.Store
	renderer   *lessons.Renderer
	sender     Sender
	errorLog   ErrorLog

	concurrency int
	sendTimeout time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewDriver creates the broadcast driver. errorLog may be nil.
func NewDriver(store SubscriberStore, curriculum *lessons.Store, renderer *lessons.Renderer, sender Sender, errorLog ErrorLog, opts Options) *Driver {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	return &Driver{
		store:       store,
		curriculum:  curriculum,
		renderer:    renderer,
		sender:      sender,
		errorLog:    errorLog,
		concurrency: opts.Concurrency,
		sendTimeout: opts.SendTimeout,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// Run performs one broadcast tick. It returns early only when ctx is
// cancelled; per-subscriber errors are logged and swallowed.
func (d *Driver) Run(ctx context.Context) error {
	ids, err := d.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active subscribers: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	log.Printf("Broadcast: sending to %d active subscribers", len(ids))

	sem := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(id int64) {
			defer wg.Done()
			defer func() { <-sem }()
			d.sendOne(ctx, id)
		}(id)
	}
	wg.Wait()
	return ctx.Err()
}

// sendOne delivers today's lesson to a single subscriber and records
// state immediately after a confirmed delivery.
func (d *Driver) sendOne(ctx context.Context, id int64) {
	sub, err := d.store.Get(ctx, id)
	if err != nil {
		log.Printf("Broadcast: failed to load subscriber %d: %v", id, err)
		return
	}
	if sub == nil {
		return
	}

	total := d.curriculum.Total(sub.Level)
	if sub.LessonIndex >= total {
		// Уровень пройден — пропускаем без мутаций
		return
	}
	lesson, ok := d.curriculum.LessonAt(sub.Level, sub.LessonIndex)
	if !ok {
		return
	}
	text := morningHeader + d.renderer.RenderLesson(lesson, sub.LessonIndex, total)

	err = d.deliver(ctx, id, text)

	var rl *RateLimitedError
	if errors.As(err, &rl) {
		if serr := d.sleep(ctx, rl.RetryAfter+time.Second); serr != nil {
			return
		}
		err = d.deliver(ctx, id, text)
		if errors.As(err, &rl) {
			log.Printf("Broadcast: subscriber %d still rate limited, giving up for today", id)
			d.logError(ctx, sub, "rate_limited", err)
			return
		}
	}

	switch {
	case err == nil:
		if err := d.store.RecordDelivery(ctx, id, d.now(), false); err != nil {
			log.Printf("Broadcast: failed to record delivery for %d: %v", id, err)
		}
	case errors.Is(err, ErrUnreachable):
		if err := d.store.MarkBlocked(ctx, id); err != nil {
			log.Printf("Broadcast: failed to mark %d blocked: %v", id, err)
		}
		d.logError(ctx, sub, "unreachable", err)
	default:
		// Транзиентная ошибка — не признак блокировки
		log.Printf("Broadcast: failed to send to %d: %v", id, err)
		d.logError(ctx, sub, "transient", err)
	}
}

func (d *Driver) deliver(parent context.Context, id int64, text string) error {
	ctx, cancel := context.WithTimeout(parent, d.sendTimeout)
	defer cancel()
	return d.sender.SendLesson(ctx, id, text)
}

func (d *Driver) logError(ctx context.Context, sub *models.Subscriber, errorType string, cause error) {
	if d.errorLog == nil {
		return
	}
	e := &models.DeliveryError{
		SubscriberID: sub.ID,
		Level:        sub.Level,
		LessonIndex:  sub.LessonIndex,
		ErrorType:    errorType,
		Detail:       cause.Error(),
		CreatedAt:    sql.NullTime{Time: d.now().UTC(), Valid: true},
	}
	if err := d.errorLog.Log(ctx, e); err != nil {
		log.Printf("Broadcast: failed to log delivery error for %d: %v", sub.ID, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
