// Package bot binds the Telegram transport to the policy engine. It is
// deliberately thin: every decision lives in internal/engine, here we
// only translate updates in and texts out.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/vanguar/german-morning-bot/internal/broadcast"
	"github.com/vanguar/german-morning-bot/internal/config"
	"github.com/vanguar/german-morning-bot/internal/database"
	"github.com/vanguar/german-morning-bot/internal/engine"
	"github.com/vanguar/german-morning-bot/internal/lessons"
)

// Main reply-keyboard button labels
const (
	btnNextLesson = "📘 Следующий урок"
	btnRepeatAll  = "🔁 Повторить все"
	btnProgress   = "📈 Прогресс"
	btnRestart    = "🏁 Начать с первого урока"
)

const callbackSetLevelPrefix = "set_level:"

// MenuButton represents a button in an inline menu
type MenuButton struct {
	Text         string
	CallbackData string
}

// createKeyboard creates an inline keyboard from menu buttons
func createKeyboard(buttons [][]MenuButton) tgbotapi.InlineKeyboardMarkup {
	var keyboard [][]tgbotapi.InlineKeyboardButton
	for _, row := range buttons {
		var keyboardRow []tgbotapi.InlineKeyboardButton
		for _, button := range row {
			keyboardRow = append(keyboardRow, tgbotapi.NewInlineKeyboardButtonData(button.Text, button.CallbackData))
		}
		keyboard = append(keyboard, keyboardRow)
	}
	return tgbotapi.NewInlineKeyboardMarkup(keyboard...)
}

// Bot is the Telegram transport adapter
type Bot struct {
	api        *tgbotapi.BotAPI
	engine     *engine.Engine
	curriculum *lessons.Store
	stats      *database.StatisticsRepository
	cfg        *config.Config

	awaitingFileUpload map[int64]bool
}

// New creates a new bot instance
func New(cfg *config.Config, eng *engine.Engine, curriculum *lessons.Store, stats *database.StatisticsRepository) (*Bot, error) {
	client := &http.Client{Timeout: cfg.SendTimeout}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot api: %v", err)
	}
	return &Bot{
		api:                api,
		engine:             eng,
		curriculum:         curriculum,
		stats:              stats,
		cfg:                cfg,
		awaitingFileUpload: make(map[int64]bool),
	}, nil
}

// Start runs the long-polling loop until ctx is cancelled
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)
	log.Printf("Authorized on account %s", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

// SendLesson implements broadcast.Sender. Telegram errors are
// classified into the driver's taxonomy: 403 means the recipient
// blocked us, RetryAfter becomes a rate-limit hint, the rest is
// transient. The bot-api library does not thread contexts through
// requests, so cancellation is checked before dispatch and the
// in-flight bound comes from the HTTP client timeout, configured from
// the same SendTimeout the driver uses.
func (b *Bot) SendLesson(ctx context.Context, id int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := b.api.Send(msg)
	return classifySendError(err)
}

func classifySendError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusForbidden {
			return broadcast.ErrUnreachable
		}
		if apiErr.RetryAfter > 0 {
			return &broadcast.RateLimitedError{RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second}
		}
	}
	return err
}

// sendHTML delivers one HTML-formatted message, logging send failures
func (b *Bot) sendHTML(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("Failed to send message to %d: %v", chatID, err)
	}
}

func (b *Bot) isAdmin(id int64) bool {
	return b.cfg.IsAdmin(id)
}

// mainMenuKeyboard is the persistent reply keyboard
func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnNextLesson)),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnRepeatAll),
			tgbotapi.NewKeyboardButton(btnProgress),
		),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnRestart)),
	)
	kb.ResizeKeyboard = true
	return kb
}

// levelKeyboard offers every level present in the curriculum
func (b *Bot) levelKeyboard() tgbotapi.InlineKeyboardMarkup {
	var row []MenuButton
	for _, level := range b.curriculum.Levels() {
		row = append(row, MenuButton{
			Text:         "🚀 Уровень " + level,
			CallbackData: callbackSetLevelPrefix + level,
		})
	}
	if len(row) == 0 {
		row = append(row, MenuButton{
			Text:         "🚀 Уровень " + b.cfg.DefaultLevel,
			CallbackData: callbackSetLevelPrefix + b.cfg.DefaultLevel,
		})
	}
	return createKeyboard([][]MenuButton{row})
}
