package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/vanguar/german-morning-bot/internal/engine"
	"github.com/vanguar/german-morning-bot/internal/excel"
)

const startText = "<b>👋 Привет! Добро пожаловать в мини-бот для изучения 🇩🇪 немецкого.</b>\n\n" +
	"Я уже отправил вам первый урок и активировал ежедневную утреннюю рассылку.\n\n" +
	"Используйте кнопки ниже для навигации по урокам или смены уровня 👇"

const broadcastActivatedText = "🔔 Ежедневная утренняя рассылка активирована!\n" +
	"Каждое утро вы будете получать новый урок."

const fallbackText = "Не понял. Кнопки:\n📘 урок • 🔁 повтор • 📈 прогресс • 🏁 сначала\n" +
	"Или выберите уровень через /start."

// policyMessage translates engine policy signals into user-facing
// text; "" means the error is not a policy signal.
func policyMessage(err error) string {
	switch {
	case errors.Is(err, engine.ErrNotRegistered):
		return "Сначала /start"
	case errors.Is(err, engine.ErrInactive):
		return "Статус не active. Напиши /start для реактивации."
	case errors.Is(err, engine.ErrQuotaExceeded):
		return "Достигнут лимит ручных уроков на сегодня."
	case errors.Is(err, engine.ErrLessonUnavailable):
		return "Не удалось получить урок (проверь lessons.json)."
	}
	return ""
}

// replyPolicyOrLog sends the policy translation for err, or a generic
// apology when the failure is internal.
func (b *Bot) replyPolicyOrLog(chatID int64, action string, err error) {
	if msg := policyMessage(err); msg != "" {
		b.sendHTML(chatID, msg)
		return
	}
	log.Printf("Handler %s failed for chat %d: %v", action, chatID, err)
	b.sendHTML(chatID, "Что-то пошло не так. Попробуй ещё раз позже.")
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

func (b *Bot) handleMessage(ctx context.Context, m *tgbotapi.Message) {
	if m.From == nil || m.Chat == nil {
		return
	}

	if m.IsCommand() {
		switch m.Command() {
		case "start":
			b.handleStart(ctx, m)
		case "progress":
			b.handleProgress(ctx, m)
		case "reload":
			if b.checkAdmin(m) {
				b.handleReload(m)
			}
		case "stats":
			if b.checkAdmin(m) {
				b.handleStats(ctx, m)
			}
		case "import":
			if b.checkAdmin(m) {
				b.handleImportCommand(m)
			}
		default:
			b.sendHTML(m.Chat.ID, fallbackText)
		}
		return
	}

	if b.awaitingFileUpload[m.Chat.ID] && b.isAdmin(m.From.ID) {
		if m.Document != nil {
			b.processCurriculumFile(ctx, m)
		} else {
			b.sendHTML(m.Chat.ID, "Пришлите файл .xlsx или .csv с уроками, либо /start для отмены.")
		}
		return
	}

	switch m.Text {
	case btnNextLesson:
		b.handleNextLesson(ctx, m)
	case btnRepeatAll:
		b.handleRepeatAll(ctx, m)
	case btnProgress:
		b.handleProgress(ctx, m)
	case btnRestart:
		b.handleRestart(ctx, m)
	default:
		// Сообщение с кодом уровня (A2) — смена уровня текстом
		if level := b.matchLevel(m.Text); level != "" {
			b.applyLevelChange(ctx, m.Chat.ID, m.From.ID, level)
			return
		}
		b.sendHTML(m.Chat.ID, fallbackText)
	}
}

// checkAdmin gates admin commands on the allow-list
func (b *Bot) checkAdmin(m *tgbotapi.Message) bool {
	if b.isAdmin(m.From.ID) {
		return true
	}
	b.sendHTML(m.Chat.ID, "Эта команда доступна только администраторам.")
	return false
}

func (b *Bot) handleStart(ctx context.Context, m *tgbotapi.Message) {
	userID := m.From.ID
	delete(b.awaitingFileUpload, m.Chat.ID)

	text, reactivated, err := b.engine.Start(ctx, userID)

	welcome := tgbotapi.NewMessage(m.Chat.ID, startText)
	welcome.ParseMode = tgbotapi.ModeHTML
	welcome.ReplyMarkup = b.levelKeyboard()
	if _, serr := b.api.Send(welcome); serr != nil {
		log.Printf("Failed to send welcome to %d: %v", m.Chat.ID, serr)
	}

	menu := tgbotapi.NewMessage(m.Chat.ID, "Главное меню:")
	menu.ReplyMarkup = mainMenuKeyboard()
	if _, serr := b.api.Send(menu); serr != nil {
		log.Printf("Failed to send menu to %d: %v", m.Chat.ID, serr)
	}

	if err != nil {
		b.replyPolicyOrLog(m.Chat.ID, "start", err)
	} else {
		b.sendHTML(m.Chat.ID, "<b>🌅 Ваш первый урок</b>\n\n"+text)
	}
	if reactivated {
		b.sendHTML(m.Chat.ID, "✅ Подписка снова активна.")
	}
	b.sendHTML(m.Chat.ID, broadcastActivatedText)
}

func (b *Bot) handleNextLesson(ctx context.Context, m *tgbotapi.Message) {
	text, err := b.engine.NextLesson(ctx, m.From.ID)
	if err != nil {
		b.replyPolicyOrLog(m.Chat.ID, "next_lesson", err)
		return
	}
	b.sendHTML(m.Chat.ID, text)
}

func (b *Bot) handleRepeatAll(ctx context.Context, m *tgbotapi.Message) {
	parts, err := b.engine.RepeatAll(ctx, m.From.ID)
	if err != nil {
		b.replyPolicyOrLog(m.Chat.ID, "repeat_all", err)
		return
	}
	for _, part := range parts {
		b.sendHTML(m.Chat.ID, part)
	}
}

func (b *Bot) handleProgress(ctx context.Context, m *tgbotapi.Message) {
	text, err := b.engine.Progress(ctx, m.From.ID)
	if err != nil {
		b.replyPolicyOrLog(m.Chat.ID, "progress", err)
		return
	}
	b.sendHTML(m.Chat.ID, text)
}

func (b *Bot) handleRestart(ctx context.Context, m *tgbotapi.Message) {
	text, err := b.engine.Restart(ctx, m.From.ID)
	if err != nil {
		if errors.Is(err, engine.ErrLessonUnavailable) {
			b.sendHTML(m.Chat.ID, "Нет уроков в этом уровне.")
			return
		}
		b.replyPolicyOrLog(m.Chat.ID, "restart", err)
		return
	}
	b.sendHTML(m.Chat.ID, "<b>Прогресс обнулён.</b> Начинаем сначала!\n\n"+text)
}

func (b *Bot) handleCallbackQuery(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.From == nil || !strings.HasPrefix(cq.Data, callbackSetLevelPrefix) {
		return
	}
	level := strings.TrimPrefix(cq.Data, callbackSetLevelPrefix)

	changed, err := b.engine.ChangeLevel(ctx, cq.From.ID, level)
	switch {
	case errors.Is(err, engine.ErrNotRegistered):
		b.answerCallback(cq.ID, "Сначала /start", true)
		return
	case err != nil:
		log.Printf("Level change failed for %d: %v", cq.From.ID, err)
		b.answerCallback(cq.ID, "Не получилось сменить уровень.", true)
		return
	case !changed:
		b.answerCallback(cq.ID, fmt.Sprintf("Уровень %s уже активен.", level), true)
		return
	}

	b.answerCallback(cq.ID, fmt.Sprintf("Уровень %s установлен!", level), true)
	if cq.Message != nil {
		b.sendHTML(cq.Message.Chat.ID, fmt.Sprintf(
			"✅ Уровень изменён на <b>%s</b>.\nНажмите «%s», чтобы получить новый урок по выбранному уровню.",
			level, btnNextLesson))
	}
}

// applyLevelChange handles the text form of a level switch
func (b *Bot) applyLevelChange(ctx context.Context, chatID, userID int64, level string) {
	changed, err := b.engine.ChangeLevel(ctx, userID, level)
	if err != nil {
		b.replyPolicyOrLog(chatID, "change_level", err)
		return
	}
	if !changed {
		b.sendHTML(chatID, fmt.Sprintf("Уровень %s уже активен.", level))
		return
	}
	b.sendHTML(chatID, fmt.Sprintf(
		"✅ Уровень изменён на <b>%s</b>.\nНажмите «%s», чтобы получить новый урок по выбранному уровню.",
		level, btnNextLesson))
}

// matchLevel maps free text onto a known level label, "" when no match
func (b *Bot) matchLevel(text string) string {
	needle := strings.ToUpper(strings.TrimSpace(text))
	if needle == "" {
		return ""
	}
	for _, level := range b.curriculum.Levels() {
		if strings.ToUpper(level) == needle {
			return level
		}
	}
	return ""
}

func (b *Bot) answerCallback(id, text string, alert bool) {
	callback := tgbotapi.NewCallback(id, text)
	if alert {
		callback = tgbotapi.NewCallbackWithAlert(id, text)
	}
	if _, err := b.api.Request(callback); err != nil {
		log.Printf("Failed to answer callback: %v", err)
	}
}

// -------- Admin commands --------

func (b *Bot) handleReload(m *tgbotapi.Message) {
	if err := b.curriculum.Reload(); err != nil {
		log.Printf("Curriculum reload failed: %v", err)
		b.sendHTML(m.Chat.ID, "⚠️ Не удалось перечитать уроки, работаю с пустым списком: "+err.Error())
		return
	}
	levels := b.curriculum.Levels()
	total := 0
	for _, level := range levels {
		total += b.curriculum.Total(level)
	}
	b.sendHTML(m.Chat.ID, fmt.Sprintf("✅ Уроки перечитаны: уровней %d, уроков %d.", len(levels), total))
}

func (b *Bot) handleStats(ctx context.Context, m *tgbotapi.Message) {
	stats, err := b.stats.Snapshot(ctx)
	if err != nil {
		log.Printf("Stats query failed: %v", err)
		b.sendHTML(m.Chat.ID, "Не удалось получить статистику.")
		return
	}
	b.sendHTML(m.Chat.ID, fmt.Sprintf(
		"📊 Статистика\nВсего: %d\nАктивных: %d\nЗаблокировано: %d\nСредний прогресс: %.1f уроков",
		stats.Total, stats.Active, stats.Blocked, stats.AvgLessonIndex))
}

func (b *Bot) handleImportCommand(m *tgbotapi.Message) {
	b.awaitingFileUpload[m.Chat.ID] = true
	b.sendHTML(m.Chat.ID,
		"📝 Пришлите файл .xlsx или .csv с уроками.\n"+
			"Колонки: уровень, заголовок, слова, фразы, грамматика, повтор, задание.\n"+
			"Пары пишутся по одной на строку: <code>Hallo - Привет</code>.")
}

// processCurriculumFile downloads the uploaded spreadsheet, converts it
// to the lesson document, and hot-swaps the curriculum.
func (b *Bot) processCurriculumFile(_ context.Context, m *tgbotapi.Message) {
	delete(b.awaitingFileUpload, m.Chat.ID)

	localPath, err := b.downloadDocument(m.Document)
	if err != nil {
		log.Printf("Import download failed: %v", err)
		b.sendHTML(m.Chat.ID, "Не удалось скачать файл: "+err.Error())
		return
	}
	defer os.Remove(localPath)

	cfg := excel.DefaultImportConfig()
	cfg.FilePath = localPath
	curriculum, result, err := excel.ImportLessons(cfg)
	if err != nil {
		log.Printf("Import failed: %v", err)
		b.sendHTML(m.Chat.ID, "Не удалось разобрать файл: "+err.Error())
		return
	}
	if err := excel.WriteLessonsFile(b.cfg.LessonsFile, curriculum); err != nil {
		log.Printf("Import write failed: %v", err)
		b.sendHTML(m.Chat.ID, "Не удалось сохранить уроки: "+err.Error())
		return
	}
	if err := b.curriculum.Reload(); err != nil {
		log.Printf("Reload after import failed: %v", err)
		b.sendHTML(m.Chat.ID, "Файл сохранён, но перечитать уроки не удалось: "+err.Error())
		return
	}

	report := fmt.Sprintf("✅ Импорт завершён: уровней %d, уроков %d (строк обработано %d).",
		result.Levels, result.Lessons, result.TotalProcessed)
	if len(result.Errors) > 0 {
		report += fmt.Sprintf("\n⚠️ Пропущено с ошибками: %d\n%s",
			len(result.Errors), strings.Join(result.Errors, "\n"))
	}
	b.sendHTML(m.Chat.ID, report)
}

func (b *Bot) downloadDocument(doc *tgbotapi.Document) (string, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: doc.FileID})
	if err != nil {
		return "", fmt.Errorf("failed to get file info: %v", err)
	}

	resp, err := http.Get(file.Link(b.api.Token))
	if err != nil {
		return "", fmt.Errorf("failed to download file: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download file: status %s", resp.Status)
	}

	ext := filepath.Ext(doc.FileName)
	if ext == "" {
		ext = ".xlsx"
	}
	tmp, err := os.CreateTemp("", "curriculum-*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %v", err)
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to save file: %v", err)
	}
	return tmp.Name(), nil
}
