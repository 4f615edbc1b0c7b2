package lessons

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/vanguar/german-morning-bot/pkg/models"
)

// DefaultMaxBlockChars keeps rendered blocks under the Telegram message
// ceiling with headroom for the morning/repetition headers.
const DefaultMaxBlockChars = 4000

const repeatHeader = "<b>🔁 Повторение изученных уроков</b>\n\n"

// NothingToRepeatMessage is returned instead of lesson blocks when the
// subscriber has not taken a single lesson yet.
const NothingToRepeatMessage = "Пока нет уроков для повторения. Сначала возьми новый урок 📘."

// Renderer formats lessons as Telegram HTML
type Renderer struct {
	// MaxBlockChars is the hard per-block limit for RenderRange,
	// counted in runes. Zero means DefaultMaxBlockChars.
	MaxBlockChars int
}

// NewRenderer returns a renderer with the default block limit
func NewRenderer() *Renderer {
	return &Renderer{MaxBlockChars: DefaultMaxBlockChars}
}

func esc(text string) string {
	return html.EscapeString(text)
}

func pairBlock(pairs []models.Pair) string {
	lines := make([]string, 0, len(pairs))
	for _, p := range pairs {
		lines = append(lines, fmt.Sprintf("• %s — %s", esc(p.Term), esc(p.Translation)))
	}
	return strings.Join(lines, "\n")
}

// RenderLesson produces one formatted block for a single lesson.
// Section order is fixed: title, words, phrases, grammar, review,
// task. Sections without content are omitted entirely.
func (r *Renderer) RenderLesson(lesson models.Lesson, index, total int) string {
	title := lesson.Title
	if title == "" {
		title = fmt.Sprintf("Урок %d", index+1)
	}
	parts := []string{fmt.Sprintf("<b>📘 %s</b> (%d/%d)", esc(title), index+1, total)}

	if len(lesson.Words) > 0 {
		parts = append(parts, "<b>🔤 Слова:</b>\n"+pairBlock(lesson.Words))
	}
	if len(lesson.Phrases) > 0 {
		parts = append(parts, "<b>💬 Фразы:</b>\n"+pairBlock(lesson.Phrases))
	}
	if g := renderGrammar(lesson.Grammar); g != "" {
		parts = append(parts, "<b>⚙️ Грамматика:</b>\n"+g)
	}
	if len(lesson.Review) > 0 {
		parts = append(parts, "<b>♻️ Повтор:</b>\n"+pairBlock(lesson.Review))
	}
	if strings.TrimSpace(lesson.Task) != "" {
		parts = append(parts, "<b>📝 Задание:</b>\n"+esc(lesson.Task))
	}

	return strings.Join(parts, "\n\n")
}

func renderGrammar(g *models.Grammar) string {
	if g.IsEmpty() {
		return ""
	}
	var lines []string
	if strings.TrimSpace(g.Rule) != "" {
		lines = append(lines, esc(g.Rule))
	}
	for _, row := range g.Table {
		cells := make([]string, 0, len(row))
		for _, cell := range row {
			cells = append(cells, esc(cell))
		}
		lines = append(lines, strings.Join(cells, " | "))
	}
	if len(g.Examples) > 0 {
		lines = append(lines, pairBlock(g.Examples))
	}
	return strings.Join(lines, "\n")
}

// RenderEndOfLevel produces the level-completion message. The
// suggestion line appears only when another level exists.
func (r *Renderer) RenderEndOfLevel(level, other string) string {
	lines := []string{
		fmt.Sprintf("🏆 <b>Все уроки уровня %s пройдены!</b>", esc(level)),
		"🔁 Используй «Повторить все» для закрепления.",
	}
	if other != "" {
		lines = append(lines, fmt.Sprintf("➡️ Перейти на <b>%s</b>: отправь <code>%s</code>.", esc(other), esc(other)))
	}
	lines = append(lines, "✨ Новые блоки появятся позже.")
	return strings.Join(lines, "\n")
}

// RenderRange renders lessons [0, upTo) into one or more blocks, each
// within the block limit. Packing is greedy: the next lesson joins the
// current block only when it still fits. Lesson content is never split
// across blocks. The first block carries the repetition header.
func (r *Renderer) RenderRange(seq []models.Lesson, upTo int) []string {
	if upTo > len(seq) {
		upTo = len(seq)
	}
	// Покрывает и пустую последовательность: после Reload уровень мог исчезнуть
	if upTo <= 0 {
		return []string{NothingToRepeatMessage}
	}
	max := r.MaxBlockChars
	if max <= 0 {
		max = DefaultMaxBlockChars
	}

	total := len(seq)
	var out []string
	var buffer []string
	// Бюджет первого блока включает заголовок
	acc := utf8.RuneCountInString(repeatHeader)

	for i := 0; i < upTo; i++ {
		t := r.RenderLesson(seq[i], i, total)
		n := utf8.RuneCountInString(t)
		if len(buffer) > 0 && acc+n+2 > max {
			out = append(out, strings.Join(buffer, "\n\n"))
			buffer = []string{t}
			acc = n
		} else {
			buffer = append(buffer, t)
			acc += n + 2
		}
	}
	if len(buffer) > 0 {
		out = append(out, strings.Join(buffer, "\n\n"))
	}
	out[0] = repeatHeader + out[0]
	return out
}

// RenderProgress produces the subscriber's progress report
func (r *Renderer) RenderProgress(sub *models.Subscriber, total int) string {
	percent := 0.0
	if total > 0 {
		percent = float64(sub.LessonIndex) / float64(total) * 100
		// один знак после запятой, не выше 100
		percent = float64(int(percent*10+0.5)) / 10
		if percent > 100 {
			percent = 100
		}
	}
	lines := []string{
		"📊 Прогресс",
		fmt.Sprintf("Уровень: %s", sub.Level),
		fmt.Sprintf("Уроков: %d / %d", sub.LessonIndex, total),
		fmt.Sprintf("Процент: %s%%", strconv.FormatFloat(percent, 'f', -1, 64)),
		fmt.Sprintf("Ручных сегодня: %d", sub.ManualCountToday),
		fmt.Sprintf("Статус: %s", sub.Status),
		fmt.Sprintf("Дата старта: %s", sub.StartDate),
	}
	if sub.ReactivatedAt.Valid {
		lines = append(lines, "Повторно активирован: да")
	}
	return strings.Join(lines, "\n")
}
