package summary

import (
	"fmt"
	"strings"
	"time"

	"mm-summarizer/internal/domain"
)

const timestampLayout = "2006-01-02 15:04"

// collateMessages превращает посты в строки переписки для промпта:
// «#<номер> [<время>] <автор>: <текст>». Автор — отображаемое имя, при
// его отсутствии идентификатор пользователя.
func collateMessages(posts []domain.Post) []string {
	lines := make([]string, 0, len(posts))
	for i, post := range posts {
		author := post.UserName
		if author == "" {
			author = post.UserID
		}
		ts := time.UnixMilli(post.CreateAt).UTC().Format(timestampLayout)
		lines = append(lines, fmt.Sprintf("#%d [%s] %s: %s", i+1, ts, author, strings.TrimSpace(post.Message)))
	}
	return lines
}

// buildContext вычисляет контекст сводки по крайним отметкам времени
// выборки. Контекст живёт только в рамках цикла и не персистится.
func buildContext(channel domain.Channel, posts []domain.Post) domain.SummaryContext {
	var first, last int64
	for _, post := range posts {
		if first == 0 || post.CreateAt < first {
			first = post.CreateAt
		}
		if post.CreateAt > last {
			last = post.CreateAt
		}
	}
	return domain.SummaryContext{
		GroupName: channel.Title(),
		StartDate: time.UnixMilli(first).UTC().Format(timestampLayout),
		EndDate:   time.UnixMilli(last).UTC().Format(timestampLayout),
	}
}

// fallbackSummary — детерминированная сводка на случай отказа LLM. Канал
// с новыми сообщениями никогда не остаётся без сводки.
func fallbackSummary(messageCount int, context domain.SummaryContext) string {
	return fmt.Sprintf("%d message(s) captured for %s (%s – %s). Unable to generate an AI summary at this time.",
		messageCount, context.GroupName, context.StartDate, context.EndDate)
}
