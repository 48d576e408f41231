package domain

import (
	"regexp"
	"strings"
)

// ChannelType описывает тип канала Mattermost.
type ChannelType string

const (
	// ChannelTypeDirect — личная переписка один на один.
	ChannelTypeDirect ChannelType = "D"
	// ChannelTypeGroup — групповая переписка нескольких пользователей.
	ChannelTypeGroup ChannelType = "G"
	// ChannelTypeOpen — публичный канал команды.
	ChannelTypeOpen ChannelType = "O"
	// ChannelTypePrivate — приватный канал команды.
	ChannelTypePrivate ChannelType = "P"
)

// Team описывает команду Mattermost, в которой состоит пользователь.
type Team struct {
	ID   string
	Name string
}

// Channel описывает канал Mattermost вместе с сигналами активности.
type Channel struct {
	ID            string
	TeamID        string
	Name          string
	DisplayName   string
	Type          ChannelType
	DeleteAt      int64
	LastPostAt    int64
	TotalMsgCount int64
}

var channelKeyPattern = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Key возвращает безопасный для файловой системы идентификатор канала.
func (c Channel) Key() string {
	name := c.Name
	if name == "" {
		name = c.ID
	}
	cleaned := channelKeyPattern.ReplaceAllString(name, "_")
	cleaned = strings.Trim(cleaned, "._")
	if cleaned == "" {
		return "channel"
	}
	return cleaned
}

// Title возвращает человекочитаемое имя канала.
func (c Channel) Title() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Name
}

// Membership хранит членство пользователя в канале вместе с сырыми
// настройками уведомлений. Поля notify_props и highlighted приходят из
// разных версий API в неконсистентных типах (string "true" против bool
// true), поэтому хранятся как any и трактуются пермиссивно.
type Membership struct {
	ChannelID          string
	MsgCount           int64
	MsgCountRoot       int64
	MentionCount       int64
	MentionCountRoot   int64
	UrgentMentionCount int64
	LastViewedAt       int64
	NotifyProps        map[string]any
	Highlighted        any
}

// Post представляет одно сообщение канала. Время создания — миллисекунды
// Unix-эпохи, как их отдаёт Mattermost. Монотонность create_at внутри
// выдачи API не гарантируется.
type Post struct {
	ID       string
	UserID   string
	UserName string
	Message  string
	CreateAt int64
}

// Conversation объединяет канал и срез новых сообщений относительно
// водяного знака.
type Conversation struct {
	Channel Channel
	Unread  int
	Posts   []Post
}

// LastPostAt возвращает время самого свежего сообщения выборки.
func (c Conversation) LastPostAt() int64 {
	var last int64
	for _, post := range c.Posts {
		if post.CreateAt > last {
			last = post.CreateAt
		}
	}
	return last
}

// SummaryContext описывает метаданные суммируемой переписки: имя группы
// и человекочитаемые границы временного окна. Никогда не персистится.
type SummaryContext struct {
	GroupName string
	StartDate string
	EndDate   string
}

// ConversationGroup — подготовленная к суммаризации переписка одного
// канала: идентификатор группы, контекст и отформатированные строки.
type ConversationGroup struct {
	ID       string
	Context  SummaryContext
	Messages []string
}

// ChannelSummary — событие «сводка канала обновлена». Публикуется в
// очередь подписчиков по значению, один раз за цикл на каждый канал с
// новым содержимым.
type ChannelSummary struct {
	EventID     string `json:"event_id,omitempty"`
	TeamID      string `json:"team_id"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	DisplayName string `json:"display_name"`
	UnreadCount int    `json:"unread_count"`
	Summary     string `json:"summary"`
}
