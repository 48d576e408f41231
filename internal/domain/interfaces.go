package domain

import (
	"context"
	"errors"
	"time"
)

// ChatClient описывает возможности REST API Mattermost, нужные пайплайну.
type ChatClient interface {
	ListTeams(ctx context.Context) ([]Team, error)
	ListChannels(ctx context.Context, teamID string) ([]Channel, error)
	ListChannelMembers(ctx context.Context, teamID string) ([]Membership, error)
	// GetPosts возвращает сообщения канала. При since > 0 запрашиваются
	// только сообщения после указанной отметки, при since == 0 — не более
	// limit последних. Выдача API идёт от новых к старым.
	GetPosts(ctx context.Context, channelID string, since int64, limit int) ([]Post, error)
	ResolveDisplayNames(ctx context.Context, userIDs []string) (map[string]string, error)
}

// Summarizer строит текстовые сводки переписок через LLM.
type Summarizer interface {
	// Summarize суммирует одну группу. Пустой или пробельный результат
	// считается ошибкой.
	Summarize(ctx context.Context, group ConversationGroup) (string, error)
	// SummarizeMany суммирует несколько групп одним запросом и возвращает
	// карту «идентификатор группы — текст». Отсутствующие в ответе группы
	// вызывающая сторона добирает через Summarize.
	SummarizeMany(ctx context.Context, groups []ConversationGroup) (map[string]string, error)
}

// WatermarkStore хранит отметку «последнее обработанное время» на канал.
type WatermarkStore interface {
	// Last возвращает сохранённый водяной знак и признак его наличия.
	// Повреждённое состояние трактуется как отсутствие отметки.
	Last(channelKey string) (int64, bool, error)
	// Advance продвигает водяной знак строго монотонно: при ts <= текущего
	// значения возвращает false без изменений.
	Advance(channelKey string, ts int64) (bool, error)
}

// TranscriptArchive персистит сырые сообщения и последнюю сводку канала.
type TranscriptArchive interface {
	SaveMessages(channelKey string, posts []Post) error
	SaveSummary(channelKey string, summary string) error
	LoadSummary(channelKey string) (string, error)
	ListChannels() ([]string, error)
}

// SummaryQueue доставляет события ChannelSummary подписчикам.
type SummaryQueue interface {
	Publish(ctx context.Context, summary ChannelSummary) error
	Receive(ctx context.Context) (ChannelSummary, error)
}

// ErrCacheMiss возвращается кэшем при отсутствии ключа.
var ErrCacheMiss = errors.New("ключ не найден в кэше")

// Cache используется для простых TTL-хранилищ, например кэша имён.
type Cache interface {
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
