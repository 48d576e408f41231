package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mm-summarizer/internal/domain"
	"mm-summarizer/internal/infra/metrics"
)

// UnreadResolver отдаёт переписки каналов с новыми сообщениями.
type UnreadResolver interface {
	ResolveUnread(ctx context.Context) ([]domain.Conversation, error)
}

// NameResolver переводит идентификаторы пользователей в отображаемые имена.
type NameResolver interface {
	ResolveDisplayNames(ctx context.Context, userIDs []string) (map[string]string, error)
}

// Service — фоновый конвейер: опрос, суммаризация, персист и доставка
// событий подписчикам.
type Service struct {
	resolver   UnreadResolver
	summarizer domain.Summarizer
	archive    domain.TranscriptArchive
	watermarks domain.WatermarkStore
	queue      domain.SummaryQueue
	names      NameResolver
	nameCache  domain.Cache
	nameTTL    time.Duration
	log        zerolog.Logger

	maxPerBatch int
	maxChars    int
}

// Options задаёт пределы батчирования и кэша имён.
type Options struct {
	MaxChannelsPerBatch int
	MaxCharsPerBatch    int
	NameCacheTTL        time.Duration
}

// NewService создаёт конвейер суммаризации.
func NewService(resolver UnreadResolver, summarizer domain.Summarizer, archive domain.TranscriptArchive, watermarks domain.WatermarkStore, queue domain.SummaryQueue, names NameResolver, nameCache domain.Cache, logger zerolog.Logger, opts Options) *Service {
	if opts.MaxChannelsPerBatch <= 0 {
		opts.MaxChannelsPerBatch = 3
	}
	if opts.MaxCharsPerBatch <= 0 {
		opts.MaxCharsPerBatch = 60000
	}
	if opts.NameCacheTTL <= 0 {
		opts.NameCacheTTL = 12 * time.Hour
	}
	return &Service{
		resolver:    resolver,
		summarizer:  summarizer,
		archive:     archive,
		watermarks:  watermarks,
		queue:       queue,
		names:       names,
		nameCache:   nameCache,
		nameTTL:     opts.NameCacheTTL,
		log:         logger,
		maxPerBatch: opts.MaxChannelsPerBatch,
		maxChars:    opts.MaxCharsPerBatch,
	}
}

// Run крутит цикл «обработать — поспать» до отмены контекста. Ошибка
// или паника цикла логируется на его границе и не роняет воркер.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.log.Info().Dur("interval", interval).Msg("summary: запуск цикла опроса")
	for {
		if err := s.safeCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			metrics.PollCycleErrors.Inc()
			s.log.Error().Err(err).Msg("summary: цикл завершился с ошибкой")
		}
		select {
		case <-ctx.Done():
			s.log.Info().Msg("summary: остановка цикла опроса")
			return
		case <-time.After(interval):
		}
	}
}

func (s *Service) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("паника в цикле: %v", r)
		}
	}()
	return s.ProcessCycle(ctx)
}

// ProcessCycle выполняет один проход конвейера: каналы с новыми
// сообщениями суммируются, результат персистится, водяной знак
// продвигается, событие уходит подписчикам. Порядок персиста жёсткий:
// сырые сообщения, затем сводка, затем водяной знак — падение между
// шагами приводит к повторной обработке того же окна, не к потере.
func (s *Service) ProcessCycle(ctx context.Context) error {
	conversations, err := s.resolver.ResolveUnread(ctx)
	if err != nil {
		return fmt.Errorf("получение непрочитанных: %w", err)
	}
	metrics.PollCyclesTotal.Inc()
	metrics.UnreadChannels.Set(float64(len(conversations)))
	if len(conversations) == 0 {
		return nil
	}

	s.resolveAuthors(ctx, conversations)

	items := make([]prepared, 0, len(conversations))
	for _, conv := range conversations {
		item := prepared{
			conversation: conv,
			group: domain.ConversationGroup{
				ID:       conv.Channel.Key(),
				Context:  buildContext(conv.Channel, conv.Posts),
				Messages: collateMessages(conv.Posts),
			},
		}
		if err := s.archive.SaveMessages(item.group.ID, conv.Posts); err != nil {
			s.log.Error().Err(err).Str("channel", item.group.ID).Msg("summary: не удалось сохранить сообщения, канал пропущен")
			continue
		}
		items = append(items, item)
	}

	for _, batch := range groupBatches(items, s.maxPerBatch, s.maxChars) {
		s.processBatch(ctx, batch)
	}
	return ctx.Err()
}

// processBatch суммирует батч одним запросом, добирает пропущенные
// группы поштучно и для каждого канала доводит результат до подписчиков.
func (s *Service) processBatch(ctx context.Context, batch []prepared) {
	groups := make([]domain.ConversationGroup, 0, len(batch))
	for _, item := range batch {
		groups = append(groups, item.group)
	}
	results, err := s.summarizer.SummarizeMany(ctx, groups)
	if err != nil {
		s.log.Warn().Err(err).Int("channels", len(batch)).Msg("summary: батчевый запрос не удался, идём поштучно")
		results = nil
	}

	for _, item := range batch {
		start := time.Now()
		text := strings.TrimSpace(results[item.group.ID])
		if text == "" {
			text = s.summarizeSingle(ctx, item)
		}
		s.finishChannel(ctx, item, text)
		metrics.SummaryBuildSeconds.Observe(time.Since(start).Seconds())
	}
}

// summarizeSingle пробует одиночную суммаризацию, при любом отказе
// возвращает детерминированный фолбэк: канал никогда не остаётся без
// сводки.
func (s *Service) summarizeSingle(ctx context.Context, item prepared) string {
	text, err := s.summarizer.Summarize(ctx, item.group)
	text = strings.TrimSpace(text)
	if err == nil && text != "" {
		return text
	}
	if err != nil {
		s.log.Warn().Err(err).Str("channel", item.group.ID).Msg("summary: суммаризация не удалась, используем фолбэк")
	}
	metrics.FallbackSummariesTotal.Inc()
	return fallbackSummary(len(item.group.Messages), item.group.Context)
}

func (s *Service) finishChannel(ctx context.Context, item prepared, text string) {
	channelKey := item.group.ID
	if err := s.archive.SaveSummary(channelKey, text); err != nil {
		s.log.Error().Err(err).Str("channel", channelKey).Msg("summary: не удалось сохранить сводку, водяной знак не двигаем")
		return
	}
	advanced, err := s.watermarks.Advance(channelKey, item.conversation.LastPostAt())
	if err != nil {
		s.log.Error().Err(err).Str("channel", channelKey).Msg("summary: не удалось обновить водяной знак")
		return
	}
	if !advanced {
		metrics.WatermarkRejectionsTotal.Inc()
		s.log.Debug().Str("channel", channelKey).Msg("summary: немонотонное обновление водяного знака отклонено")
	}

	event := domain.ChannelSummary{
		EventID:     uuid.NewString(),
		TeamID:      item.conversation.Channel.TeamID,
		ChannelID:   item.conversation.Channel.ID,
		ChannelName: item.conversation.Channel.Name,
		DisplayName: item.conversation.Channel.Title(),
		UnreadCount: item.conversation.Unread,
		Summary:     text,
	}
	if err := s.queue.Publish(ctx, event); err != nil {
		s.log.Error().Err(err).Str("channel", channelKey).Msg("summary: не удалось опубликовать событие")
		return
	}
	s.log.Info().Str("channel", channelKey).Int("unread", item.conversation.Unread).Msg("summary: сводка обновлена")
}

// PublishArchived один раз публикует ранее сохранённые сводки, чтобы
// подписчики получили картину сразу после старта, до первого цикла.
func (s *Service) PublishArchived(ctx context.Context) error {
	channels, err := s.archive.ListChannels()
	if err != nil {
		return fmt.Errorf("список каналов архива: %w", err)
	}
	for _, channel := range channels {
		text, err := s.archive.LoadSummary(channel)
		if err != nil {
			s.log.Warn().Err(err).Str("channel", channel).Msg("summary: не удалось прочитать архивную сводку")
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		event := domain.ChannelSummary{
			EventID:     uuid.NewString(),
			ChannelID:   channel,
			ChannelName: channel,
			DisplayName: channel,
			Summary:     text,
		}
		if err := s.queue.Publish(ctx, event); err != nil {
			return fmt.Errorf("публикация архивной сводки %s: %w", channel, err)
		}
	}
	return nil
}

// resolveAuthors проставляет постам отображаемые имена авторов через
// TTL-кэш. Сбой резолва не прерывает цикл: в переписке остаются
// идентификаторы.
func (s *Service) resolveAuthors(ctx context.Context, conversations []domain.Conversation) {
	known := make(map[string]string)
	var missing []string
	seen := make(map[string]struct{})
	for _, conv := range conversations {
		for _, post := range conv.Posts {
			if post.UserID == "" || post.UserName != "" {
				continue
			}
			if _, ok := seen[post.UserID]; ok {
				continue
			}
			seen[post.UserID] = struct{}{}
			if cached, err := s.nameCache.Get(nameCacheKey(post.UserID)); err == nil {
				known[post.UserID] = string(cached)
				continue
			} else if !errors.Is(err, domain.ErrCacheMiss) {
				s.log.Warn().Err(err).Msg("summary: кэш имён недоступен")
			}
			missing = append(missing, post.UserID)
		}
	}

	if len(missing) > 0 {
		resolved, err := s.names.ResolveDisplayNames(ctx, missing)
		if err != nil {
			s.log.Warn().Err(err).Msg("summary: не удалось получить имена пользователей")
		}
		for userID, name := range resolved {
			known[userID] = name
			if err := s.nameCache.Set(nameCacheKey(userID), []byte(name), s.nameTTL); err != nil {
				s.log.Warn().Err(err).Msg("summary: не удалось записать имя в кэш")
			}
		}
	}

	for ci := range conversations {
		posts := conversations[ci].Posts
		for pi := range posts {
			if posts[pi].UserName == "" {
				if name, ok := known[posts[pi].UserID]; ok && name != "" {
					posts[pi].UserName = name
				}
			}
		}
	}
}

func nameCacheKey(userID string) string {
	return "names:" + userID
}
