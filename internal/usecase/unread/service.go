package unread

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"mm-summarizer/internal/domain"
)

const defaultInitialFetchLimit = 50

// Service вычисляет каналы с действительно новым содержимым и точный
// срез новых сообщений относительно водяного знака.
type Service struct {
	client            domain.ChatClient
	watermarks        domain.WatermarkStore
	log               zerolog.Logger
	initialFetchLimit int
}

// NewService создаёт решатель непрочитанного.
func NewService(client domain.ChatClient, watermarks domain.WatermarkStore, logger zerolog.Logger, initialFetchLimit int) *Service {
	if initialFetchLimit <= 0 {
		initialFetchLimit = defaultInitialFetchLimit
	}
	return &Service{client: client, watermarks: watermarks, log: logger, initialFetchLimit: initialFetchLimit}
}

// ResolveUnread возвращает каналы с новыми сообщениями, отсортированные
// по времени самого свежего сообщения (свежие первыми). Каналы без
// новых сообщений после фильтрации в результат не попадают.
func (s *Service) ResolveUnread(ctx context.Context) ([]domain.Conversation, error) {
	teams, err := s.client.ListTeams(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение команд: %w", err)
	}

	var conversations []domain.Conversation
	for _, team := range teams {
		channels, err := s.client.ListChannels(ctx, team.ID)
		if err != nil {
			s.log.Error().Err(err).Str("team", team.ID).Msg("resolver: не удалось получить каналы команды")
			continue
		}
		members, err := s.client.ListChannelMembers(ctx, team.ID)
		if err != nil {
			s.log.Error().Err(err).Str("team", team.ID).Msg("resolver: не удалось получить членства")
			continue
		}
		byChannel := make(map[string]domain.Membership, len(members))
		for _, member := range members {
			byChannel[member.ChannelID] = member
		}

		for _, pick := range eligibleChannels(channels, byChannel) {
			conv, ok := s.collectChannel(ctx, pick)
			if ok {
				conversations = append(conversations, conv)
			}
		}
	}

	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].LastPostAt() > conversations[j].LastPostAt()
	})
	return conversations, nil
}

type eligible struct {
	channel domain.Channel
	member  domain.Membership
	unread  int
}

func (s *Service) collectChannel(ctx context.Context, pick eligible) (domain.Conversation, bool) {
	key := pick.channel.Key()
	watermark, _, err := s.watermarks.Last(key)
	if err != nil {
		s.log.Error().Err(err).Str("channel", key).Msg("resolver: не удалось прочитать водяной знак")
		watermark = 0
	}
	// водяной знак приоритетнее last_viewed_at: он отражает фактически
	// суммированное, а не просто просмотренное
	threshold := pick.member.LastViewedAt
	if watermark > threshold {
		threshold = watermark
	}

	limit := 0
	if threshold == 0 {
		// канал никогда не просматривался: ограничиваем выборку, чтобы не
		// вгружать месяцы истории в одну сводку
		limit = s.initialFetchLimit
	}
	posts, err := s.client.GetPosts(ctx, pick.channel.ID, threshold, limit)
	if err != nil {
		s.log.Error().Err(err).Str("channel", key).Msg("resolver: не удалось получить сообщения")
		return domain.Conversation{}, false
	}

	fresh := filterNewPosts(posts, threshold)
	if len(fresh) == 0 {
		return domain.Conversation{}, false
	}
	return domain.Conversation{Channel: pick.channel, Unread: pick.unread, Posts: fresh}, true
}

// eligibleChannels соединяет каналы с членствами и отбирает каналы с
// подтверждённой новой активностью.
func eligibleChannels(channels []domain.Channel, members map[string]domain.Membership) []eligible {
	var picked []eligible
	for _, channel := range channels {
		member, ok := members[channel.ID]
		if !ok {
			continue
		}
		if channel.DeleteAt != 0 {
			continue
		}
		if isChannelMuted(member) {
			continue
		}
		unread := unreadCount(channel, member)
		// счётчики непрочитанного иногда отстают от last_post_at, поэтому
		// условий два
		if channel.LastPostAt <= member.LastViewedAt && unread <= 0 {
			continue
		}
		// групповые каналы шумные: показываем только при явной отметке
		if channel.Type == domain.ChannelTypeGroup && !isChannelHighlighted(member) {
			continue
		}
		picked = append(picked, eligible{channel: channel, member: member, unread: unread})
	}
	return picked
}

func unreadCount(channel domain.Channel, member domain.Membership) int {
	if member.MentionCount > 0 {
		return int(member.MentionCount)
	}
	if diff := channel.TotalMsgCount - member.MsgCount; diff > 0 {
		return int(diff)
	}
	return 0
}

// isChannelMuted пермиссивно проверяет несколько полей notify_props:
// разные версии API кодируют флаги то строками, то булевыми значениями.
func isChannelMuted(member domain.Membership) bool {
	if member.NotifyProps == nil {
		return false
	}
	if isTruthy(member.NotifyProps["muted"]) {
		return true
	}
	if mark, ok := member.NotifyProps["mark_unread"].(string); ok && strings.EqualFold(strings.TrimSpace(mark), "mention") {
		return true
	}
	return false
}

// isChannelHighlighted проверяет явный флаг отметки и счётчики упоминаний.
func isChannelHighlighted(member domain.Membership) bool {
	if isTruthy(member.Highlighted) {
		return true
	}
	if member.NotifyProps != nil && isTruthy(member.NotifyProps["highlighted"]) {
		return true
	}
	return member.MentionCount > 0 || member.UrgentMentionCount > 0
}

func isTruthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	default:
		return false
	}
}

// filterNewPosts оставляет сообщения строго новее порога, отбрасывает
// пустые тексты и сортирует результат хронологически.
func filterNewPosts(posts []domain.Post, threshold int64) []domain.Post {
	fresh := make([]domain.Post, 0, len(posts))
	for _, post := range posts {
		if post.CreateAt <= threshold {
			continue
		}
		if strings.TrimSpace(post.Message) == "" {
			continue
		}
		fresh = append(fresh, post)
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].CreateAt < fresh[j].CreateAt })
	if len(fresh) == 0 {
		return nil
	}
	return fresh
}
