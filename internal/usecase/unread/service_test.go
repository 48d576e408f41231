package unread

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"mm-summarizer/internal/domain"
)

type fakeChatClient struct {
	teams       []domain.Team
	channels    map[string][]domain.Channel
	members     map[string][]domain.Membership
	posts       map[string][]domain.Post
	gotSince    map[string]int64
	gotLimit    map[string]int
	postsCalled int
}

func (f *fakeChatClient) ListTeams(ctx context.Context) ([]domain.Team, error) {
	return f.teams, nil
}

func (f *fakeChatClient) ListChannels(ctx context.Context, teamID string) ([]domain.Channel, error) {
	return f.channels[teamID], nil
}

func (f *fakeChatClient) ListChannelMembers(ctx context.Context, teamID string) ([]domain.Membership, error) {
	return f.members[teamID], nil
}

func (f *fakeChatClient) GetPosts(ctx context.Context, channelID string, since int64, limit int) ([]domain.Post, error) {
	if f.gotSince == nil {
		f.gotSince = map[string]int64{}
		f.gotLimit = map[string]int{}
	}
	f.gotSince[channelID] = since
	f.gotLimit[channelID] = limit
	f.postsCalled++
	return f.posts[channelID], nil
}

func (f *fakeChatClient) ResolveDisplayNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	return map[string]string{}, nil
}

type fakeWatermarks struct {
	values map[string]int64
}

func (f *fakeWatermarks) Last(channelKey string) (int64, bool, error) {
	ts, ok := f.values[channelKey]
	return ts, ok, nil
}

func (f *fakeWatermarks) Advance(channelKey string, ts int64) (bool, error) {
	if f.values == nil {
		f.values = map[string]int64{}
	}
	if current, ok := f.values[channelKey]; ok && ts <= current {
		return false, nil
	}
	f.values[channelKey] = ts
	return true, nil
}

func singleChannelClient(channel domain.Channel, member domain.Membership, posts []domain.Post) *fakeChatClient {
	return &fakeChatClient{
		teams:    []domain.Team{{ID: "t1", Name: "main"}},
		channels: map[string][]domain.Channel{"t1": {channel}},
		members:  map[string][]domain.Membership{"t1": {member}},
		posts:    map[string][]domain.Post{channel.ID: posts},
	}
}

func TestThresholdFilterStrictlyGreater(t *testing.T) {
	channel := domain.Channel{ID: "ch1", TeamID: "t1", Name: "dev", Type: domain.ChannelTypeOpen, LastPostAt: 1500}
	member := domain.Membership{ChannelID: "ch1", LastViewedAt: 1000}
	posts := []domain.Post{
		{ID: "d", UserID: "u", Message: "d", CreateAt: 1500},
		{ID: "c", UserID: "u", Message: "c", CreateAt: 1001},
		{ID: "b", UserID: "u", Message: "b", CreateAt: 1000},
		{ID: "a", UserID: "u", Message: "a", CreateAt: 900},
	}
	client := singleChannelClient(channel, member, posts)
	svc := NewService(client, &fakeWatermarks{}, zerolog.Nop(), 0)

	convs, err := svc.ResolveUnread(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("ожидали один канал, получили %d", len(convs))
	}
	got := convs[0].Posts
	if len(got) != 2 || got[0].CreateAt != 1001 || got[1].CreateAt != 1500 {
		t.Fatalf("ожидали только 1001 и 1500, получили %v", got)
	}
}

func TestPostsSortedChronologically(t *testing.T) {
	channel := domain.Channel{ID: "ch1", TeamID: "t1", Name: "dev", Type: domain.ChannelTypeOpen, LastPostAt: 300}
	member := domain.Membership{ChannelID: "ch1", LastViewedAt: 1}
	posts := []domain.Post{
		{ID: "3", UserID: "u", Message: "три", CreateAt: 300},
		{ID: "1", UserID: "u", Message: "один", CreateAt: 100},
		{ID: "2", UserID: "u", Message: "два", CreateAt: 200},
	}
	client := singleChannelClient(channel, member, posts)
	svc := NewService(client, &fakeWatermarks{}, zerolog.Nop(), 0)

	convs, err := svc.ResolveUnread(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	got := convs[0].Posts
	if got[0].CreateAt != 100 || got[1].CreateAt != 200 || got[2].CreateAt != 300 {
		t.Fatalf("ожидали хронологический порядок, получили %v", got)
	}
}

func TestMutedChannelExcludedDespiteMentions(t *testing.T) {
	channel := domain.Channel{ID: "ch1", TeamID: "t1", Name: "dev", Type: domain.ChannelTypeOpen, LastPostAt: 2000}
	member := domain.Membership{
		ChannelID:    "ch1",
		LastViewedAt: 1000,
		MentionCount: 5,
		NotifyProps:  map[string]any{"muted": "true"},
	}
	client := singleChannelClient(channel, member, []domain.Post{{ID: "p", UserID: "u", Message: "x", CreateAt: 1500}})
	svc := NewService(client, &fakeWatermarks{}, zerolog.Nop(), 0)

	convs, err := svc.ResolveUnread(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(convs) != 0 {
		t.Fatalf("замьюченный канал не должен попадать в результат")
	}
}

func TestGroupChannelRequiresHighlight(t *testing.T) {
	quiet := domain.Channel{ID: "g1", TeamID: "t1", Name: "group-quiet", Type: domain.ChannelTypeGroup, LastPostAt: 2000}
	flagged := domain.Channel{ID: "g2", TeamID: "t1", Name: "group-flagged", Type: domain.ChannelTypeGroup, LastPostAt: 2000}
	client := &fakeChatClient{
		teams:    []domain.Team{{ID: "t1"}},
		channels: map[string][]domain.Channel{"t1": {quiet, flagged}},
		members: map[string][]domain.Membership{"t1": {
			{ChannelID: "g1", LastViewedAt: 1000},
			{ChannelID: "g2", LastViewedAt: 1000, Highlighted: true},
		}},
		posts: map[string][]domain.Post{
			"g1": {{ID: "a", UserID: "u", Message: "x", CreateAt: 1500}},
			"g2": {{ID: "b", UserID: "u", Message: "y", CreateAt: 1500}},
		},
	}
	svc := NewService(client, &fakeWatermarks{}, zerolog.Nop(), 0)

	convs, err := svc.ResolveUnread(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(convs) != 1 || convs[0].Channel.ID != "g2" {
		t.Fatalf("ожидали только отмеченный групповой канал, получили %v", convs)
	}
}

func TestArchivedAndWhitespaceOnlyExcluded(t *testing.T) {
	archived := domain.Channel{ID: "a1", TeamID: "t1", Name: "old", Type: domain.ChannelTypeOpen, DeleteAt: 5, LastPostAt: 2000}
	noisy := domain.Channel{ID: "n1", TeamID: "t1", Name: "noisy", Type: domain.ChannelTypeOpen, LastPostAt: 2000}
	client := &fakeChatClient{
		teams:    []domain.Team{{ID: "t1"}},
		channels: map[string][]domain.Channel{"t1": {archived, noisy}},
		members: map[string][]domain.Membership{"t1": {
			{ChannelID: "a1", LastViewedAt: 1000},
			{ChannelID: "n1", LastViewedAt: 1000},
		}},
		posts: map[string][]domain.Post{
			"a1": {{ID: "x", UserID: "u", Message: "t", CreateAt: 1500}},
			"n1": {{ID: "y", UserID: "u", Message: "   \n\t ", CreateAt: 1500}},
		},
	}
	svc := NewService(client, &fakeWatermarks{}, zerolog.Nop(), 0)

	convs, err := svc.ResolveUnread(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(convs) != 0 {
		t.Fatalf("архивированный канал и пробельные сообщения должны отсекаться, получили %v", convs)
	}
}

func TestResolveIsIdempotentAfterWatermark(t *testing.T) {
	channel := domain.Channel{ID: "ch1", TeamID: "t1", Name: "dev", Type: domain.ChannelTypeOpen, LastPostAt: 1500}
	member := domain.Membership{ChannelID: "ch1", LastViewedAt: 1000, MentionCount: 1}
	posts := []domain.Post{{ID: "p", UserID: "u", Message: "x", CreateAt: 1500}}
	client := singleChannelClient(channel, member, posts)
	marks := &fakeWatermarks{}
	svc := NewService(client, marks, zerolog.Nop(), 0)

	convs, err := svc.ResolveUnread(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("первый проход должен вернуть канал")
	}

	if _, err := marks.Advance(channel.Key(), 1500); err != nil {
		t.Fatalf("не удалось продвинуть водяной знак: %v", err)
	}

	convs, err = svc.ResolveUnread(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(convs) != 0 {
		t.Fatalf("повтор с неизменённым набором постов должен быть пустым")
	}
}

func TestNeverViewedChannelCapsInitialFetch(t *testing.T) {
	channel := domain.Channel{ID: "ch1", TeamID: "t1", Name: "dev", Type: domain.ChannelTypeOpen, LastPostAt: 2000, TotalMsgCount: 500}
	member := domain.Membership{ChannelID: "ch1", LastViewedAt: 0}
	client := singleChannelClient(channel, member, []domain.Post{{ID: "p", UserID: "u", Message: "x", CreateAt: 10}})
	svc := NewService(client, &fakeWatermarks{}, zerolog.Nop(), 50)

	if _, err := svc.ResolveUnread(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if client.gotSince["ch1"] != 0 {
		t.Fatalf("для непросмотренного канала since должен быть 0, получили %d", client.gotSince["ch1"])
	}
	if client.gotLimit["ch1"] != 50 {
		t.Fatalf("ожидали ограничение выборки 50, получили %d", client.gotLimit["ch1"])
	}
}

func TestChannelsOrderedByFreshestPost(t *testing.T) {
	older := domain.Channel{ID: "c1", TeamID: "t1", Name: "older", Type: domain.ChannelTypeOpen, LastPostAt: 1200}
	newer := domain.Channel{ID: "c2", TeamID: "t1", Name: "newer", Type: domain.ChannelTypeOpen, LastPostAt: 2000}
	client := &fakeChatClient{
		teams:    []domain.Team{{ID: "t1"}},
		channels: map[string][]domain.Channel{"t1": {older, newer}},
		members: map[string][]domain.Membership{"t1": {
			{ChannelID: "c1", LastViewedAt: 1000},
			{ChannelID: "c2", LastViewedAt: 1000},
		}},
		posts: map[string][]domain.Post{
			"c1": {{ID: "a", UserID: "u", Message: "x", CreateAt: 1200}},
			"c2": {{ID: "b", UserID: "u", Message: "y", CreateAt: 2000}},
		},
	}
	svc := NewService(client, &fakeWatermarks{}, zerolog.Nop(), 0)

	convs, err := svc.ResolveUnread(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(convs) != 2 || convs[0].Channel.ID != "c2" {
		t.Fatalf("свежие каналы должны идти первыми, получили %v", convs)
	}
}
