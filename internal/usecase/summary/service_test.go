package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mm-summarizer/internal/domain"
)

type fakeResolver struct {
	conversations []domain.Conversation
	err           error
}

func (f *fakeResolver) ResolveUnread(context.Context) ([]domain.Conversation, error) {
	return f.conversations, f.err
}

type fakeSummarizer struct {
	batchResults map[string]string
	batchErr     error
	singleText   string
	singleErr    error
	batchCalls   [][]string
	singleCalls  []string
}

func (f *fakeSummarizer) Summarize(_ context.Context, group domain.ConversationGroup) (string, error) {
	f.singleCalls = append(f.singleCalls, group.ID)
	return f.singleText, f.singleErr
}

func (f *fakeSummarizer) SummarizeMany(_ context.Context, groups []domain.ConversationGroup) (map[string]string, error) {
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	f.batchCalls = append(f.batchCalls, ids)
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	return f.batchResults, nil
}

type fakeArchive struct {
	calls      []string
	summaries  map[string]string
	messageErr error
	summaryErr error
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{summaries: map[string]string{}}
}

func (f *fakeArchive) SaveMessages(channelKey string, _ []domain.Post) error {
	f.calls = append(f.calls, "messages:"+channelKey)
	return f.messageErr
}

func (f *fakeArchive) SaveSummary(channelKey, summary string) error {
	if f.summaryErr != nil {
		return f.summaryErr
	}
	f.calls = append(f.calls, "summary:"+channelKey)
	f.summaries[channelKey] = summary
	return nil
}

func (f *fakeArchive) LoadSummary(channelKey string) (string, error) {
	return f.summaries[channelKey], nil
}

func (f *fakeArchive) ListChannels() ([]string, error) {
	keys := make([]string, 0, len(f.summaries))
	for key := range f.summaries {
		keys = append(keys, key)
	}
	return keys, nil
}

type fakeWatermarks struct {
	calls  []string
	values map[string]int64
}

func newFakeWatermarks() *fakeWatermarks {
	return &fakeWatermarks{values: map[string]int64{}}
}

func (f *fakeWatermarks) Last(channelKey string) (int64, bool, error) {
	v, ok := f.values[channelKey]
	return v, ok, nil
}

func (f *fakeWatermarks) Advance(channelKey string, ts int64) (bool, error) {
	f.calls = append(f.calls, "advance:"+channelKey)
	if ts <= f.values[channelKey] {
		return false, nil
	}
	f.values[channelKey] = ts
	return true, nil
}

type fakeQueue struct {
	events []domain.ChannelSummary
	err    error
}

func (f *fakeQueue) Publish(_ context.Context, event domain.ChannelSummary) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeQueue) Receive(context.Context) (domain.ChannelSummary, error) {
	return domain.ChannelSummary{}, errors.New("не реализовано")
}

type fakeNames struct {
	names map[string]string
	calls [][]string
}

func (f *fakeNames) ResolveDisplayNames(_ context.Context, userIDs []string) (map[string]string, error) {
	f.calls = append(f.calls, userIDs)
	out := make(map[string]string)
	for _, id := range userIDs {
		if name, ok := f.names[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

type fakeCache struct {
	data map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string][]byte{}} }

func (f *fakeCache) Set(key string, value []byte, _ time.Duration) error {
	f.data[key] = value
	return nil
}

func (f *fakeCache) Get(key string) ([]byte, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return nil, domain.ErrCacheMiss
}

func conversation(key string, unread int, posts ...domain.Post) domain.Conversation {
	return domain.Conversation{
		Channel: domain.Channel{ID: key + "-id", TeamID: "team1", Name: key, DisplayName: strings.ToUpper(key)},
		Unread:  unread,
		Posts:   posts,
	}
}

func post(ts int64, user, text string) domain.Post {
	return domain.Post{ID: fmt.Sprintf("p%d", ts), UserID: user, Message: text, CreateAt: ts}
}

func newTestService(resolver UnreadResolver, summarizer domain.Summarizer, archive domain.TranscriptArchive, marks domain.WatermarkStore, queue domain.SummaryQueue, names NameResolver) *Service {
	return NewService(resolver, summarizer, archive, marks, queue, names, newFakeCache(), zerolog.Nop(), Options{})
}

func TestCycleHappyPath(t *testing.T) {
	resolver := &fakeResolver{conversations: []domain.Conversation{
		conversation("dev", 2, post(1000, "u1", "привет"), post(2000, "u1", "деплой готов")),
	}}
	summarizer := &fakeSummarizer{batchResults: nil, singleText: "Summary:\n- деплой готов"}
	archive := newFakeArchive()
	marks := newFakeWatermarks()
	queue := &fakeQueue{}
	names := &fakeNames{names: map[string]string{"u1": "Алиса"}}

	svc := newTestService(resolver, summarizer, archive, marks, queue, names)
	if err := svc.ProcessCycle(context.Background()); err != nil {
		t.Fatalf("неожиданная ошибка цикла: %v", err)
	}

	if len(queue.events) != 1 {
		t.Fatalf("ожидалось одно событие, получено %d", len(queue.events))
	}
	event := queue.events[0]
	if event.ChannelID != "dev-id" || event.UnreadCount != 2 || event.EventID == "" {
		t.Fatalf("событие собрано неверно: %+v", event)
	}
	if !strings.Contains(event.Summary, "деплой готов") {
		t.Fatalf("сводка потеряна: %q", event.Summary)
	}
	if got := marks.values["dev"]; got != 2000 {
		t.Fatalf("водяной знак = %d, ожидалось 2000", got)
	}
}

func TestFallbackGuaranteeWhenLLMAlwaysFails(t *testing.T) {
	resolver := &fakeResolver{conversations: []domain.Conversation{
		conversation("ops", 3,
			post(1_700_000_000_000, "u1", "первое"),
			post(1_700_000_060_000, "u2", "второе"),
			post(1_700_000_120_000, "u1", "третье"),
		),
	}}
	summarizer := &fakeSummarizer{batchErr: errors.New("llm недоступен"), singleErr: errors.New("llm недоступен")}
	archive := newFakeArchive()
	queue := &fakeQueue{}

	svc := newTestService(resolver, summarizer, archive, newFakeWatermarks(), queue, &fakeNames{})
	if err := svc.ProcessCycle(context.Background()); err != nil {
		t.Fatalf("отказ LLM не должен ронять цикл: %v", err)
	}

	if len(queue.events) != 1 {
		t.Fatalf("канал без сводки: событий %d", len(queue.events))
	}
	got := queue.events[0].Summary
	if !strings.HasPrefix(got, "3 message(s) captured for OPS (") {
		t.Fatalf("фолбэк без количества и группы: %q", got)
	}
	if !strings.HasSuffix(got, "Unable to generate an AI summary at this time.") {
		t.Fatalf("фолбэк без финальной фразы: %q", got)
	}
	if archive.summaries["ops"] != got {
		t.Fatalf("фолбэк обязан персиститься так же, как обычная сводка")
	}
}

func TestBatchGroupingSplitsByChannelCap(t *testing.T) {
	items := make([]prepared, 0, 7)
	for i := 0; i < 7; i++ {
		items = append(items, prepared{group: domain.ConversationGroup{
			ID:       fmt.Sprintf("ch%d", i),
			Messages: []string{strings.Repeat("x", 19999)},
		}})
	}

	batches := groupBatches(items, 3, 60000)
	want := []int{3, 3, 1}
	if len(batches) != len(want) {
		t.Fatalf("ожидалось %d батчей, получено %d", len(want), len(batches))
	}
	for i, size := range want {
		if len(batches[i]) != size {
			t.Fatalf("батч %d: размер %d, ожидалось %d", i, len(batches[i]), size)
		}
	}
}

func TestBatchGroupingSplitsByCharCap(t *testing.T) {
	big := prepared{group: domain.ConversationGroup{ID: "big", Messages: []string{strings.Repeat("x", 45000)}}}
	other := prepared{group: domain.ConversationGroup{ID: "other", Messages: []string{strings.Repeat("y", 30000)}}}

	batches := groupBatches([]prepared{big, other}, 3, 60000)
	if len(batches) != 2 || len(batches[0]) != 1 || len(batches[1]) != 1 {
		t.Fatalf("лимит по символам должен разрезать батч: %v", len(batches))
	}
}

func TestSummaryPersistedBeforeWatermark(t *testing.T) {
	resolver := &fakeResolver{conversations: []domain.Conversation{
		conversation("dev", 1, post(5000, "u1", "текст")),
	}}
	summarizer := &fakeSummarizer{singleText: "Summary:\n- текст"}
	archive := newFakeArchive()
	marks := newFakeWatermarks()

	svc := newTestService(resolver, summarizer, archive, marks, &fakeQueue{}, &fakeNames{})
	if err := svc.ProcessCycle(context.Background()); err != nil {
		t.Fatalf("неожиданная ошибка цикла: %v", err)
	}

	want := []string{"messages:dev", "summary:dev"}
	for i, call := range want {
		if archive.calls[i] != call {
			t.Fatalf("порядок персиста нарушен: %v", archive.calls)
		}
	}
	if len(marks.calls) != 1 || marks.calls[0] != "advance:dev" {
		t.Fatalf("водяной знак должен двигаться один раз после персиста: %v", marks.calls)
	}
}

func TestSummarySaveFailureBlocksWatermarkAndPublish(t *testing.T) {
	resolver := &fakeResolver{conversations: []domain.Conversation{
		conversation("dev", 1, post(5000, "u1", "текст")),
	}}
	archive := newFakeArchive()
	archive.summaryErr = errors.New("диск переполнен")
	marks := newFakeWatermarks()
	queue := &fakeQueue{}

	svc := newTestService(resolver, &fakeSummarizer{singleText: "ок"}, archive, marks, queue, &fakeNames{})
	if err := svc.ProcessCycle(context.Background()); err != nil {
		t.Fatalf("сбой персиста не должен ронять цикл: %v", err)
	}
	if len(marks.calls) != 0 {
		t.Fatalf("водяной знак не должен двигаться без сохранённой сводки")
	}
	if len(queue.events) != 0 {
		t.Fatalf("событие не должно уходить без сохранённой сводки")
	}
}

func TestBatchMissingGroupRetriedIndividually(t *testing.T) {
	resolver := &fakeResolver{conversations: []domain.Conversation{
		conversation("one", 1, post(1000, "u1", "a")),
		conversation("two", 1, post(2000, "u2", "b")),
	}}
	summarizer := &fakeSummarizer{
		batchResults: map[string]string{"one": "- сводка one"},
		singleText:   "- сводка two",
	}
	queue := &fakeQueue{}

	svc := newTestService(resolver, summarizer, newFakeArchive(), newFakeWatermarks(), queue, &fakeNames{})
	if err := svc.ProcessCycle(context.Background()); err != nil {
		t.Fatalf("неожиданная ошибка цикла: %v", err)
	}
	if len(summarizer.singleCalls) != 1 || summarizer.singleCalls[0] != "two" {
		t.Fatalf("пропущенная в батче группа должна добираться поштучно: %v", summarizer.singleCalls)
	}
	if len(queue.events) != 2 {
		t.Fatalf("оба канала должны получить события, получено %d", len(queue.events))
	}
}

func TestResolveAuthorsUsesCacheAcrossCycles(t *testing.T) {
	resolver := &fakeResolver{conversations: []domain.Conversation{
		conversation("dev", 1, post(1000, "u1", "текст")),
	}}
	names := &fakeNames{names: map[string]string{"u1": "Алиса"}}
	cache := newFakeCache()
	svc := NewService(resolver, &fakeSummarizer{singleText: "ок"}, newFakeArchive(), newFakeWatermarks(), &fakeQueue{}, names, cache, zerolog.Nop(), Options{})

	if err := svc.ProcessCycle(context.Background()); err != nil {
		t.Fatalf("первый цикл: %v", err)
	}
	resolver.conversations = []domain.Conversation{
		conversation("dev", 1, post(3000, "u1", "ещё текст")),
	}
	if err := svc.ProcessCycle(context.Background()); err != nil {
		t.Fatalf("второй цикл: %v", err)
	}
	if len(names.calls) != 1 {
		t.Fatalf("имя должно браться из кэша во втором цикле: %d обращений", len(names.calls))
	}
}

func TestPublishArchivedSkipsEmptySummaries(t *testing.T) {
	archive := newFakeArchive()
	archive.summaries["dev"] = "- старая сводка"
	archive.summaries["empty"] = "   "
	queue := &fakeQueue{}

	svc := newTestService(&fakeResolver{}, &fakeSummarizer{}, archive, newFakeWatermarks(), queue, &fakeNames{})
	if err := svc.PublishArchived(context.Background()); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(queue.events) != 1 || queue.events[0].ChannelName != "dev" {
		t.Fatalf("ожидалась публикация одной непустой сводки: %+v", queue.events)
	}
}

func TestCollateMessagesFormat(t *testing.T) {
	posts := []domain.Post{
		{UserID: "u1", UserName: "Алиса", Message: "  привет  ", CreateAt: time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC).UnixMilli()},
		{UserID: "u2", Message: "вопрос", CreateAt: time.Date(2026, 8, 1, 10, 31, 0, 0, time.UTC).UnixMilli()},
	}
	lines := collateMessages(posts)
	if lines[0] != "#1 [2026-08-01 10:30] Алиса: привет" {
		t.Fatalf("первая строка: %q", lines[0])
	}
	if lines[1] != "#2 [2026-08-01 10:31] u2: вопрос" {
		t.Fatalf("без имени должен подставляться идентификатор: %q", lines[1])
	}
}
