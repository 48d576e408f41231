package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mm-summarizer/internal/domain"
	"mm-summarizer/internal/infra/metrics"
	"mm-summarizer/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ErrEmptyCompletion возвращается, когда модель ответила пустым текстом.
var ErrEmptyCompletion = errors.New("модель вернула пустой ответ")

// Config задаёт параметры оркестратора суммаризации.
type Config struct {
	Model           string
	Temperature     float64
	ContextWindow   int
	MaxOutputTokens int
	MaxAttempts     int
	ThrottleBackoff time.Duration
	MinRequestDelay time.Duration
}

// OpenAI реализует domain.Summarizer через OpenAI Chat Completions с
// повторами, экспоненциальным откатом и общим ограничителем частоты.
type OpenAI struct {
	client  chatClient
	cfg     Config
	log     zerolog.Logger
	limiter *rateLimiter
	sleep   func(ctx context.Context, d time.Duration) error
}

var _ domain.Summarizer = (*OpenAI)(nil)

// NewOpenAI создаёт оркестратор суммаризации.
func NewOpenAI(client chatClient, cfg Config, logger zerolog.Logger) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = "gpt-4.1-mini"
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 8192
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 512
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.ThrottleBackoff <= 0 {
		cfg.ThrottleBackoff = 30 * time.Second
	}
	return &OpenAI{
		client:  client,
		cfg:     cfg,
		log:     logger,
		limiter: newRateLimiter(cfg.MinRequestDelay),
		sleep:   sleepCtx,
	}
}

// Summarize строит сводку одной группы. Переписка длиннее контекстного
// окна суммируется в два прохода: заметки по сегментам, затем итоговая
// сводка по заметкам.
func (s *OpenAI) Summarize(ctx context.Context, group domain.ConversationGroup) (string, error) {
	if len(group.Messages) == 0 {
		return "", fmt.Errorf("группа %s: нет сообщений", group.ID)
	}

	overhead := summaryPromptOverhead(group.Context)
	if segOverhead := segmentPromptOverhead(); segOverhead > overhead {
		overhead = segOverhead
	}
	budget := s.cfg.ContextWindow - s.cfg.MaxOutputTokens - overhead
	segments := buildSegments(group.Messages, budget)

	if len(segments) == 1 {
		system, user := renderSummaryPrompt(strings.Join(segments[0], "\n"), group.Context)
		return s.complete(ctx, system, user, false)
	}

	s.log.Debug().Str("group", group.ID).Int("segments", len(segments)).Msg("summarizer: переписка не помещается в окно, идём в два прохода")
	notes := make([]string, 0, len(segments))
	for i, segment := range segments {
		system, user := renderSegmentPrompt(strings.Join(segment, "\n"))
		note, err := s.complete(ctx, system, user, false)
		if err != nil {
			return "", fmt.Errorf("заметки сегмента %d: %w", i+1, err)
		}
		notes = append(notes, fmt.Sprintf("Segment %d Notes:\n%s", i+1, note))
	}
	system, user := renderSummaryPrompt(strings.Join(notes, "\n"), group.Context)
	return s.complete(ctx, system, user, false)
}

// SummarizeMany суммирует несколько групп одним запросом. Возвращаемая
// карта может не содержать часть групп — их добирает вызывающая сторона.
func (s *OpenAI) SummarizeMany(ctx context.Context, groups []domain.ConversationGroup) (map[string]string, error) {
	if len(groups) == 0 {
		return map[string]string{}, nil
	}
	if len(groups) == 1 {
		text, err := s.Summarize(ctx, groups[0])
		if err != nil {
			return nil, err
		}
		return map[string]string{groups[0].ID: text}, nil
	}

	system, user := renderBatchPrompt(groups)
	content, err := s.complete(ctx, system, user, true)
	if err != nil {
		return nil, err
	}
	parsed, err := parseBatchResponse(content)
	if err != nil {
		return nil, err
	}
	result := make(map[string]string, len(parsed))
	for groupID, bullets := range parsed {
		result[groupID] = formatBullets(bullets)
	}
	return result, nil
}

// complete выполняет один вызов модели с политикой повторов: транспортные
// сбои и 5xx — экспоненциальный откат с потолком 10с, 429 — Retry-After
// либо настроенный откат, прочие 4xx — немедленный отказ.
func (s *OpenAI) complete(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       s.cfg.Model,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxOutputTokens,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: system},
			{Role: openai.RoleUser, Content: user},
		},
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject}
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if err := s.limiter.wait(ctx); err != nil {
			return "", err
		}
		resp, err := s.client.CreateChatCompletion(ctx, req)
		s.limiter.done()
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", ErrEmptyCompletion
			}
			content := strings.TrimSpace(resp.Choices[0].Message.Content)
			if content == "" {
				return "", ErrEmptyCompletion
			}
			return content, nil
		}

		lastErr = err
		retryable, throttled, retryAfter := classifyError(err)
		if !retryable {
			return "", err
		}
		if attempt == s.cfg.MaxAttempts {
			break
		}
		var delay time.Duration
		if throttled {
			delay = throttleDelay(retryAfter, s.cfg.ThrottleBackoff)
			metrics.LLMRetriesTotal.WithLabelValues("throttled").Inc()
		} else {
			delay = backoffDelay(attempt)
			metrics.LLMRetriesTotal.WithLabelValues("transient").Inc()
		}
		s.log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("summarizer: повтор запроса к модели")
		if err := s.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("исчерпаны попытки обращения к модели: %w", lastErr)
}
