package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mm-summarizer/internal/adapters/archive"
	"mm-summarizer/internal/adapters/mattermost"
	"mm-summarizer/internal/adapters/repo"
	"mm-summarizer/internal/adapters/summarizer"
	"mm-summarizer/internal/domain"
	"mm-summarizer/internal/infra/cache"
	"mm-summarizer/internal/infra/config"
	"mm-summarizer/internal/infra/db"
	httpinfra "mm-summarizer/internal/infra/http"
	logpkg "mm-summarizer/internal/infra/log"
	"mm-summarizer/internal/infra/metrics"
	"mm-summarizer/internal/infra/openai"
	"mm-summarizer/internal/infra/queue"
	"mm-summarizer/internal/usecase/summary"
	"mm-summarizer/internal/usecase/unread"
)

func main() {
	cfg := config.Load()
	logger := logpkg.NewLogger(cfg.AppEnv)

	if cfg.Mattermost.BaseURL == "" || cfg.Mattermost.Token == "" {
		logger.Fatal().Msg("summarizer: MM_BASE_URL и MM_TOKEN обязательны")
	}
	if cfg.OpenAI.APIKey == "" {
		logger.Fatal().Msg("summarizer: OPENAI_API_KEY обязателен")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fsArchive, err := archive.NewFSArchive(cfg.StorageDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("summarizer: не удалось открыть архив переписок")
	}

	var watermarks domain.WatermarkStore
	if cfg.PGDSN != "" {
		pool, err := db.Connect(cfg.PGDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("summarizer: нет подключения к БД")
		}
		defer pool.Close()
		pg := repo.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("summarizer: не удалось создать схему водяных знаков")
		}
		watermarks = pg
	} else {
		fsMarks, err := archive.NewFSWatermarkStore(cfg.StorageDir, logger.With().Str("component", "watermarks").Logger())
		if err != nil {
			logger.Fatal().Err(err).Msg("summarizer: не удалось открыть хранилище водяных знаков")
		}
		watermarks = fsMarks
	}

	var redisClient *redis.Client
	var nameCache domain.Cache = cache.NewMemory()
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		nameCache = cache.NewRedis(redisClient)
	}

	var events domain.SummaryQueue
	switch {
	case cfg.AMQPURL != "":
		amqpQueue, err := queue.NewAMQPSummaryQueue(cfg.AMQPURL, cfg.Queues.Summaries)
		if err != nil {
			logger.Fatal().Err(err).Msg("summarizer: нет подключения к AMQP")
		}
		defer amqpQueue.Close()
		events = amqpQueue
	case redisClient != nil:
		events = queue.NewRedisSummaryQueue(redisClient, cfg.Queues.Summaries)
	default:
		memQueue := queue.NewMemorySummaryQueue(0)
		events = memQueue
		go drainEvents(ctx, memQueue, logger)
	}

	mmClient := mattermost.NewClient(cfg.Mattermost.BaseURL, cfg.Mattermost.Token, cfg.Mattermost.Timeout)
	llmClient := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	llmSummarizer := summarizer.NewOpenAI(llmClient, summarizer.Config{
		Model:           cfg.OpenAI.Model,
		Temperature:     cfg.OpenAI.Temperature,
		ContextWindow:   cfg.LLM.ContextWindow,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		MaxAttempts:     cfg.OpenAI.MaxAttempts,
		ThrottleBackoff: cfg.OpenAI.ThrottleBackoff,
		MinRequestDelay: cfg.OpenAI.RateLimitDelay,
	}, logger.With().Str("component", "summarizer").Logger())

	resolver := unread.NewService(mmClient, watermarks, logger.With().Str("component", "unread").Logger(), cfg.Mattermost.InitialFetchLimit)
	pipeline := summary.NewService(resolver, llmSummarizer, fsArchive, watermarks, events, mmClient, nameCache,
		logger.With().Str("component", "summary").Logger(), summary.Options{
			MaxChannelsPerBatch: cfg.Batch.MaxChannels,
			MaxCharsPerBatch:    cfg.Batch.MaxChars,
			NameCacheTTL:        cfg.NameCacheTTL,
		})

	if err := pipeline.PublishArchived(ctx); err != nil {
		logger.Warn().Err(err).Msg("summarizer: не удалось опубликовать архивные сводки")
	}

	srv := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	registerSummaryRoutes(srv.Router, fsArchive)
	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("summarizer: http сервер остановлен")
		}
	}()
	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	go pipeline.Run(ctx, cfg.Mattermost.PollInterval)

	logger.Info().Str("storage", cfg.StorageDir).Dur("interval", cfg.Mattermost.PollInterval).Msg("summarizer: старт")
	<-ctx.Done()
	logger.Info().Msg("summarizer: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// drainEvents — потребитель внутрипроцессной очереди на случай запуска без
// внешнего брокера: события уходят в лог вместо UI.
func drainEvents(ctx context.Context, events domain.SummaryQueue, logger zerolog.Logger) {
	for {
		event, err := events.Receive(ctx)
		if err != nil {
			return
		}
		logger.Info().Str("channel", event.ChannelName).Int("unread", event.UnreadCount).Msg("summarizer: событие сводки")
	}
}

func registerSummaryRoutes(r chi.Router, store domain.TranscriptArchive) {
	r.Get("/summaries", func(w http.ResponseWriter, req *http.Request) {
		channels, err := store.ListChannels()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list channels")
			return
		}
		items := make([]map[string]string, 0, len(channels))
		for _, channel := range channels {
			text, err := store.LoadSummary(channel)
			if err != nil || text == "" {
				continue
			}
			items = append(items, map[string]string{"channel": channel, "summary": text})
		}
		writeJSON(w, map[string]any{"summaries": items})
	})

	r.Get("/summaries/{channel}", func(w http.ResponseWriter, req *http.Request) {
		channel := chi.URLParam(req, "channel")
		text, err := store.LoadSummary(channel)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load summary")
			return
		}
		if text == "" {
			writeError(w, http.StatusNotFound, "summary not found")
			return
		}
		writeJSON(w, map[string]string{"channel": channel, "summary": text})
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
