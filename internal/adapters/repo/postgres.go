package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mm-summarizer/internal/domain"
	"mm-summarizer/internal/infra/metrics"
)

// Postgres реализует хранилище водяных знаков на основе pgxpool.
// Используется вместо файлового хранилища, когда задан PG_DSN: серверные
// деплои переживают пересоздание локального каталога данных.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.WatermarkStore = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// EnsureSchema создаёт таблицу водяных знаков, если её ещё нет.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS watermarks (
    channel_key        TEXT PRIMARY KEY,
    last_processed_at  BIGINT NOT NULL,
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
)
`)
	metrics.ObserveNetworkRequest("postgres", "ensure_schema", "watermarks", start, err)
	return err
}

// Last возвращает сохранённый водяной знак и признак его наличия.
func (p *Postgres) Last(channelKey string) (int64, bool, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	var ts int64
	err := p.pool.QueryRow(ctx, `
SELECT last_processed_at FROM watermarks WHERE channel_key = $1
`, channelKey).Scan(&ts)
	metrics.ObserveNetworkRequest("postgres", "watermark_select", "watermarks", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return ts, true, nil
}

// Advance продвигает водяной знак строго монотонно. Проверка «только
// вперёд» выполняется в самом запросе, поэтому конкурирующие или
// опоздавшие писатели безопасны без внешней блокировки.
func (p *Postgres) Advance(channelKey string, ts int64) (bool, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
INSERT INTO watermarks (channel_key, last_processed_at)
VALUES ($1, $2)
ON CONFLICT (channel_key) DO UPDATE
SET last_processed_at = EXCLUDED.last_processed_at, updated_at = now()
WHERE watermarks.last_processed_at < EXCLUDED.last_processed_at
`, channelKey, ts)
	metrics.ObserveNetworkRequest("postgres", "watermark_upsert", "watermarks", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
