package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"mm-summarizer/internal/domain"
)

const metadataFile = "metadata.json"

type channelMetadata struct {
	LastProcessedTimestamp int64 `json:"last_processed_timestamp"`
}

// FSWatermarkStore хранит водяной знак канала в metadata.json рядом с
// транскриптом. Чтение-изменение-запись защищено мьютексом хранилища;
// процесс предполагается единственным писателем.
type FSWatermarkStore struct {
	root string
	log  zerolog.Logger
	mu   sync.Mutex
}

var _ domain.WatermarkStore = (*FSWatermarkStore)(nil)

// NewFSWatermarkStore создаёт хранилище водяных знаков.
func NewFSWatermarkStore(root string, logger zerolog.Logger) (*FSWatermarkStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("создание каталога хранилища: %w", err)
	}
	return &FSWatermarkStore{root: root, log: logger}, nil
}

func (s *FSWatermarkStore) metadataPath(channelKey string) string {
	return filepath.Join(s.root, channelKey, metadataFile)
}

func (s *FSWatermarkStore) read(channelKey string) (int64, bool) {
	data, err := os.ReadFile(s.metadataPath(channelKey))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false
	}
	if err != nil {
		s.log.Warn().Err(err).Str("channel", channelKey).Msg("watermark: не удалось прочитать metadata.json, считаем отметку отсутствующей")
		return 0, false
	}
	var meta channelMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		s.log.Warn().Err(err).Str("channel", channelKey).Msg("watermark: повреждённый metadata.json, считаем отметку отсутствующей")
		return 0, false
	}
	return meta.LastProcessedTimestamp, true
}

// Last возвращает сохранённый водяной знак и признак его наличия.
func (s *FSWatermarkStore) Last(channelKey string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.read(channelKey)
	return ts, ok, nil
}

// Advance продвигает водяной знак строго монотонно. Обновление с
// ts <= текущего значения отклоняется без ошибки.
func (s *FSWatermarkStore) Advance(channelKey string, ts int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.read(channelKey)
	if ok && ts <= current {
		return false, nil
	}

	dir := filepath.Dir(s.metadataPath(channelKey))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("создание каталога канала: %w", err)
	}
	data, err := json.MarshalIndent(channelMetadata{LastProcessedTimestamp: ts}, "", "  ")
	if err != nil {
		return false, fmt.Errorf("сериализация метаданных: %w", err)
	}
	if err := writeFileAtomic(s.metadataPath(channelKey), data); err != nil {
		return false, err
	}
	return true, nil
}
