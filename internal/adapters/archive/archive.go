package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"mm-summarizer/internal/domain"
)

const (
	messagesFile = "messages.json"
	summaryFile  = "summary.txt"
)

// FSArchive хранит сырые сообщения и сводки в каталоге на канал.
// Запись идёт поверх предыдущей версии, поэтому повтор той же партии
// после сбоя идемпотентен.
type FSArchive struct {
	root string
}

var _ domain.TranscriptArchive = (*FSArchive)(nil)

// NewFSArchive создаёт архив в указанном корневом каталоге.
func NewFSArchive(root string) (*FSArchive, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("создание каталога архива: %w", err)
	}
	return &FSArchive{root: root}, nil
}

func (a *FSArchive) channelDir(channelKey string) (string, error) {
	dir := filepath.Join(a.root, channelKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("создание каталога канала: %w", err)
	}
	return dir, nil
}

// SaveMessages сохраняет сырые сообщения канала в messages.json.
// Ключи объектов сериализуются в отсортированном порядке.
func (a *FSArchive) SaveMessages(channelKey string, posts []domain.Post) error {
	dir, err := a.channelDir(channelKey)
	if err != nil {
		return err
	}
	raw := make([]map[string]any, 0, len(posts))
	for _, post := range posts {
		raw = append(raw, map[string]any{
			"id":        post.ID,
			"user_id":   post.UserID,
			"user_name": post.UserName,
			"message":   post.Message,
			"create_at": post.CreateAt,
		})
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("сериализация сообщений: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, messagesFile), data)
}

// SaveSummary сохраняет последнюю сводку канала в summary.txt.
func (a *FSArchive) SaveSummary(channelKey string, summary string) error {
	dir, err := a.channelDir(channelKey)
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, summaryFile), []byte(summary))
}

// LoadSummary возвращает сохранённую сводку либо пустую строку.
func (a *FSArchive) LoadSummary(channelKey string) (string, error) {
	data, err := os.ReadFile(filepath.Join(a.root, channelKey, summaryFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("чтение сводки: %w", err)
	}
	return string(data), nil
}

// ListChannels возвращает отсортированные идентификаторы каналов архива.
func (a *FSArchive) ListChannels() ([]string, error) {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		return nil, fmt.Errorf("чтение каталога архива: %w", err)
	}
	channels := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			channels = append(channels, entry.Name())
		}
	}
	sort.Strings(channels)
	return channels, nil
}

// writeFileAtomic пишет во временный файл и переименовывает его, чтобы
// читатель никогда не увидел частично записанное содержимое.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("создание временного файла: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("запись файла: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("закрытие файла: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("переименование файла: %w", err)
	}
	return nil
}
