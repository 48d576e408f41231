package main

import (
	"flag"
	"fmt"
	"os"

	"mm-summarizer/internal/adapters/archive"
	"mm-summarizer/internal/infra/config"
	logpkg "mm-summarizer/internal/infra/log"
)

// Утилита оператора: печатает сохранённые сводки из архива переписок.
func main() {
	channel := flag.String("channel", "", "показать сводку только одного канала")
	flag.Parse()

	cfg := config.Load()
	logger := logpkg.NewLogger(cfg.AppEnv)

	store, err := archive.NewFSArchive(cfg.StorageDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("summaries: не удалось открыть архив")
	}

	if *channel != "" {
		text, err := store.LoadSummary(*channel)
		if err != nil {
			logger.Fatal().Err(err).Str("channel", *channel).Msg("summaries: не удалось прочитать сводку")
		}
		if text == "" {
			fmt.Fprintf(os.Stderr, "сводки для канала %s нет\n", *channel)
			os.Exit(1)
		}
		fmt.Println(text)
		return
	}

	channels, err := store.ListChannels()
	if err != nil {
		logger.Fatal().Err(err).Msg("summaries: не удалось получить список каналов")
	}
	if len(channels) == 0 {
		fmt.Println("архив пуст")
		return
	}
	for _, name := range channels {
		text, err := store.LoadSummary(name)
		if err != nil || text == "" {
			continue
		}
		fmt.Printf("== %s ==\n%s\n\n", name, text)
	}
}
