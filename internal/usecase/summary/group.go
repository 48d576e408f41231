package summary

import "mm-summarizer/internal/domain"

// prepared — переписка канала, готовая к суммаризации: исходный срез
// постов плюс собранная группа для промпта.
type prepared struct {
	conversation domain.Conversation
	group        domain.ConversationGroup
}

func groupChars(group domain.ConversationGroup) int {
	total := 0
	for _, line := range group.Messages {
		total += len(line) + 1
	}
	return total
}

// groupBatches жадно набирает батчи в порядке обработки каналов и
// закрывает батч, когда добавление следующей переписки превысило бы
// лимит по числу каналов либо по суммарному объёму символов. Переписка
// крупнее лимита уходит отдельным батчем из одного канала.
func groupBatches(items []prepared, maxPerBatch, maxChars int) [][]prepared {
	if maxPerBatch <= 0 {
		maxPerBatch = 1
	}
	var batches [][]prepared
	var current []prepared
	chars := 0
	for _, item := range items {
		size := groupChars(item.group)
		if len(current) > 0 && (len(current) >= maxPerBatch || (maxChars > 0 && chars+size > maxChars)) {
			batches = append(batches, current)
			current = nil
			chars = 0
		}
		current = append(current, item)
		chars += size
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
