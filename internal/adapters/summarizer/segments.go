package summarizer

const ellipsisMarker = "…"

// tokenEstimate — детерминированная аппроксимация «4 символа на токен».
// Округляет вверх, чтобы никогда не занизить стоимость текста.
func tokenEstimate(text string) int {
	return (len(text) + 3) / 4
}

// buildSegments режет отформатированные строки переписки на максимальные
// непрерывные отрезки, укладывающиеся в budget токенов. Строка длиннее
// бюджета усекается с хвоста под контролем счётчика токенов и помечается
// многоточием.
func buildSegments(lines []string, budget int) [][]string {
	if budget < 64 {
		budget = 64
	}
	var segments [][]string
	var current []string
	used := 0
	for _, line := range lines {
		cost := lineCost(line)
		if cost > budget {
			line = truncateToBudget(line, budget)
			cost = lineCost(line)
		}
		if len(current) > 0 && used+cost > budget {
			segments = append(segments, current)
			current = nil
			used = 0
		}
		current = append(current, line)
		used += cost
	}
	if len(current) > 0 {
		segments = append(segments, current)
	}
	return segments
}

// lineCost учитывает перевод строки, добавляемый при склейке сегмента.
func lineCost(line string) int {
	return tokenEstimate(line) + 1
}

// truncateToBudget убирает символы с конца строки, пока она вместе с
// маркером потери не уложится в бюджет.
func truncateToBudget(line string, budget int) string {
	runes := []rune(line)
	for len(runes) > 0 {
		candidate := ellipsisMarker + string(runes)
		if lineCost(candidate) <= budget {
			return candidate
		}
		runes = runes[:len(runes)-1]
	}
	return ellipsisMarker
}
