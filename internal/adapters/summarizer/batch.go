package summarizer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseBatchResponse разбирает ответ батчевого запроса: строгий JSON-объект
// «идентификатор группы — список буллетов». Разбор пермиссивный: сначала
// прямая попытка, затем поиск первой сбалансированной пары {...} в тексте.
func parseBatchResponse(content string) (map[string][]string, error) {
	trimmed := strings.TrimSpace(content)
	raw, err := decodeObject(trimmed)
	if err != nil {
		candidate := extractBalancedObject(trimmed)
		if candidate == "" {
			return nil, fmt.Errorf("ответ не содержит JSON-объекта: %w", err)
		}
		raw, err = decodeObject(candidate)
		if err != nil {
			return nil, fmt.Errorf("распаковка ответа LLM: %w", err)
		}
	}

	result := make(map[string][]string, len(raw))
	for groupID, value := range raw {
		bullets := coerceBullets(value)
		if len(bullets) == 0 {
			continue
		}
		result[groupID] = bullets
	}
	return result, nil
}

func decodeObject(text string) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// extractBalancedObject находит первую сбалансированную подстроку {...},
// учитывая строковые литералы и экранирование.
func extractBalancedObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// coerceBullets принимает буллеты в виде JSON-массива, строки с переводами
// строк либо вложенными под ключами summary/bullets/points.
func coerceBullets(value json.RawMessage) []string {
	var asList []string
	if err := json.Unmarshal(value, &asList); err == nil {
		return cleanBullets(asList)
	}

	var asString string
	if err := json.Unmarshal(value, &asString); err == nil {
		return cleanBullets(strings.Split(asString, "\n"))
	}

	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(value, &asObject); err == nil {
		for _, key := range []string{"summary", "bullets", "points"} {
			if nested, ok := asObject[key]; ok {
				if bullets := coerceBullets(nested); len(bullets) > 0 {
					return bullets
				}
			}
		}
	}
	return nil
}

func cleanBullets(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		trimmed = strings.TrimPrefix(trimmed, "-")
		trimmed = strings.TrimPrefix(trimmed, "•")
		trimmed = strings.TrimSpace(trimmed)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

// formatBullets собирает итоговый текст сводки из буллетов.
func formatBullets(bullets []string) string {
	var b strings.Builder
	for i, bullet := range bullets {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(bullet)
	}
	return b.String()
}
