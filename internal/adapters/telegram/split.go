package telegram

import "strings"

const messageLimit = 4096

// SplitMessage режет текст на части не длиннее лимита Telegram.
// Части собираются из целых строк; строка длиннее лимита режется по рунам.
func SplitMessage(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	var (
		parts   []string
		current []rune
	)
	flush := func() {
		if chunk := strings.Trim(string(current), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}
		current = current[:0]
	}
	for _, line := range strings.SplitAfter(trimmed, "\n") {
		runes := []rune(line)
		if len(current)+len(runes) > messageLimit {
			flush()
		}
		for len(runes) > messageLimit {
			parts = append(parts, string(runes[:messageLimit]))
			runes = runes[messageLimit:]
		}
		current = append(current, runes...)
	}
	flush()
	return parts
}
