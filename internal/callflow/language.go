package callflow

import "strings"

// dialCodeLanguages maps leading E.164 dial codes to a best-guess language.
// Longest matching prefix wins. This is a routing hint, never authoritative:
// it applies only when the caller skipped the language menu, and only when
// the guessed language is actually offered.
var dialCodeLanguages = map[string]string{
	"+1":   "en",
	"+30":  "el",
	"+31":  "nl",
	"+33":  "fr",
	"+34":  "es",
	"+39":  "it",
	"+43":  "de",
	"+44":  "en",
	"+48":  "pl",
	"+49":  "de",
	"+7":   "ru",
	"+90":  "tr",
	"+380": "uk",
}

func detectLanguage(number string, offered []string) string {
	if !strings.HasPrefix(number, "+") {
		return ""
	}
	best, bestLen := "", 0
	for prefix, lang := range dialCodeLanguages {
		if strings.HasPrefix(number, prefix) && len(prefix) > bestLen {
			best, bestLen = lang, len(prefix)
		}
	}
	for _, l := range offered {
		if l == best {
			return best
		}
	}
	return ""
}
