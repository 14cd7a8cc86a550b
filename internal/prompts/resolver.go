package prompts

import "strings"

// Prompt is the resolved output for a (key, language) pair. When AudioURL is
// set the adapter should play it; otherwise Text is synthesized.
type Prompt struct {
	AudioURL string
	Text     string
}

// Resolver maps a prompt key and language to playable content. Implementations
// must be stateless and safe for concurrent use.
type Resolver interface {
	Resolve(key, language string) Prompt
}

// Table is a static Resolver backed by in-memory lookup tables. Custom audio
// wins over spoken text; language falls back to Default when the requested
// language has no entry.
type Table struct {
	Default string
	Audio   map[string]map[string]string // key -> language -> URL
	Text    map[string]map[string]string // key -> language -> spoken text
}

func NewTable(defaultLanguage string) *Table {
	return &Table{
		Default: defaultLanguage,
		Audio:   make(map[string]map[string]string),
		Text:    make(map[string]map[string]string),
	}
}

func (t *Table) SetAudio(key, language, url string) {
	if t.Audio[key] == nil {
		t.Audio[key] = make(map[string]string)
	}
	t.Audio[key][language] = url
}

func (t *Table) SetText(key, language, text string) {
	if t.Text[key] == nil {
		t.Text[key] = make(map[string]string)
	}
	t.Text[key][language] = text
}

func (t *Table) Resolve(key, language string) Prompt {
	language = normalize(language)
	if url := lookup(t.Audio, key, language, t.Default); url != "" {
		return Prompt{AudioURL: url}
	}
	if text := lookup(t.Text, key, language, t.Default); text != "" {
		return Prompt{Text: text}
	}
	// Last resort: speak the key itself so the caller never gets silence.
	return Prompt{Text: strings.ReplaceAll(key, "_", " ")}
}

func lookup(m map[string]map[string]string, key, language, fallback string) string {
	byLang := m[key]
	if byLang == nil {
		return ""
	}
	if v := byLang[language]; v != "" {
		return v
	}
	return byLang[fallback]
}

func normalize(language string) string {
	language = strings.ToLower(strings.TrimSpace(language))
	// "en-US" and "en" resolve the same table row.
	if i := strings.IndexByte(language, '-'); i > 0 {
		return language[:i]
	}
	return language
}
