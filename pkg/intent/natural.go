package intent

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Matcher fires when every trigger substring occurs in the normalized input.
// With WholeWord set a trigger must also stand on word boundaries.
type Matcher struct {
	Triggers  []string
	Action    string
	Entity    string
	WholeWord bool
}

func (m Matcher) matches(text string) bool {
	if len(m.Triggers) == 0 {
		return false
	}
	for _, t := range m.Triggers {
		if m.WholeWord {
			if !containsWord(text, t) {
				return false
			}
			continue
		}
		if !strings.Contains(text, t) {
			return false
		}
	}
	return true
}

func containsWord(text, phrase string) bool {
	for from := 0; from <= len(text)-len(phrase); {
		i := strings.Index(text[from:], phrase)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(phrase)
		if (start == 0 || !isWordByte(text[start-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		from = start + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || b == '-' || b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b >= 0x80
}

// DefaultMatchers returns the ANF phrase table. Order matters: the first
// match wins, so more specific nouns (snapshot) come before the containers
// they are usually mentioned with (volume, pool, account). Help comes last so
// a resource named like "helpdesk" never hides a command.
func DefaultMatchers() []Matcher {
	return []Matcher{
		{Triggers: []string{"delete", "snapshot"}, Action: "delete", Entity: "snapshot"},
		{Triggers: []string{"remove", "snapshot"}, Action: "delete", Entity: "snapshot"},
		{Triggers: []string{"delete", "volume"}, Action: "delete", Entity: "volume"},
		{Triggers: []string{"remove", "volume"}, Action: "delete", Entity: "volume"},
		{Triggers: []string{"delete", "pool"}, Action: "delete", Entity: "pool"},
		{Triggers: []string{"remove", "pool"}, Action: "delete", Entity: "pool"},
		{Triggers: []string{"delete", "account"}, Action: "delete", Entity: "account"},
		{Triggers: []string{"remove", "account"}, Action: "delete", Entity: "account"},

		{Triggers: []string{"create", "snapshot"}, Action: "create", Entity: "snapshot"},
		{Triggers: []string{"take", "snapshot"}, Action: "create", Entity: "snapshot"},
		{Triggers: []string{"create", "volume"}, Action: "create", Entity: "volume"},
		{Triggers: []string{"create", "pool"}, Action: "create", Entity: "pool"},
		{Triggers: []string{"create", "account"}, Action: "create", Entity: "account"},

		{Triggers: []string{"resize", "volume"}, Action: "resize", Entity: "volume"},
		{Triggers: []string{"grow", "volume"}, Action: "resize", Entity: "volume"},
		{Triggers: []string{"resize", "pool"}, Action: "resize", Entity: "pool"},
		{Triggers: []string{"change", "service level"}, Action: "update", Entity: "pool"},

		{Triggers: []string{"list", "snapshot"}, Action: "list", Entity: "snapshot"},
		{Triggers: []string{"show", "snapshot"}, Action: "list", Entity: "snapshot"},
		{Triggers: []string{"list", "volume"}, Action: "list", Entity: "volume"},
		{Triggers: []string{"show", "volume"}, Action: "list", Entity: "volume"},
		{Triggers: []string{"list", "pool"}, Action: "list", Entity: "pool"},
		{Triggers: []string{"show", "pool"}, Action: "list", Entity: "pool"},
		{Triggers: []string{"list", "account"}, Action: "list", Entity: "account"},
		{Triggers: []string{"show", "account"}, Action: "list", Entity: "account"},

		{Triggers: []string{"help"}, Action: "help", WholeWord: true},
		{Triggers: []string{"what can you do"}, Action: "help", WholeWord: true},
	}
}

// defaultParamHints maps a keyword to the parameter that the following word
// fills. Entity nouns are handled separately: the matched entity's noun fills
// "name", any other entity noun fills its own key.
func defaultParamHints() map[string]string {
	return map[string]string{
		"name":     "name",
		"named":    "name",
		"called":   "name",
		"location": "location",
		"region":   "location",
		"size":     "size",
		"tier":     "service_level",
		"level":    "service_level",
	}
}

// normalizeText applies NFKC and lower-cases. Casers are stateful, so one is
// built per call.
func normalizeText(s string) string {
	return cases.Lower(language.Und).String(norm.NFKC.String(s))
}

func (r *Resolver) resolveNatural(text string) Intent {
	normalized := normalizeText(text)
	for _, m := range r.matchers {
		if !m.matches(normalized) {
			continue
		}
		return Intent{
			Action:     m.Action,
			Entity:     m.Entity,
			Parameters: r.extractParams(text, m.Entity),
			Confidence: ConfidenceNatural,
			Modality:   NaturalLanguage,
			RawText:    text,
		}
	}
	return Unknown(NaturalLanguage, text)
}

// extractParams pulls "<keyword> <value>" pairs out of free text. Values keep
// their original case; keywords are compared case-insensitively.
func (r *Resolver) extractParams(text, entity string) map[string]string {
	params := make(map[string]string)
	words := strings.Fields(norm.NFKC.String(text))

	for i := 0; i+1 < len(words); i++ {
		kw := strings.ToLower(strings.Trim(words[i], ".,!?;:\"'"))
		value := strings.Trim(words[i+1], ".,!?;:\"'")
		if value == "" || r.isKeyword(strings.ToLower(value)) {
			continue
		}

		key := ""
		if e, ok := r.entities[kw]; ok {
			key = e
			if e == entity {
				key = "name"
			}
		} else if h, ok := r.hints[kw]; ok {
			key = h
		}
		if key == "" {
			continue
		}
		if _, set := params[key]; !set {
			params[key] = value
		}
	}
	return params
}

func (r *Resolver) isKeyword(w string) bool {
	if _, ok := r.entities[w]; ok {
		return true
	}
	if _, ok := r.hints[w]; ok {
		return true
	}
	switch w {
	case "a", "an", "the", "to", "in", "of", "from", "on", "for", "with", "is", "and":
		return true
	}
	return false
}
