// Package intent turns raw chat input of any modality into a canonical Intent.
//
// Three modalities are supported: structured slash commands
// ("/anf delete volume name vol1"), free-form natural language, and card
// action payloads submitted by interactive buttons and forms. Resolution never
// fails; input that cannot be understood becomes the Unknown sentinel.
package intent

import "sort"

// Modality identifies how the raw input reached the bot.
type Modality string

const (
	StructuredCommand Modality = "structured_command"
	NaturalLanguage   Modality = "natural_language"
	CardAction        Modality = "card_action"
)

// Valid reports whether m is one of the known modalities.
func (m Modality) Valid() bool {
	switch m {
	case StructuredCommand, NaturalLanguage, CardAction:
		return true
	}
	return false
}

// ActionUnknown is the sentinel action for input that matched nothing.
const ActionUnknown = "unknown"

// Confidence levels assigned by the resolver.
const (
	ConfidenceExact   = 1.0
	ConfidenceNatural = 0.6
	ConfidenceNone    = 0.0
)

// RawInput is what the transport delivers for one chat turn or card click.
type RawInput struct {
	Modality       Modality       `json:"modality"`
	RawText        string         `json:"rawText,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	ConversationID string         `json:"conversationId"`
	RequestID      string         `json:"requestId,omitempty"`
}

// Intent is the canonical (action, entity, parameters) form of a request.
// Parameter values are raw tokens; coercion happens at the operation boundary.
type Intent struct {
	Action     string            `json:"action"`
	Entity     string            `json:"entity,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Confidence float64           `json:"confidence"`
	Modality   Modality          `json:"modality"`
	RawText    string            `json:"rawText,omitempty"`

	// Dropped holds tokens the structured parser could not pair with a key.
	Dropped []string `json:"dropped,omitempty"`
}

// Unknown builds the no-match sentinel.
func Unknown(m Modality, raw string) Intent {
	return Intent{
		Action:     ActionUnknown,
		Parameters: map[string]string{},
		Confidence: ConfidenceNone,
		Modality:   m,
		RawText:    raw,
	}
}

// IsUnknown reports whether the intent is the sentinel.
func (i Intent) IsUnknown() bool {
	return i.Action == "" || i.Action == ActionUnknown
}

// Param returns a parameter value and whether it was present.
func (i Intent) Param(name string) (string, bool) {
	v, ok := i.Parameters[name]
	return v, ok
}

// ParamNames returns the parameter keys in sorted order.
func (i Intent) ParamNames() []string {
	names := make([]string, 0, len(i.Parameters))
	for k := range i.Parameters {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
