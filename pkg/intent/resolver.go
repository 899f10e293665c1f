package intent

import (
	"fmt"
	"strings"
)

// DefaultNamespace is the slash command prefix, as in "/anf list volumes".
const DefaultNamespace = "anf"

// Vocabulary lists the actions and entities the resolver accepts. Card
// payloads naming an action outside the vocabulary resolve to Unknown.
type Vocabulary struct {
	Actions  []string
	Entities []string
}

// Resolver converts RawInput into an Intent. It is safe for concurrent use;
// all state is read-only after construction.
type Resolver struct {
	namespace string
	actions   map[string]struct{}
	entities  map[string]string // surface form → canonical entity
	matchers  []Matcher
	hints     map[string]string
	card      *cardValidator
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithNamespace overrides the slash command namespace.
func WithNamespace(ns string) Option {
	return func(r *Resolver) {
		if ns != "" {
			r.namespace = strings.ToLower(strings.TrimPrefix(ns, "/"))
		}
	}
}

// WithMatchers replaces the natural-language matcher list.
func WithMatchers(m []Matcher) Option {
	return func(r *Resolver) {
		r.matchers = append([]Matcher(nil), m...)
	}
}

// NewResolver builds a Resolver for the given vocabulary.
func NewResolver(vocab Vocabulary, opts ...Option) (*Resolver, error) {
	card, err := newCardValidator()
	if err != nil {
		return nil, fmt.Errorf("intent: card schema: %w", err)
	}

	r := &Resolver{
		namespace: DefaultNamespace,
		actions:   make(map[string]struct{}, len(vocab.Actions)),
		entities:  make(map[string]string, len(vocab.Entities)*2),
		matchers:  DefaultMatchers(),
		hints:     defaultParamHints(),
		card:      card,
	}
	for _, a := range vocab.Actions {
		r.actions[strings.ToLower(a)] = struct{}{}
	}
	for _, e := range vocab.Entities {
		e = strings.ToLower(e)
		r.entities[e] = e
		r.entities[e+"s"] = e
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Namespace returns the configured slash command namespace.
func (r *Resolver) Namespace() string {
	return r.namespace
}

// Resolve never fails: malformed or unmatched input yields the Unknown sentinel.
func (r *Resolver) Resolve(in RawInput) Intent {
	switch in.Modality {
	case CardAction:
		return r.resolveCard(in)
	case StructuredCommand:
		return r.resolveCommand(in.RawText)
	case NaturalLanguage:
		return r.resolveNatural(in.RawText)
	default:
		// Transports that cannot tell the modalities apart send text only.
		if strings.HasPrefix(strings.TrimSpace(in.RawText), "/") {
			return r.resolveCommand(in.RawText)
		}
		if in.RawText == "" && in.Payload != nil {
			return r.resolveCard(in)
		}
		return r.resolveNatural(in.RawText)
	}
}

// resolveCommand parses "/<namespace> <action> [entity] [key value]*".
func (r *Resolver) resolveCommand(text string) Intent {
	tokens := strings.Fields(text)
	if len(tokens) < 2 {
		return Unknown(StructuredCommand, text)
	}
	if !strings.EqualFold(tokens[0], "/"+r.namespace) {
		return Unknown(StructuredCommand, text)
	}

	out := Intent{
		Action:     strings.ToLower(tokens[1]),
		Parameters: make(map[string]string),
		Confidence: ConfidenceExact,
		Modality:   StructuredCommand,
		RawText:    text,
	}

	rest := tokens[2:]
	if len(rest) > 0 {
		if e, ok := r.entities[strings.ToLower(rest[0])]; ok {
			out.Entity = e
			rest = rest[1:]
		}
	}

	for i := 0; i+1 < len(rest); i += 2 {
		out.Parameters[rest[i]] = rest[i+1]
	}
	if len(rest)%2 == 1 {
		out.Dropped = []string{rest[len(rest)-1]}
	}
	return out
}

func (r *Resolver) knownAction(a string) bool {
	_, ok := r.actions[strings.ToLower(a)]
	return ok
}

func (r *Resolver) canonicalEntity(e string) (string, bool) {
	c, ok := r.entities[strings.ToLower(e)]
	return c, ok
}
