package intent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const cardSchemaURL = "https://opsbot.schemas.local/card-action.schema.json"

// cardActionSchema constrains the payload a card button or form submits.
const cardActionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": {"type": "string", "minLength": 1},
    "entity": {"type": "string"},
    "parameters": {
      "type": "object",
      "additionalProperties": {"type": ["string", "number", "boolean"]}
    }
  }
}`

type cardValidator struct {
	schema *jsonschema.Schema
}

func newCardValidator() (*cardValidator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(cardSchemaURL, strings.NewReader(cardActionSchema)); err != nil {
		return nil, err
	}
	s, err := c.Compile(cardSchemaURL)
	if err != nil {
		return nil, err
	}
	return &cardValidator{schema: s}, nil
}

// validate normalizes the payload through a JSON round trip so values built in
// Go (map[string]string, ints) validate the same way as decoded wire payloads.
func (v *cardValidator) validate(payload map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("card payload not serializable: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if err := v.schema.Validate(doc); err != nil {
		return nil, err
	}
	obj, _ := doc.(map[string]any)
	return obj, nil
}

func (r *Resolver) resolveCard(in RawInput) Intent {
	raw := in.RawText
	if in.Payload == nil {
		return Unknown(CardAction, raw)
	}

	doc, err := r.card.validate(in.Payload)
	if err != nil {
		return Unknown(CardAction, raw)
	}

	action, _ := doc["action"].(string)
	action = strings.ToLower(strings.TrimSpace(action))
	if !r.knownAction(action) {
		return Unknown(CardAction, raw)
	}

	out := Intent{
		Action:     action,
		Parameters: make(map[string]string),
		Confidence: ConfidenceExact,
		Modality:   CardAction,
		RawText:    raw,
	}
	if raw == "" {
		out.RawText = cardSummary(doc)
	}

	if e, ok := doc["entity"].(string); ok && e != "" {
		canon, known := r.canonicalEntity(e)
		if !known {
			return Unknown(CardAction, out.RawText)
		}
		out.Entity = canon
	}

	if params, ok := doc["parameters"].(map[string]any); ok {
		for k, v := range params {
			out.Parameters[k] = token(v)
		}
	}
	return out
}

// token renders a decoded JSON scalar back into a raw string token.
func token(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func cardSummary(doc map[string]any) string {
	b, err := json.Marshal(doc)
	if err != nil {
		return ""
	}
	return string(b)
}
