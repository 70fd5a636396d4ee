package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// rawSchemas holds the argument schema for every tool. Handwritten rather
// than reflected so the contract the model sees is explicit and additional
// properties are always rejected.
var rawSchemas = map[Kind]string{
	KindCreateEntry: `{
		"type": "object",
		"properties": {
			"title":            {"type": "string", "minLength": 1},
			"when":             {"type": "string", "minLength": 1},
			"notes":            {"type": "string"},
			"reminder_minutes": {"type": "integer", "minimum": 1, "maximum": 1440}
		},
		"required": ["title", "when"],
		"additionalProperties": false
	}`,
	KindListEntries: `{
		"type": "object",
		"properties": {
			"day": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	KindFindEntries: `{
		"type": "object",
		"properties": {
			"keyword": {"type": "string", "minLength": 1}
		},
		"required": ["keyword"],
		"additionalProperties": false
	}`,
	KindUpdateEntry: `{
		"type": "object",
		"properties": {
			"id":    {"type": "string", "minLength": 1},
			"title": {"type": "string"},
			"when":  {"type": "string"},
			"notes": {"type": "string"}
		},
		"required": ["id"],
		"additionalProperties": false
	}`,
	KindShiftEntry: `{
		"type": "object",
		"properties": {
			"id":      {"type": "string", "minLength": 1},
			"minutes": {"type": "integer"}
		},
		"required": ["id", "minutes"],
		"additionalProperties": false
	}`,
	KindCompleteEntry: `{
		"type": "object",
		"properties": {
			"id": {"type": "string", "minLength": 1}
		},
		"required": ["id"],
		"additionalProperties": false
	}`,
	KindDeleteEntry: `{
		"type": "object",
		"properties": {
			"id": {"type": "string", "minLength": 1}
		},
		"required": ["id"],
		"additionalProperties": false
	}`,
	KindGetSettings: `{
		"type": "object",
		"additionalProperties": false
	}`,
	KindUpdateSettings: `{
		"type": "object",
		"properties": {
			"timezone":          {"type": "string"},
			"reminder_minutes":  {"type": "integer", "minimum": 1, "maximum": 1440},
			"pre_event_alerts":  {"type": "boolean"},
			"daily_digest":      {"type": "boolean"},
			"daily_digest_time": {"type": "string", "pattern": "^([01]?[0-9]|2[0-3]):[0-5][0-9]$"}
		},
		"additionalProperties": false
	}`,
	KindCurrentTime: `{
		"type": "object",
		"additionalProperties": false
	}`,
}

type schemaSet struct {
	compiled map[Kind]*jsonschema.Schema
}

func compileSchemas() (*schemaSet, error) {
	out := &schemaSet{compiled: make(map[Kind]*jsonschema.Schema, len(rawSchemas))}
	for kind, raw := range rawSchemas {
		// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
		// validator requires.
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema for %s: %w", kind, err)
		}
		c := jsonschema.NewCompiler()
		resource := kind.String() + ".json"
		if err := c.AddResource(resource, doc); err != nil {
			return nil, fmt.Errorf("add schema resource for %s: %w", kind, err)
		}
		schema, err := c.Compile(resource)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", kind, err)
		}
		out.compiled[kind] = schema
	}
	return out, nil
}

func (s *schemaSet) validate(kind Kind, args json.RawMessage) error {
	schema, ok := s.compiled[kind]
	if !ok {
		return fmt.Errorf("no schema for %s", kind)
	}
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(string(args)))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return schema.Validate(parsed)
}
