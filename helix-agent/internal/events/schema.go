package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const turnCommittedSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["schema_version", "type", "event_id", "session_id", "occurred_at", "turn"],
  "properties": {
    "schema_version": {"const": 1},
    "type": {"const": "helix.turn.committed"},
    "event_id": {"type": "string", "minLength": 26, "maxLength": 26},
    "session_id": {"type": "string", "minLength": 1},
    "occurred_at": {"type": "string"},
    "turn": {
      "type": "object",
      "required": ["sequence", "question", "question_type"],
      "properties": {
        "sequence": {"type": "integer", "minimum": 1},
        "question": {"type": "string", "minLength": 1},
        "question_type": {"enum": ["gene_disease", "drug_treatment", "gene_protein", "pathway", "unknown", ""]},
        "entities": {"type": ["array", "null"], "items": {"type": "string"}},
        "filter": {"type": ["array", "null"], "items": {"type": "string"}}
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("turn_committed.json", strings.NewReader(turnCommittedSchema)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("turn_committed.json")
	})
	return schema, schemaErr
}

// Validate checks an encoded event against the TurnCommitted schema.
func Validate(payload []byte) error {
	s, err := compiled()
	if err != nil {
		return fmt.Errorf("compile event schema: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	return nil
}
