package baseline

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// globalSchema is the JSON Schema for the persisted global baseline
// document. Exactly the five named fields, all required.
const globalSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "gatewitness/baseline-v1.schema.json",
  "type": "object",
  "required": ["mean", "variance", "samples", "converged", "metadata"],
  "additionalProperties": false,
  "properties": {
    "mean": {"type": "number"},
    "variance": {"type": "number", "minimum": 0},
    "samples": {"type": "integer", "minimum": 2},
    "converged": {"type": "boolean"},
    "metadata": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("baseline-v1.schema.json", globalSchema)
	})
	return schema, schemaErr
}

// ValidateDocument checks a decoded baseline document against the
// persisted-format schema.
func ValidateDocument(doc map[string]any) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile baseline schema: %w", err)
	}

	// Round-trip through JSON so the instance uses the value types the
	// validator expects, regardless of which decoder produced doc.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode baseline document: %w", err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("decode baseline document: %w", err)
	}

	if err := s.Validate(instance); err != nil {
		return fmt.Errorf("baseline document invalid: %w", err)
	}
	return nil
}
