package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// pipelineSchema is the structural contract for pipeline files. Semantic
// rules (cycles, file existence, condition syntax) live in the validator.
const pipelineSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "agents"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "trigger": {"enum": ["manual", "pre-commit", "post-commit", "pre-push", "post-merge"]},
    "agents": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "agent"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "agent": {"type": "string", "minLength": 1},
          "dependsOn": {"type": "array", "items": {"type": "string"}},
          "enabled": {"type": "boolean"},
          "condition": {"type": "string"},
          "onFail": {"enum": ["stop", "continue", "warn"]},
          "timeout": {"type": "integer"},
          "retry": {
            "type": "object",
            "properties": {
              "maxAttempts": {"type": "integer"},
              "delay": {"type": "integer"}
            }
          }
        }
      }
    },
    "settings": {"type": "object"},
    "git": {"type": "object"},
    "notifications": {"type": "object"},
    "looping": {"type": "object"}
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(pipelineSchema))
		if err != nil {
			schemaErr = fmt.Errorf("parse embedded schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("pipeline.schema.json", doc); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = c.Compile("pipeline.schema.json")
	})
	return schema, schemaErr
}

// ValidateSchema checks raw pipeline YAML against the embedded JSON schema.
func ValidateSchema(data []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing pipeline YAML: %w", err)
	}

	if err := sch.Validate(normalizeYAML(doc)); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}

// normalizeYAML converts yaml.v3 integers to the float64/any shapes the
// schema validator expects from a JSON document.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}
