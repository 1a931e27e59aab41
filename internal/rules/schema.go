// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pulseboard Contributors

package rules

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// RulesFile is the on-disk shape of the rules resource.
type RulesFile struct {
	// Collections maps a collection name or glob pattern to its rules.
	Collections map[string]OperationRules `json:"collections" koanf:"collections"`
}

// The compiled schema is built once; ValidateRulesFile is called from the
// reload path, which runs concurrently (explicit Reload plus the ticker).
var (
	schemaOnce   sync.Once
	schemaCached *jschema.Schema
	schemaErr    error
)

// GenerateSchema generates a JSON Schema for the rules file from the
// RulesFile struct.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&RulesFile{})
	schema.Title = "Pulseboard Access Rules"
	schema.Description = "Schema for the access-rules YAML file"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Wrapf(err, "marshaling rules schema")
	}
	return data, nil
}

// ValidateRulesFile validates raw YAML against the rules-file schema. It
// catches shape errors (wrong nesting, non-string rule values) before the
// file is accepted as a RuleSet.
func ValidateRulesFile(data []byte) error {
	if len(data) == 0 {
		return oops.Code("RULESET_EMPTY").Errorf("rules file is empty")
	}

	var yamlData any
	if err := yaml.Unmarshal(data, &yamlData); err != nil {
		return oops.Code("RULESET_SYNTAX").Wrapf(err, "invalid YAML")
	}

	sch, err := compiledSchema()
	if err != nil {
		return err
	}

	if err := sch.Validate(convertToJSONTypes(yamlData)); err != nil {
		return oops.Code("RULESET_SCHEMA").Wrapf(err, "rules file schema validation")
	}

	return nil
}

func compiledSchema() (*jschema.Schema, error) {
	schemaOnce.Do(func() {
		schemaCached, schemaErr = buildSchema()
	})
	return schemaCached, schemaErr
}

func buildSchema() (*jschema.Schema, error) {
	schemaBytes, err := GenerateSchema()
	if err != nil {
		return nil, err
	}

	var schemaData any
	if err := json.Unmarshal(schemaBytes, &schemaData); err != nil {
		return nil, oops.Wrapf(err, "parsing generated schema")
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("rules.schema.json", schemaData); err != nil {
		return nil, oops.Wrapf(err, "adding schema resource")
	}

	sch, err := c.Compile("rules.schema.json")
	if err != nil {
		return nil, oops.Wrapf(err, "compiling rules schema")
	}

	return sch, nil
}

// convertToJSONTypes normalizes YAML-decoded values for schema validation.
// yaml.v3 produces map[string]any which is already compatible; nested
// structures are walked recursively for safety.
func convertToJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, inner := range val {
			result[k] = convertToJSONTypes(inner)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, inner := range val {
			result[i] = convertToJSONTypes(inner)
		}
		return result
	default:
		return val
	}
}
