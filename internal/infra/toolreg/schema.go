package toolreg

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"opsagent/internal/domain"
)

// inputValidator checks tool params against a compiled InputShape.
type inputValidator struct {
	resolved *jsonschema.Resolved
}

// SchemaFor converts an InputShape into a closed JSON object schema.
func SchemaFor(shape domain.InputShape) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:                 "object",
		Properties:           make(map[string]*jsonschema.Schema, len(shape.Fields)),
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
	for _, field := range shape.Fields {
		prop := &jsonschema.Schema{
			Type:        string(field.Type),
			Description: field.Description,
		}
		if len(field.Enum) > 0 {
			prop.Enum = make([]any, 0, len(field.Enum))
			for _, value := range field.Enum {
				prop.Enum = append(prop.Enum, value)
			}
		}
		if field.Type == domain.FieldArray && field.Items != "" {
			prop.Items = &jsonschema.Schema{Type: string(field.Items)}
		}
		schema.Properties[field.Name] = prop
		if field.Required {
			schema.Required = append(schema.Required, field.Name)
		}
	}
	return schema
}

func compileShape(shape domain.InputShape) (*inputValidator, error) {
	seen := make(map[string]struct{}, len(shape.Fields))
	for _, field := range shape.Fields {
		if field.Name == "" {
			return nil, errors.New("input field name is required")
		}
		if _, ok := seen[field.Name]; ok {
			return nil, fmt.Errorf("duplicate input field %q", field.Name)
		}
		seen[field.Name] = struct{}{}
		switch field.Type {
		case domain.FieldString, domain.FieldInteger, domain.FieldNumber,
			domain.FieldBoolean, domain.FieldArray, domain.FieldObject:
		default:
			return nil, fmt.Errorf("input field %q has unsupported type %q", field.Name, field.Type)
		}
	}

	resolved, err := SchemaFor(shape).Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve input schema: %w", err)
	}
	return &inputValidator{resolved: resolved}, nil
}

// validate decodes params and checks them. Empty params are treated as {}.
func (v *inputValidator) validate(params json.RawMessage) error {
	var instance any = map[string]any{}
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, &instance); err != nil {
			return fmt.Errorf("%w: params are not valid JSON: %v", domain.ErrValidation, err)
		}
	}
	if err := v.resolved.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}
