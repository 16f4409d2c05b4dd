package daur

import (
	"fmt"
	"reflect"
)

// ValidateAgainstSchema checks a parsed structured result against a JSON
// schema (draft subset): required fields must be present and property values
// must match their declared primitive type. The serving API already enforces
// the schema, so this is an opt-in belt for callers that cannot trust the
// endpoint (see TextRequest.ValidateResult).
func ValidateAgainstSchema(schema map[string]any, obj map[string]any) error {
	if len(schema) == 0 {
		return nil // No schema to validate against
	}

	required, ok := schema["required"].([]string)
	if !ok {
		// Try []any (from JSON unmarshal)
		if reqAny, ok := schema["required"].([]any); ok {
			required = make([]string, len(reqAny))
			for i, v := range reqAny {
				if s, ok := v.(string); ok {
					required[i] = s
				}
			}
		}
	}

	for _, fieldName := range required {
		if _, exists := obj[fieldName]; !exists {
			return fmt.Errorf("missing required field: %s", fieldName)
		}
	}

	properties, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil // No property definitions
	}

	for name, value := range obj {
		propSchema, exists := properties[name]
		if !exists {
			continue // Extra fields are allowed
		}

		propMap, ok := propSchema.(map[string]any)
		if !ok {
			continue
		}

		expectedType, ok := propMap["type"].(string)
		if !ok {
			continue
		}

		if err := validateType(name, value, expectedType); err != nil {
			return err
		}

		// Recurse into nested objects when their schema is available.
		if expectedType == "object" {
			if nested, ok := value.(map[string]any); ok {
				if err := ValidateAgainstSchema(propMap, nested); err != nil {
					return fmt.Errorf("field %s: %w", name, err)
				}
			}
		}
	}

	return nil
}

func validateType(name string, value any, expectedType string) error {
	if value == nil {
		return nil // Null values pass (handled by required check)
	}

	actualType := reflect.TypeOf(value).Kind()

	switch expectedType {
	case "string":
		if actualType != reflect.String {
			return fmt.Errorf("field %s: expected string, got %v", name, actualType)
		}
	case "number":
		if actualType != reflect.Float64 && actualType != reflect.Float32 {
			return fmt.Errorf("field %s: expected number, got %v", name, actualType)
		}
	case "integer":
		// JSON numbers are float64; check if it's a whole number
		if f, ok := value.(float64); ok {
			if f != float64(int(f)) {
				return fmt.Errorf("field %s: expected integer, got float %v", name, f)
			}
		} else {
			return fmt.Errorf("field %s: expected integer, got %v", name, actualType)
		}
	case "boolean":
		if actualType != reflect.Bool {
			return fmt.Errorf("field %s: expected boolean, got %v", name, actualType)
		}
	case "array":
		if actualType != reflect.Slice && actualType != reflect.Array {
			return fmt.Errorf("field %s: expected array, got %v", name, actualType)
		}
	case "object":
		if actualType != reflect.Map {
			return fmt.Errorf("field %s: expected object, got %v", name, actualType)
		}
	}

	return nil
}
