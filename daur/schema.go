package daur

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// schemaReflector is configured for generation-endpoint response schemas.
// DoNotReference inlines all definitions to avoid $ref, which the endpoint
// does not resolve.
var schemaReflector = &jsonschema.Reflector{
	DoNotReference: true,
}

// Schema derives a response schema from a Go type, for use as
// TextRequest.ResponseSchema. The type should be a struct with json and
// jsonschema tags.
//
// Example:
//
//	type Persona struct {
//	    Name       string `json:"name" jsonschema:"required"`
//	    Occupation string `json:"occupation" jsonschema:"required"`
//	    Bio        string `json:"bio,omitempty"`
//	}
//
//	schema, err := daur.Schema[Persona]()
func Schema[T any]() (map[string]any, error) {
	var zero T
	return schemaToMap(schemaReflector.Reflect(&zero))
}

// SchemaFromValue derives a response schema from a value. This is useful
// when you have a value instead of a type.
func SchemaFromValue(v any) (map[string]any, error) {
	return schemaToMap(schemaReflector.Reflect(v))
}

// MustSchema is like Schema but panics on error. Useful for package-level
// schema definitions.
func MustSchema[T any]() map[string]any {
	schema, err := Schema[T]()
	if err != nil {
		panic(err)
	}
	return schema
}

func schemaToMap(s *jsonschema.Schema) (map[string]any, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("daur: marshaling schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("daur: reshaping schema: %w", err)
	}
	return m, nil
}
