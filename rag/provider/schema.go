package provider

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Schema asks the backend for structured JSON output.
type Schema struct {
	Name        string
	Description string
	Definition  map[string]any
}

// SchemaFor reflects T into a strict schema. It panics on reflection failure, which
// only happens for types that cannot be marshalled at all.
func SchemaFor[T any](name, description string) *Schema {
	return &Schema{Name: name, Description: description, Definition: GenerateSchema[T]()}
}

func GenerateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	b, err := reflector.Reflect(v).MarshalJSON()
	if err != nil {
		panic(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		panic(err)
	}
	makeStrict(m)
	return m
}

// makeStrict closes every object and marks all of its properties required, which
// strict structured output demands.
func makeStrict(schema map[string]any) {
	props, _ := schema["properties"].(map[string]any)
	if t, _ := schema["type"].(string); t == "object" {
		schema["additionalProperties"] = false
		if len(props) > 0 {
			required := make([]string, 0, len(props))
			for name := range props {
				required = append(required, name)
			}
			schema["required"] = required
		}
	}
	for _, p := range props {
		if pm, ok := p.(map[string]any); ok {
			makeStrict(pm)
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		makeStrict(items)
	}
}
