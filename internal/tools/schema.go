package tools

import (
	"encoding/json"
	"fmt"

	invopop "github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonschema"
)

// SchemaFor reflects the JSON Schema of T's argument struct. Field
// descriptions come from `jsonschema:"description=..."` tags; fields
// without omitempty are required.
func SchemaFor[T any]() map[string]any {
	r := &invopop.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(T))

	raw, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("tools: reflect schema: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		panic(fmt.Sprintf("tools: reflect schema: %v", err))
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m
}

func compile(schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	s, err := jsonschema.NewCompiler().Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return s, nil
}
