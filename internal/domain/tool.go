package domain

import "encoding/json"

// Tool describes a callable operation exposed over the Model Context Protocol (MCP).
// Descriptors are fixed at build time and never mutated after registration.
type Tool struct {
	// Name MUST be unique within the server.
	Name string `json:"name"`

	// Description provides a natural language explanation of what the tool does.
	// This is what an LLM reads to decide when to call the tool.
	Description string `json:"description"`

	// InputSchema defines the named arguments the tool expects, in JSON Schema form.
	InputSchema JSONSchemaProps `json:"inputSchema"`
}

// JSONSchemaProps represents the subset of JSON Schema used by tool descriptors.
type JSONSchemaProps struct {
	Type        string                     `json:"type"`                  // e.g., "object", "string", "integer"
	Description string                     `json:"description,omitempty"` // Human readable hint
	Properties  map[string]JSONSchemaProps `json:"properties,omitempty"`  // For type "object"
	Required    []string                   `json:"required,omitempty"`    // For type "object"
	Enum        []interface{}              `json:"enum,omitempty"`        // Possible values
	Default     interface{}                `json:"default,omitempty"`
}

// MarshalJSON always emits "properties" for object schemas, even when empty.
func (p JSONSchemaProps) MarshalJSON() ([]byte, error) {
	type plain JSONSchemaProps
	if p.Type == "object" && len(p.Properties) == 0 {
		return json.Marshal(struct {
			plain
			Properties map[string]JSONSchemaProps `json:"properties"`
		}{plain: plain(p), Properties: map[string]JSONSchemaProps{}})
	}
	return json.Marshal(plain(p))
}

// ObjectSchema is a convenience constructor for an object schema.
func ObjectSchema(properties map[string]JSONSchemaProps, required ...string) JSONSchemaProps {
	if properties == nil {
		properties = map[string]JSONSchemaProps{}
	}
	return JSONSchemaProps{Type: "object", Properties: properties, Required: required}
}
