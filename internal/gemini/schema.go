package gemini

// Schema type names as understood by the generateContent responseSchema field.
const (
	TypeObject  = "OBJECT"
	TypeArray   = "ARRAY"
	TypeString  = "STRING"
	TypeInteger = "INTEGER"
	TypeNumber  = "NUMBER"
	TypeBoolean = "BOOLEAN"
)

// Schema describes the expected JSON output structure of a structured
// generation request. It serializes to the OpenAPI subset Gemini accepts.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// String returns a STRING node with an optional description.
func String(description string) *Schema {
	return &Schema{Type: TypeString, Description: description}
}

// Enum returns a STRING node restricted to the given values.
func Enum(values ...string) *Schema {
	return &Schema{Type: TypeString, Enum: values}
}

// Number returns a NUMBER node.
func Number(description string) *Schema {
	return &Schema{Type: TypeNumber, Description: description}
}

// Integer returns an INTEGER node.
func Integer(description string) *Schema {
	return &Schema{Type: TypeInteger, Description: description}
}

// ArrayOf returns an ARRAY node whose elements match items.
func ArrayOf(items *Schema) *Schema {
	return &Schema{Type: TypeArray, Items: items}
}

// Object returns an OBJECT node with the given required property names.
func Object(props map[string]*Schema, required ...string) *Schema {
	return &Schema{Type: TypeObject, Properties: props, Required: required}
}
