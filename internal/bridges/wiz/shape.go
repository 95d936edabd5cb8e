package wiz

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Kind is the primitive kind a shape field must hold.
type Kind int

const (
	// KindAny accepts any JSON value.
	KindAny Kind = iota
	KindString
	KindNumber
	KindBool
	KindObject
)

// String returns the JSON Schema type name for the kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindObject:
		return "object"
	default:
		return "any"
	}
}

// Field describes one member of a Shape.
type Field struct {
	Kind     Kind
	Required bool

	// Const, when set, pins the field to one exact value.
	Const any

	// Shape describes the members of a KindObject field.
	Shape *Shape
}

// Shape is a declarative description of a decoded response: a mapping of
// field name to kind, nestable through object fields. Members not listed
// are allowed.
type Shape struct {
	// Name identifies the shape. Validators cache compiled shapes by name.
	Name   string
	Fields map[string]Field
}

// Validator checks a decoded payload against a Shape.
type Validator interface {
	Validate(shape Shape, payload any) bool
}

// Schema renders the shape as a JSON Schema document.
func (s Shape) Schema() map[string]any {
	props := make(map[string]any, len(s.Fields))
	var required []string
	for name, f := range s.Fields {
		props[name] = f.schema()
		if f.Required {
			required = append(required, name)
		}
	}

	doc := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		sort.Strings(required)
		doc["required"] = required
	}
	return doc
}

func (f Field) schema() map[string]any {
	var doc map[string]any
	if f.Kind == KindObject && f.Shape != nil {
		doc = f.Shape.Schema()
	} else {
		doc = map[string]any{}
		if f.Kind != KindAny {
			doc["type"] = f.Kind.String()
		}
	}
	if f.Const != nil {
		doc["const"] = f.Const
	}
	return doc
}

// SchemaValidator validates payloads by compiling shapes to JSON Schema.
//
// Thread Safety:
//   - Safe for concurrent use. Compiled schemas are cached by shape name.
type SchemaValidator struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

// Ensure SchemaValidator implements Validator.
var _ Validator = (*SchemaValidator)(nil)

// NewSchemaValidator creates a validator with an empty schema cache.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{compiled: make(map[string]*jsonschema.Schema)}
}

// Compile compiles a shape, or returns the cached schema for its name.
func (v *SchemaValidator) Compile(shape Shape) (*jsonschema.Schema, error) {
	if shape.Name == "" {
		return nil, errors.New("wiz: shape has no name")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if sch, ok := v.compiled[shape.Name]; ok {
		return sch, nil
	}

	doc, err := json.Marshal(shape.Schema())
	if err != nil {
		return nil, fmt.Errorf("wiz: render shape %s: %w", shape.Name, err)
	}

	url := shape.Name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("wiz: add shape %s: %w", shape.Name, err)
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("wiz: compile shape %s: %w", shape.Name, err)
	}

	v.compiled[shape.Name] = sch
	return sch, nil
}

// Validate reports whether payload conforms to shape. A shape that fails
// to compile never validates.
func (v *SchemaValidator) Validate(shape Shape, payload any) bool {
	sch, err := v.Compile(shape)
	if err != nil {
		return false
	}
	return sch.Validate(payload) == nil
}
