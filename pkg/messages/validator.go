package messages

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator checks a raw envelope against its kind's JSON Schema before a
// pipeline stage accepts it off a queue, so a malformed message surfaces as
// a problem at the boundary rather than corrupting stage state.
type Validator struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles every registered envelope schema eagerly so a
// typo in a schema fails at start-up, not on the first message of that kind.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	for kind, src := range schemaSources {
		if err := compiler.AddResource(kind+".json", bytes.NewReader([]byte(src))); err != nil {
			return nil, fmt.Errorf("messages: adding schema %s: %w", kind, err)
		}
	}

	schemas := make(map[string]*jsonschema.Schema, len(schemaSources))
	for kind := range schemaSources {
		schema, err := compiler.Compile(kind + ".json")
		if err != nil {
			return nil, fmt.Errorf("messages: compiling schema %s: %w", kind, err)
		}
		schemas[kind] = schema
	}
	return &Validator{schemas: schemas}, nil
}

// Validate checks data (a raw JSON envelope) against the schema registered
// for kind (one of the Kind* constants).
func (v *Validator) Validate(kind string, data []byte) error {
	v.mu.RLock()
	schema, ok := v.schemas[kind]
	v.mu.RUnlock()
	if !ok {
		return fmt.Errorf("messages: no schema registered for kind %q", kind)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("messages: decoding %s envelope: %w", kind, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("messages: %s envelope failed validation: %w", kind, err)
	}
	return nil
}
