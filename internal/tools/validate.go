package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var (
	schemaMu    sync.Mutex
	schemaCache = map[*Tool]*jsonschema.Schema{}
)

func compiledSchema(t *Tool) (*jsonschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	if s, ok := schemaCache[t]; ok {
		return s, nil
	}
	// Round-trip through JSON so yaml-decoded schemas normalize to the
	// types the compiler expects.
	raw, err := json.Marshal(t.Parameters)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	url := fmt.Sprintf("tool://%s/schema.json", t.Name)
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, err
	}
	schemaCache[t] = s
	return s, nil
}

// ValidateArgs parses the raw JSON arguments and, unless the tool opts into
// passthrough, validates them against the tool's parameter schema.
func ValidateArgs(t *Tool, rawArgs string) (map[string]any, error) {
	if rawArgs == "" {
		rawArgs = "{}"
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return nil, fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if t.ArgsValidation == ValidationPassthrough || t.Parameters == nil {
		return args, nil
	}
	schema, err := compiledSchema(t)
	if err != nil {
		return nil, fmt.Errorf("tool schema invalid: %w", err)
	}
	// Validate on the JSON-normalized value (json.Unmarshal into any).
	var value any
	if err := json.Unmarshal([]byte(rawArgs), &value); err != nil {
		return nil, err
	}
	if err := schema.Validate(value); err != nil {
		return nil, err
	}
	return args, nil
}
