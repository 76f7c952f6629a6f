package validate

import (
	"embed"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const (
	chainSchemaName       = "schemas/trust_chain.schema.json"
	authoritiesSchemaName = "schemas/authorities.schema.json"
	revocationsSchemaName = "schemas/revocations.schema.json"
)

var (
	mu       sync.Mutex
	compiled = map[string]*jsonschema.Schema{}
)

// ValidateChain checks a serialized trust chain document against the embedded
// schema before it is decoded into typed records.
func ValidateChain(data []byte) error {
	return validateAgainst(chainSchemaName, data)
}

// ValidateAuthorities checks a serialized authority registry.
func ValidateAuthorities(data []byte) error {
	return validateAgainst(authoritiesSchemaName, data)
}

// ValidateRevocations checks a serialized revocation marker list.
func ValidateRevocations(data []byte) error {
	return validateAgainst(revocationsSchemaName, data)
}

func validateAgainst(name string, data []byte) error {
	schema, err := compiledSchema(name)
	if err != nil {
		return err
	}
	result := schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("schema validation failed: %v", result.Errors)
}

func compiledSchema(name string) (*jsonschema.Schema, error) {
	mu.Lock()
	defer mu.Unlock()
	if schema, ok := compiled[name]; ok {
		return schema, nil
	}
	raw, err := schemaFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	compiled[name] = schema
	return schema, nil
}
