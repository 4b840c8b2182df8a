package protocol

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	//go:embed schema/request.schema.json
	requestSchemaJSON string

	//go:embed schema/response.schema.json
	responseSchemaJSON string
)

var (
	schemasOnce    sync.Once
	requestSchema  *jsonschema.Schema
	responseSchema *jsonschema.Schema
)

func loadSchemas() {
	schemasOnce.Do(func() {
		requestSchema = jsonschema.MustCompileString("request.schema.json", requestSchemaJSON)
		responseSchema = jsonschema.MustCompileString("response.schema.json", responseSchemaJSON)
	})
}

// ValidateRequest checks a raw request record against the request schema.
// Decode does not call it; the CLI applies it to every record under --strict.
func ValidateRequest(data []byte) error {
	loadSchemas()
	return validate(requestSchema, data)
}

// ValidateResponse checks a raw response record against the response schema.
func ValidateResponse(data []byte) error {
	loadSchemas()
	return validate(responseSchema, data)
}

func validate(s *jsonschema.Schema, data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("parse record: %w", err)
	}
	if err := s.Validate(instance); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}
