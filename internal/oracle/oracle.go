// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package oracle sends prompts to a language model. Free-text answers are
// returned as-is for best-effort matching; structured answers are decoded
// and validated against a JSON schema, and a response that does not match
// is an error.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	// ErrSchemaViolation is returned when a structured response is not
	// valid JSON or does not satisfy its schema.
	ErrSchemaViolation = errors.New("response does not match schema")

	// ErrEmptyResponse is returned when the model produces no content.
	ErrEmptyResponse = errors.New("empty model response")
)

// Oracle is a language model the stage processors consult.
type Oracle interface {
	Complete(ctx context.Context, p Prompt) (string, error)
	Structured(ctx context.Context, p Prompt, schema *Schema) (map[string]any, error)
}

// Prompt is one system plus user message exchange. An empty System uses
// the backend's configured system prompt.
type Prompt struct {
	System string
	User   string
}

// Schema is a compiled JSON schema together with its source text, which is
// shown to the model.
type Schema struct {
	Name     string
	Source   string
	compiled *jsonschema.Schema
}

// CompileSchema compiles source as a draft 2020-12 schema.
func CompileSchema(name, source string) (*Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://consequence-pipeline.local/schemas/%s.json", name)
	if err := c.AddResource(schemaURL, strings.NewReader(source)); err != nil {
		return nil, fmt.Errorf("loading schema %s: %w", name, err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compiling schema %s: %w", name, err)
	}
	return &Schema{Name: name, Source: source, compiled: compiled}, nil
}

// MustCompileSchema is CompileSchema for package-level schemas.
func MustCompileSchema(name, source string) *Schema {
	s, err := CompileSchema(name, source)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode parses raw model output into an object and validates it.
func (s *Schema) Decode(raw string) (map[string]any, error) {
	text := stripFences(raw)

	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", s.Name, ErrSchemaViolation, err)
	}
	if err := s.compiled.Validate(v); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", s.Name, ErrSchemaViolation, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: %w: not an object", s.Name, ErrSchemaViolation)
	}
	return obj, nil
}

// stripFences removes a surrounding markdown code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
