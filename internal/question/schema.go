package question

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaName is the name under which the page schema is sent to the model API.
const SchemaName = "Questions"

// ErrSchemaMismatch is returned when a model response does not conform to the page schema.
var ErrSchemaMismatch = errors.New("response does not match question schema")

// PageSchema returns the JSON schema of a Page. It is sent to the model as the
// strict structured-output constraint and used locally to validate responses.
func PageSchema() map[string]any {
	str := func() map[string]any { return map[string]any{"type": "string"} }

	step := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"explanation": str(),
			"output":      str(),
		},
		"required": []string{"explanation", "output"},
	}

	props := map[string]any{
		"id":              str(),
		"question":        str(),
		"assertion":       str(),
		"reason":          str(),
		"passage":         str(),
		"a":               str(),
		"b":               str(),
		"c":               str(),
		"d":               str(),
		"final_answer":    str(),
		"solution":        map[string]any{"type": "array", "items": step},
		"topic":           str(),
		"sub_topic":       str(),
		"question_type":   str(),
		"allocated_marks": map[string]any{"type": "integer"},
		"reference_exam":  str(),
	}
	required := []string{
		"id", "question", "assertion", "reason", "passage", "a", "b", "c", "d",
		"final_answer", "solution", "topic", "sub_topic", "question_type",
		"allocated_marks", "reference_exam",
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"questions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties":           props,
					"required":             required,
				},
			},
		},
		"required": []string{"questions"},
	}
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func pageSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		b, err := json.Marshal(PageSchema())
		if err != nil {
			compileErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("page.json", bytes.NewReader(b)); err != nil {
			compileErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiled, compileErr = c.Compile("page.json")
	})
	return compiled, compileErr
}

// ParsePage validates raw model output against the page schema and decodes it.
func ParsePage(data []byte) (Page, error) {
	schema, err := pageSchema()
	if err != nil {
		return Page{}, err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	if err := schema.Validate(v); err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	var p Page
	if err := json.Unmarshal(data, &p); err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	return p, nil
}
