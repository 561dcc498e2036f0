package upload

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"callguard/pkg/analysis"
)

// reportSchema validates the model's JSON answer before it is mapped.
var reportSchema = mustCompileReportSchema()

// toJSONSchema converts the model API's schema subset into a JSON Schema
// document, so the response is checked against the schema it was asked for.
func toJSONSchema(s *analysis.Schema) map[string]any {
	doc := map[string]any{"type": strings.ToLower(s.Type)}
	if s.Description != "" {
		doc["description"] = s.Description
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, prop := range s.Properties {
			props[name] = toJSONSchema(prop)
		}
		doc["properties"] = props
	}
	if s.Items != nil {
		doc["items"] = toJSONSchema(s.Items)
	}
	if len(s.Required) > 0 {
		required := make([]any, len(s.Required))
		for i, name := range s.Required {
			required[i] = name
		}
		doc["required"] = required
	}
	return doc
}

func mustCompileReportSchema() *jsonschema.Schema {
	const name = "report.schema.json"

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, toJSONSchema(analysis.ReportSchema(false))); err != nil {
		panic(fmt.Sprintf("failed to add %s resource: %v", name, err))
	}

	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to compile %s: %v", name, err))
	}
	return sch
}

// validateReport checks raw JSON against the report schema
func validateReport(raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	if err := reportSchema.Validate(doc); err != nil {
		return fmt.Errorf("response does not match the report schema: %w", err)
	}
	return nil
}
