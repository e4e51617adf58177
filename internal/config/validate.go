package config

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON string

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
})

// ValidateSettings checks the merged settings (file, env and defaults) against
// the embedded config schema before they are decoded.
func ValidateSettings(settings map[string]any) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(settings))
	if err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var problems []string
	for _, re := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", re.Field(), re.Description()))
	}
	slices.Sort(problems)
	return fmt.Errorf("config schema validation failed: %s", strings.Join(problems, "; "))
}
