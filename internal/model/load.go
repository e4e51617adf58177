package model

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// ErrInvalidDocument is returned when a document fails schema validation.
var ErrInvalidDocument = errors.New("invalid form document")

//go:embed document.schema.json
var documentSchemaJSON string

var documentSchema = gojsonschema.NewStringLoader(documentSchemaJSON)

// Load reads a form document from a JSON or YAML file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("parse document %s: %w", path, err)
		}
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return doc, nil
}

// Parse validates a JSON form document and decodes it.
func Parse(data []byte) (*Document, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return &doc, nil
}

// Validate checks a JSON document against the form document schema.
func Validate(data []byte) error {
	result, err := gojsonschema.Validate(documentSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if result.Valid() {
		return nil
	}
	locations := make([]string, 0, len(result.Errors()))
	for _, schemaErr := range result.Errors() {
		locations = append(locations, schemaErr.String())
	}
	sort.Strings(locations)
	return fmt.Errorf("%w: validation failed at: %s", ErrInvalidDocument, strings.Join(locations, "; "))
}

func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return json.Marshal(raw)
}

// EnsureSigningTask appends a conclusion task carrying the signing kind
// unless a root task already has it. The new task's id is its root position.
func EnsureSigningTask(doc *Document) {
	for _, t := range doc.Tasks {
		if t != nil && t.HasKind(KindSigning) {
			return
		}
	}
	doc.Tasks = append(doc.Tasks, &Task{
		ID:    strconv.Itoa(len(doc.Tasks)),
		Title: "Conclusie en ondertekening",
		Kinds: []Kind{KindTaskGroup, KindSigning},
	})
}
