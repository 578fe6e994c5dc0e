package curriculum

import (
	"embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema/*.json
var schemaFS embed.FS

type schemas struct {
	section *gojsonschema.Schema
	bank    *gojsonschema.Schema
}

func compileSchemas() (*schemas, error) {
	section, err := compileSchema("schema/section.schema.json")
	if err != nil {
		return nil, err
	}
	bank, err := compileSchema("schema/bank.schema.json")
	if err != nil {
		return nil, err
	}
	return &schemas{section: section, bank: bank}, nil
}

func compileSchema(name string) (*gojsonschema.Schema, error) {
	data, err := schemaFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", name, err)
	}
	return s, nil
}

// validateDocument checks a decoded YAML document against a schema.
func validateDocument(schema *gojsonschema.Schema, doc any) error {
	res, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrSchema, strings.Join(msgs, "; "))
}
