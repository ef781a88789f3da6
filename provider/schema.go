package provider

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

const (
	threatsLibrarySchema = "schemas/threats-library.schema.json"
	threatModelSchema    = "schemas/threat-model.schema.json"
	mitigationsSchema    = "schemas/mitigations.schema.json"
)

var (
	schemasMu sync.Mutex
	schemas   = make(map[string]*gojsonschema.Schema)

	validate = validator.New()
)

// loadSchema compiles an embedded schema once.
func loadSchema(name string) (*gojsonschema.Schema, error) {
	schemasMu.Lock()
	defer schemasMu.Unlock()

	if schema, ok := schemas[name]; ok {
		return schema, nil
	}
	data, err := schemaFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", name, err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	schemas[name] = schema
	return schema, nil
}

// decodeDocument validates a YAML or JSON document against the named schema,
// decodes it into out and runs struct validation on the result.
func decodeDocument(data []byte, schemaName string, out interface{}) error {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}
	if raw == nil {
		return errors.New("document is empty")
	}

	schema, err := loadSchema(schemaName)
	if err != nil {
		return err
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return fmt.Errorf("failed to validate document against schema: %w", err)
	}
	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}
		return fmt.Errorf("schema validation failed: %s", strings.Join(messages, "; "))
	}

	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		messages = append(messages, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(messages, "; "))
}
