package config

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// SchemaBaseURL is the base URL of the published matctl JSON schemas
const SchemaBaseURL = "https://mat.mitre.org/schemas/" + SchemaVersion

const errorFormat = "  - %s"

//go:embed schemas/*.json
var schemaFS embed.FS

// ConfigType represents the type of configuration file
type ConfigType string

const (
	ConfigTypeEngine         ConfigType = "engineconfig"
	ConfigTypeTaskDefinition ConfigType = "taskdefinition"
	// ConfigTypeDocument is a MAT-JSON annotated document.
	ConfigTypeDocument ConfigType = "matjson"
)

// SchemaValidationError represents a validation error from JSON schema validation
type SchemaValidationError struct {
	Field       string
	Description string
	Value       interface{}
}

// Error implements the error interface
func (e SchemaValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("%s: %s (value: %v)", e.Field, e.Description, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Description)
}

// SchemaValidationResult contains the results of schema validation
type SchemaValidationResult struct {
	Valid  bool
	Errors []SchemaValidationError
}

// Err folds an invalid result into one error naming every violation.
func (r *SchemaValidationResult) Err(what string) error {
	if r.Valid {
		return nil
	}
	messages := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		messages = append(messages, fmt.Sprintf(errorFormat, e.Error()))
	}
	return fmt.Errorf("%s does not match schema:\n%s", what, strings.Join(messages, "\n"))
}

var (
	schemaMu    sync.Mutex
	schemaCache = map[ConfigType]*gojsonschema.Schema{}
)

func compiledSchema(configType ConfigType) (*gojsonschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	if s, ok := schemaCache[configType]; ok {
		return s, nil
	}
	raw, err := schemaFS.ReadFile("schemas/" + string(configType) + ".json")
	if err != nil {
		return nil, fmt.Errorf("unknown configuration type %q", configType)
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s schema: %w", configType, err)
	}
	schemaCache[configType] = s
	return s, nil
}

// ValidateWithSchema validates YAML (or JSON) data against an embedded schema
func ValidateWithSchema(yamlData []byte, configType ConfigType) (*SchemaValidationResult, error) {
	jsonData, err := yamlToJSON(yamlData)
	if err != nil {
		return nil, err
	}
	return validateJSON(jsonData, configType)
}

func validateJSON(jsonData []byte, configType ConfigType) (*SchemaValidationResult, error) {
	s, err := compiledSchema(configType)
	if err != nil {
		return nil, err
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	validationResult := &SchemaValidationResult{
		Valid:  result.Valid(),
		Errors: make([]SchemaValidationError, 0),
	}
	for _, err := range result.Errors() {
		validationResult.Errors = append(validationResult.Errors, SchemaValidationError{
			Field:       err.Field(),
			Description: err.Description(),
			Value:       err.Value(),
		})
	}
	return validationResult, nil
}

// ValidateEngineConfig validates an EngineConfig manifest against its schema
func ValidateEngineConfig(yamlData []byte) error {
	result, err := ValidateWithSchema(yamlData, ConfigTypeEngine)
	if err != nil {
		return err
	}
	return result.Err("engine configuration")
}

// ValidateTaskDefinition validates a TaskDefinition manifest against its schema
func ValidateTaskDefinition(yamlData []byte) error {
	result, err := ValidateWithSchema(yamlData, ConfigTypeTaskDefinition)
	if err != nil {
		return err
	}
	return result.Err("task definition")
}

// ValidateDocument checks the structure of a MAT-JSON document before it is
// decoded. Semantic checks (attribute kinds, references) happen on load.
func ValidateDocument(jsonData []byte) (*SchemaValidationResult, error) {
	if !json.Valid(jsonData) {
		return nil, fmt.Errorf("document is not valid JSON")
	}
	return validateJSON(jsonData, ConfigTypeDocument)
}

// DetectConfigType attempts to detect the configuration type from YAML data
func DetectConfigType(yamlData []byte) (ConfigType, error) {
	var data map[string]interface{}
	if err := yaml.Unmarshal(yamlData, &data); err != nil {
		return "", fmt.Errorf("failed to parse YAML: %w", err)
	}

	if kind, ok := data["kind"].(string); ok {
		switch kind {
		case KindEngineConfig:
			return ConfigTypeEngine, nil
		case KindTaskDefinition:
			return ConfigTypeTaskDefinition, nil
		}
	}
	if _, ok := data["signal"]; ok {
		return ConfigTypeDocument, nil
	}

	return "", fmt.Errorf("unable to detect configuration type: missing or unknown 'kind' field")
}

func yamlToJSON(yamlData []byte) ([]byte, error) {
	var data interface{}
	if err := yaml.Unmarshal(yamlData, &data); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to convert to JSON: %w", err)
	}
	return jsonData, nil
}
