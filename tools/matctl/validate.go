package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/pkg/config"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/document"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/schema"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/workflow"
)

const typeAuto = "auto"

type validateOptions struct {
	configType string
	schemaOnly bool
	verbose    bool
}

func (c *cli) newValidateCmd() *cobra.Command {
	opts := &validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate manifests and MAT-JSON documents",
		Long: `Validates EngineConfig and TaskDefinition manifests and MAT-JSON documents
against their JSON schemas, then checks what the schemas cannot express.

The file type is detected from its 'kind' field (or 'signal' for documents)
unless --type is given. Documents are loaded against the annotation types of
--task when one is given, so attribute values and references are checked too.

Examples:
  matctl validate matctl.yaml
  matctl validate tasks/named-entity.yaml
  matctl validate doc.json --task "Named Entity"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runValidate(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.configType, "type", typeAuto, "File type: auto, engineconfig, taskdefinition, matjson")
	cmd.Flags().BoolVar(&opts.schemaOnly, "schema-only", false, "Only validate schema, skip semantic checks")
	cmd.Flags().BoolVar(&opts.verbose, "details", false, "Show offending values with schema errors")
	return cmd
}

func (c *cli) runValidate(cmd *cobra.Command, filePath string, opts *validateOptions) error {
	data, configType, err := prepareValidation(filePath, opts.configType)
	if err != nil {
		return err
	}

	c.printf("Validating %s as type '%s'...\n", filepath.Base(filePath), configType)
	var result *config.SchemaValidationResult
	if configType == config.ConfigTypeDocument {
		result, err = config.ValidateDocument(data)
	} else {
		result, err = config.ValidateWithSchema(data, configType)
	}
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if !result.Valid {
		c.printf("Schema validation failed for %s:\n", filePath)
		c.displayErrors(result.Errors, opts.verbose)
		return fmt.Errorf("schema validation failed with %d error(s)", len(result.Errors))
	}
	if opts.schemaOnly {
		c.printf("%s is valid\n", filepath.Base(filePath))
		return nil
	}

	switch configType {
	case config.ConfigTypeEngine:
		err = c.validateEngine(filePath)
	case config.ConfigTypeTaskDefinition:
		err = c.validateTask(data)
	case config.ConfigTypeDocument:
		err = c.validateDocument(cmd, data)
	}
	if err != nil {
		return err
	}
	c.printf("%s is valid\n", filepath.Base(filePath))
	return nil
}

func prepareValidation(filePath, requested string) ([]byte, config.ConfigType, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("file not found: %s", filePath)
		}
		return nil, "", fmt.Errorf("failed to read file: %w", err)
	}
	if requested != typeAuto && requested != "" {
		return data, config.ConfigType(requested), nil
	}
	detected, err := config.DetectConfigType(data)
	if err != nil {
		return nil, "", fmt.Errorf("could not auto-detect file type: %w\nUse --type to specify explicitly", err)
	}
	return data, detected, nil
}

func (c *cli) displayErrors(errs []config.SchemaValidationError, verbose bool) {
	for _, e := range errs {
		if verbose {
			c.printf("  - %s\n", e.Error())
			continue
		}
		c.printf("  - %s: %s\n", e.Field, e.Description)
	}
}

func (c *cli) validateEngine(filePath string) error {
	cfg, err := config.LoadEngineConfig(filePath)
	if err != nil {
		return err
	}
	validator := config.NewConfigValidator(&cfg.Spec)
	err = validator.Validate()
	for _, w := range validator.GetWarnings() {
		c.printf("warning: %s\n", w)
	}
	return err
}

func (c *cli) validateTask(data []byte) error {
	def, err := config.ParseTaskDefinition(data)
	if err != nil {
		return err
	}
	spec := def.ToTaskSpec()
	result := workflow.Validate(spec)
	for _, w := range result.Warnings {
		c.printf("warning: %s\n", w)
	}
	task, err := workflow.NewTask(def.Name(), spec)
	if err != nil {
		return err
	}
	c.printf("task %q (version %s): %d workflow(s)\n", task.Name(), def.Spec.Version, len(task.WorkflowNames()))
	return nil
}

// validateDocument loads the document, against the task's types when a
// task is named and resolvable.
func (c *cli) validateDocument(cmd *cobra.Command, data []byte) error {
	var repo *schema.Repository
	if c.v.GetString(keyTask) != "" {
		env, err := c.engine(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = env.Close(cmd.Context()) }()
		task, err := env.Task(cmd.Context(), "")
		if err != nil {
			return err
		}
		repo = task.Repository()
	}
	doc, err := document.FromJSONWithMetadata(data, repo)
	if err != nil {
		return fmt.Errorf("document does not load: %w", err)
	}
	c.printf("%d annotation(s), steps done: %v\n", len(doc.AllAnnotations()), doc.DoneSteps())
	return nil
}
