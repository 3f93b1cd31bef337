package config

import (
	"fmt"
	"os"
	"sort"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/workflow"
)

// ConfigValidator validates configuration consistency and references
type ConfigValidator struct {
	config *EngineConfigSpec
	tasks  map[string]*TaskDefinition
	errors []error
	warns  []string
}

// NewConfigValidator creates a new configuration validator
func NewConfigValidator(cfg *EngineConfigSpec) *ConfigValidator {
	return &ConfigValidator{
		config: cfg,
		tasks:  make(map[string]*TaskDefinition),
		errors: make([]error, 0),
		warns:  make([]string, 0),
	}
}

// Validate loads every referenced task definition and checks the
// workflows and defaults against them.
func (v *ConfigValidator) Validate() error {
	v.validateTaskFiles()
	v.validateDefaults()

	if len(v.errors) > 0 {
		return fmt.Errorf("configuration validation failed with %d errors: %v", len(v.errors), v.errors)
	}
	return nil
}

// GetWarnings returns all validation warnings
func (v *ConfigValidator) GetWarnings() []string {
	return v.warns
}

// TaskDefinitions returns the definitions loaded during Validate, by name.
func (v *ConfigValidator) TaskDefinitions() map[string]*TaskDefinition {
	return v.tasks
}

func (v *ConfigValidator) validateTaskFiles() {
	for _, path := range v.config.TaskFiles {
		if _, err := os.Stat(path); err != nil {
			v.errors = append(v.errors, fmt.Errorf("task file %s: %w", path, err))
			continue
		}
		def, err := LoadTaskDefinition(path)
		if err != nil {
			v.errors = append(v.errors, err)
			continue
		}
		if _, dup := v.tasks[def.Name()]; dup {
			v.errors = append(v.errors, fmt.Errorf("task %q defined more than once", def.Name()))
			continue
		}
		v.tasks[def.Name()] = def

		result := workflow.Validate(def.ToTaskSpec())
		for _, e := range result.Errors {
			v.errors = append(v.errors, fmt.Errorf("task %q: %s", def.Name(), e))
		}
		for _, w := range result.Warnings {
			v.warns = append(v.warns, fmt.Sprintf("task %q: %s", def.Name(), w))
		}
		if result.HasErrors() {
			continue
		}
		if _, err := def.Spec.AnnotationSetRepository.Build(); err != nil {
			v.errors = append(v.errors, fmt.Errorf("task %q: %w", def.Name(), err))
		}
	}
}

func (v *ConfigValidator) validateDefaults() {
	if v.config.DefaultTask == "" {
		if v.config.DefaultWorkflow != "" {
			v.warns = append(v.warns, "defaultWorkflow is set without defaultTask")
		}
		return
	}
	def, ok := v.tasks[v.config.DefaultTask]
	if !ok {
		// May still be provided by the backend.
		v.warns = append(v.warns, fmt.Sprintf("default task %q is not defined locally", v.config.DefaultTask))
		return
	}
	if v.config.DefaultWorkflow == "" {
		return
	}
	if _, ok := def.Spec.Workflows[v.config.DefaultWorkflow]; !ok {
		v.errors = append(v.errors, fmt.Errorf("default workflow %q is not a workflow of task %q",
			v.config.DefaultWorkflow, v.config.DefaultTask))
	}
}

// BuildTasks constructs workflow tasks from the loaded definitions.
func (v *ConfigValidator) BuildTasks(opts ...workflow.TaskOption) ([]*workflow.Task, error) {
	tasks := make([]*workflow.Task, 0, len(v.tasks))
	for _, name := range sortedNames(v.tasks) {
		t, err := workflow.NewTask(name, v.tasks[name].ToTaskSpec(), opts...)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
