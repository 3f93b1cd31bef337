package config

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/schema"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/workflow"
)

// State store types
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// Defaults applied by DefaultEngineConfig and LoadEngineConfig.
const (
	DefaultBackendTimeout = "120s"
	DefaultMetricsPath    = "/metrics"
	DefaultSQLitePath     = "mat-documents.db"
)

// EngineConfig is the K8s-style manifest for a matctl engine.
type EngineConfig struct {
	APIVersion string            `json:"apiVersion" yaml:"apiVersion"`
	Kind       string            `json:"kind" yaml:"kind"`
	Metadata   metav1.ObjectMeta `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Spec       EngineConfigSpec  `json:"spec" yaml:"spec"`
}

// EngineConfigSpec holds everything a session needs outside the document:
// where the backend lives, where documents are stored and how the engine
// reports on itself.
type EngineConfigSpec struct {
	Backend         BackendConfig     `json:"backend" yaml:"backend"`
	DefaultTask     string            `json:"defaultTask,omitempty" yaml:"defaultTask,omitempty"`
	DefaultWorkflow string            `json:"defaultWorkflow,omitempty" yaml:"defaultWorkflow,omitempty"`
	TaskConfig      map[string]string `json:"taskConfig,omitempty" yaml:"taskConfig,omitempty"`
	// TaskFiles are TaskDefinition manifests added to the task cache
	// alongside whatever the backend reports. Relative paths resolve
	// against the manifest's directory.
	TaskFiles  []string          `json:"taskFiles,omitempty" yaml:"taskFiles,omitempty"`
	StateStore StateStoreConfig  `json:"stateStore,omitempty" yaml:"stateStore,omitempty"`
	Metrics    *MetricsConfig    `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing    *TracingConfig    `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Logging    LoggingConfigSpec `json:"logging,omitempty" yaml:"logging,omitempty"`

	// ConfigDir is the directory the manifest was loaded from.
	ConfigDir string `json:"-" yaml:"-"`
}

// BackendConfig locates the step backend.
type BackendConfig struct {
	URL string `json:"url" yaml:"url"`
	// Timeout is a Go duration string.
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// StateStoreConfig selects the document store.
type StateStoreConfig struct {
	Type   string             `json:"type,omitempty" yaml:"type,omitempty"`
	Redis  *RedisStoreConfig  `json:"redis,omitempty" yaml:"redis,omitempty"`
	SQLite *SQLiteStoreConfig `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
}

// RedisStoreConfig configures the Redis document store.
type RedisStoreConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db,omitempty" yaml:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	TTL      string `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

// SQLiteStoreConfig configures the SQLite document store.
type SQLiteStoreConfig struct {
	Path string `json:"path" yaml:"path"`
}

// MetricsConfig enables the Prometheus exporter.
type MetricsConfig struct {
	Address string `json:"address" yaml:"address"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// TracingConfig enables OTLP trace export.
type TracingConfig struct {
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
	ServiceName string `json:"serviceName,omitempty" yaml:"serviceName,omitempty"`
}

// TaskDefinition is an offline task description, equivalent to one entry of
// the backend's fetch_tasks metadata.
type TaskDefinition struct {
	APIVersion string             `json:"apiVersion" yaml:"apiVersion"`
	Kind       string             `json:"kind" yaml:"kind"`
	Metadata   metav1.ObjectMeta  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Spec       TaskDefinitionSpec `json:"spec" yaml:"spec"`
}

// TaskDefinitionSpec mirrors workflow.TaskSpec with a semantic version.
type TaskDefinitionSpec struct {
	Version                 string                           `json:"version" yaml:"version"`
	Description             string                           `json:"description,omitempty" yaml:"description,omitempty"`
	Implementation          string                           `json:"taskImplementation,omitempty" yaml:"taskImplementation,omitempty"`
	AnnotationSetRepository schema.RepositorySpec            `json:"annotationSetRepository" yaml:"annotationSetRepository"`
	Workflows               map[string]workflow.WorkflowSpec `json:"workflows" yaml:"workflows"`
	StepSuccessors          map[string][]string              `json:"stepSuccessors,omitempty" yaml:"stepSuccessors,omitempty"`
}

// Name returns the task name from the manifest metadata.
func (t *TaskDefinition) Name() string {
	return t.Metadata.Name
}

// ToTaskSpec converts the definition into the structure fetch_tasks returns.
func (t *TaskDefinition) ToTaskSpec() *workflow.TaskSpec {
	return &workflow.TaskSpec{
		AnnotationSetRepository: t.Spec.AnnotationSetRepository,
		Workflows:               t.Spec.Workflows,
		StepSuccessors:          t.Spec.StepSuccessors,
		Implementation:          t.Spec.Implementation,
	}
}

// DefaultEngineConfig returns an engine spec with an in-memory store.
func DefaultEngineConfig() EngineConfigSpec {
	return EngineConfigSpec{
		Backend:    BackendConfig{Timeout: DefaultBackendTimeout},
		StateStore: StateStoreConfig{Type: StoreMemory},
		Logging:    DefaultLoggingConfig(),
	}
}
