package config

// Version constants for matctl manifests
const (
	// APIVersion is the Kubernetes-style API version for matctl manifests
	APIVersion = "mat.mitre.org/v1alpha1"

	// SchemaVersion is the version string used in schema URLs and paths
	SchemaVersion = "v1alpha1"
)

// Manifest kinds
const (
	KindEngineConfig   = "EngineConfig"
	KindTaskDefinition = "TaskDefinition"
)
