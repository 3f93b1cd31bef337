package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/pkg/config"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/pkg/httputil"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/backend"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/logger"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/metrics/prometheus"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/statestore"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/telemetry"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/workflow"
)

var errNoBackend = errors.New("no backend configured: set backend.url or --backend")

// engine is everything a command needs beyond its flags, built from the
// engine configuration.
type engine struct {
	spec   *config.EngineConfigSpec
	client *backend.Client
	tasks  *workflow.TaskCache
	tracer trace.Tracer

	storeOpened bool
	store       statestore.Store
	closeStore  func() error

	tp       *sdktrace.TracerProvider
	exporter *prometheus.Exporter
}

// loadSpec reads the engine configuration named by --config, or the default
// file when it exists, and applies flag overrides.
func (c *cli) loadSpec() (*config.EngineConfigSpec, error) {
	path := c.v.GetString(keyConfig)
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}

	spec := config.DefaultEngineConfig()
	if path != "" {
		cfg, err := config.LoadEngineConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		spec = cfg.Spec
	}

	if url := c.v.GetString(keyBackend); url != "" {
		spec.Backend.URL = url
	}
	if task := c.v.GetString(keyTask); task != "" {
		spec.DefaultTask = task
	}
	if wf := c.v.GetString(keyWorkflow); wf != "" {
		spec.DefaultWorkflow = wf
	}
	return &spec, nil
}

// withEngine builds the engine before fn runs and releases it afterwards.
func (c *cli) withEngine(
	fn func(cmd *cobra.Command, env *engine, args []string) error,
) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		env, err := c.engine(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, env.Close(cmd.Context()))
		}()
		return fn(cmd, env, args)
	}
}

// engine builds the command environment. Anything opened before a failure
// is released.
func (c *cli) engine(ctx context.Context) (env *engine, err error) {
	spec, err := c.loadSpec()
	if err != nil {
		return nil, err
	}
	if err := spec.Logging.Apply(); err != nil {
		return nil, err
	}
	if c.v.GetBool(keyVerbose) {
		logger.SetVerbose(true)
	}

	env = &engine{spec: spec}
	defer func() {
		if err != nil {
			_ = env.Close(ctx)
			env = nil
		}
	}()

	if spec.Tracing != nil {
		tp, err := telemetry.NewTracerProvider(ctx, spec.Tracing.Endpoint, spec.Tracing.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("tracing: %w", err)
		}
		telemetry.SetupPropagation()
		env.tp = tp
		env.tracer = telemetry.Tracer(tp)
	}

	if spec.Metrics != nil {
		env.exporter = prometheus.NewExporter(spec.Metrics.Address, prometheus.WithPath(spec.Metrics.Path))
		go func() {
			if err := env.exporter.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics exporter stopped", "error", err)
			}
		}()
	}

	var fetcher workflow.TaskFetcher
	if spec.Backend.URL != "" {
		timeout, err := spec.BackendTimeout()
		if err != nil {
			return nil, err
		}
		opts := []backend.ClientOption{
			backend.WithHTTPClient(httputil.NewTracedHTTPClient(timeout)),
			backend.WithConfig(spec.TaskConfig),
		}
		if env.tracer != nil {
			opts = append(opts, backend.WithTracer(env.tracer))
		}
		env.client = backend.NewClient(spec.Backend.URL, opts...)
		fetcher = env.client
	}

	env.tasks = workflow.NewTaskCache(fetcher)
	if len(spec.TaskFiles) > 0 {
		validator := config.NewConfigValidator(spec)
		if err := validator.Validate(); err != nil {
			return nil, err
		}
		for _, w := range validator.GetWarnings() {
			logger.Warn("task definition", "warning", w)
		}
		local, err := validator.BuildTasks()
		if err != nil {
			return nil, err
		}
		for _, t := range local {
			env.tasks.AddTask(t)
		}
	}
	return env, nil
}

// Store opens the configured document store on first use.
func (e *engine) Store() (statestore.Store, error) {
	if e.storeOpened {
		return e.store, nil
	}
	store, closeFn, err := e.spec.StateStore.OpenStore()
	if err != nil {
		return nil, err
	}
	e.store, e.closeStore, e.storeOpened = store, closeFn, true
	return store, nil
}

// Backend returns the backend client, or an error when none is configured.
func (e *engine) Backend() (*backend.Client, error) {
	if e.client == nil {
		return nil, errNoBackend
	}
	return e.client, nil
}

// Task resolves the named task, or the configured default.
func (e *engine) Task(ctx context.Context, name string) (*workflow.Task, error) {
	if name == "" {
		name = e.spec.DefaultTask
	}
	if name == "" {
		return nil, fmt.Errorf("no task given: use --task or set defaultTask")
	}
	return e.tasks.Task(ctx, name)
}

// WorkflowName returns name, the configured default, or the task's only
// workflow.
func (e *engine) WorkflowName(task *workflow.Task, name string) (string, error) {
	if name == "" {
		name = e.spec.DefaultWorkflow
	}
	if name != "" {
		return name, nil
	}
	names := task.WorkflowNames()
	if len(names) == 1 {
		return names[0], nil
	}
	return "", fmt.Errorf("task %q has %d workflows: use --workflow", task.Name(), len(names))
}

// Close releases the store, flushes spans and stops the metrics exporter.
func (e *engine) Close(ctx context.Context) error {
	var errs []error
	if e.closeStore != nil {
		errs = append(errs, e.closeStore())
	}
	if e.tp != nil {
		errs = append(errs, e.tp.Shutdown(ctx))
	}
	if e.exporter != nil {
		errs = append(errs, e.exporter.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
