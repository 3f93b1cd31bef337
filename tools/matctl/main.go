// Command matctl drives annotation documents through task workflows against
// a step backend: it validates manifests and MAT-JSON documents, shows the
// synthesized workflows of a task, advances and rolls back steps, and
// inspects stored documents.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/logger"
)

// Viper keys shared by all subcommands.
const (
	keyConfig   = "config"
	keyBackend  = "backend"
	keyTask     = "task"
	keyWorkflow = "workflow"
	keyVerbose  = "verbose"

	envPrefix         = "MATCTL"
	defaultConfigFile = "matctl.yaml"
)

// cli holds per-invocation state. Tests build a fresh one per command run.
type cli struct {
	v      *viper.Viper
	out    io.Writer
	errOut io.Writer
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New(), out: os.Stdout, errOut: os.Stderr}
	c.v.SetEnvPrefix(envPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	c.v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "matctl",
		Short:         "Annotation workflow engine command-line tool",
		Version:       GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: false,
		Long: `matctl runs annotation documents through the workflows of a task.

Steps run against a backend speaking the steps, undo_through and fetch_tasks
contracts. Tasks come from the backend and from local TaskDefinition
manifests listed in the engine configuration.

Every flag may also be set through the environment with the MATCTL_ prefix,
for example MATCTL_BACKEND=http://localhost:7801/MAT/cgi/MATCGI.cgi.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c.out = cmd.OutOrStdout()
			c.errOut = cmd.ErrOrStderr()
			if c.v.GetBool(keyVerbose) {
				logger.SetVerbose(true)
			}
			return nil
		},
	}
	rootCmd.SetVersionTemplate(GetVersionInfo() + "\n")

	flags := rootCmd.PersistentFlags()
	flags.StringP(keyConfig, "c", "", "Engine configuration file (default "+defaultConfigFile+" when present)")
	flags.String(keyBackend, "", "Backend URL, overrides the configuration")
	flags.StringP(keyTask, "t", "", "Task name, overrides the configured default")
	flags.StringP(keyWorkflow, "w", "", "Workflow name, overrides the configured default")
	flags.BoolP(keyVerbose, "v", false, "Enable debug logging")
	for _, key := range []string{keyConfig, keyBackend, keyTask, keyWorkflow, keyVerbose} {
		_ = c.v.BindPFlag(key, flags.Lookup(key))
	}

	rootCmd.AddCommand(
		c.newValidateCmd(),
		c.newWorkflowCmd(),
		c.newAdvanceCmd(),
		c.newUndoCmd(),
		c.newDocumentsCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Error already printed by cobra
		os.Exit(1)
	}
}

func (c *cli) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}
