package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/workflow"
)

func (c *cli) newWorkflowCmd() *cobra.Command {
	var listTasks bool
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Show the workflows of a task",
		Long: `Shows the workflows of a task as the engine runs them, including the
synthesized mark gold step, and the patched successor graph used for
rollback.

Examples:
  matctl workflow --task "Named Entity"
  matctl workflow --task "Named Entity" --workflow Demo
  matctl workflow --list`,
		Args: cobra.NoArgs,
		RunE: c.withEngine(func(cmd *cobra.Command, env *engine, _ []string) error {
			ctx := cmd.Context()
			if listTasks {
				names, err := env.tasks.Names(ctx)
				if err != nil {
					return err
				}
				for _, name := range names {
					c.printf("%s\n", name)
				}
				return nil
			}

			task, err := env.Task(ctx, "")
			if err != nil {
				return err
			}
			names := task.WorkflowNames()
			if env.spec.DefaultWorkflow != "" {
				names = []string{env.spec.DefaultWorkflow}
			}
			for _, name := range names {
				wf, ok := task.Workflow(name)
				if !ok {
					return workflowNotFound(task, name)
				}
				c.printWorkflow(wf)
			}
			c.printSuccessors(task)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&listTasks, "list", false, "List known task names")
	return cmd
}

func workflowNotFound(task *workflow.Task, name string) error {
	return fmt.Errorf("%w: %q in task %q", workflow.ErrUnknownWorkflow, name, task.Name())
}

func (c *cli) printWorkflow(wf *workflow.Workflow) {
	c.printf("workflow %s", wf.Name)
	if !wf.UIAvailable {
		c.printf(" (not shown in UI)")
	}
	c.printf("\n")
	if wf.HandAnnotationAvailableAtBeginning {
		c.printf("  hand annotation available at beginning\n")
	}
	for i, step := range wf.Steps {
		var flags []string
		if step.TagStep {
			flags = append(flags, "tag")
		}
		if step.HandAnnotationAvailable {
			flags = append(flags, "hand annotation")
		}
		if step.Synthesized {
			flags = append(flags, "synthesized")
		}
		c.printf("  %d. %s", i+1, step.DisplayName())
		if step.DisplayName() != step.Name {
			c.printf(" [%s]", step.Name)
		}
		if len(flags) > 0 {
			c.printf(" (%s)", strings.Join(flags, ", "))
		}
		c.printf("\n")
	}
	if wf.HandAnnotationAvailableAtEnd {
		c.printf("  hand annotation available at end\n")
	}
}

func (c *cli) printSuccessors(task *workflow.Task) {
	graph := task.SuccessorGraph()
	if len(graph) == 0 {
		return
	}
	c.printf("successors\n")
	for _, step := range slices.Sorted(maps.Keys(graph)) {
		c.printf("  %s -> %s\n", step, strings.Join(graph[step], ", "))
	}
}
