package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/document"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/workflow"
)

// sessionOptions are the flags shared by advance and undo.
type sessionOptions struct {
	stored bool
	docID  string
	out    string
	save   bool
	quiet  bool
}

func (o *sessionOptions) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.stored, "stored", false, "Treat the argument as a stored document ID")
	cmd.Flags().StringVar(&o.docID, "doc-id", "", "ID to store the document under (defaults to the stored ID or a new one)")
	cmd.Flags().StringVarP(&o.out, "out", "o", "", "Write the resulting document to this file instead of stdout")
	cmd.Flags().BoolVar(&o.save, "save", false, "Save the resulting document to the configured store")
	cmd.Flags().BoolVarP(&o.quiet, "quiet", "q", false, "Do not print the resulting document")
}

func (c *cli) newAdvanceCmd() *cobra.Command {
	opts := &sessionOptions{}
	var through string
	cmd := &cobra.Command{
		Use:   "advance <document>",
		Short: "Run the next step, or every pending step through --through",
		Long: `Runs workflow steps on a MAT-JSON document. Without --through only the next
step runs. Contiguous backend steps are sent in one request and local steps
such as mark gold run in between.

Examples:
  matctl advance doc.json --task "Named Entity" --workflow Demo
  matctl advance doc.json --through "mark gold" -o doc.tagged.json
  matctl advance 5f0c... --stored --through tag`,
		Args: cobra.ExactArgs(1),
		RunE: c.withEngine(func(cmd *cobra.Command, env *engine, args []string) error {
			ctx := cmd.Context()
			s, err := c.openSession(ctx, env, args[0], opts, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			if through == "" {
				err = s.OneStepForward(ctx)
			} else {
				err = s.AdvanceThrough(ctx, through)
			}
			// Completed steps are kept even when a later one fails.
			if werr := c.finish(ctx, env, s, opts); werr != nil {
				return werr
			}
			return err
		}),
	}
	opts.register(cmd)
	cmd.Flags().StringVar(&through, "through", "", "Run every pending step up to and including this one")
	return cmd
}

func (c *cli) newUndoCmd() *cobra.Command {
	opts := &sessionOptions{}
	var step string
	var yes bool
	cmd := &cobra.Command{
		Use:   "undo <document>",
		Short: "Roll back the current step, or --step and everything after it",
		Long: `Rolls back a done step together with every done step reachable from it in
the successor graph. Local steps such as mark gold are undone without a
backend round trip. Rolling back steps with unsaved hand annotation asks
for confirmation unless --yes is given.

Examples:
  matctl undo doc.json --task "Named Entity" --workflow Demo
  matctl undo doc.json --step zone --yes`,
		Args: cobra.ExactArgs(1),
		RunE: c.withEngine(func(cmd *cobra.Command, env *engine, args []string) error {
			ctx := cmd.Context()
			confirm := c.promptConfirm(cmd.InOrStdin())
			if yes {
				confirm = func(context.Context, []string) bool { return true }
			}
			s, err := c.openSession(ctx, env, args[0], opts, confirm)
			if err != nil {
				return err
			}
			defer s.Close()

			var res *workflow.RollbackResult
			if step == "" {
				res, err = s.OneStepBack(ctx)
			} else {
				res, err = s.Rollback(ctx, step)
			}
			if err != nil {
				return err
			}
			if res.Cancelled {
				fmt.Fprintln(c.errOut, "rollback cancelled")
				return nil
			}
			kind := "backend"
			if res.Virtual {
				kind = "virtual"
			}
			fmt.Fprintf(c.errOut, "undone (%s): %s\n", kind, strings.Join(res.Undone, ", "))
			return c.finish(ctx, env, s, opts)
		}),
	}
	opts.register(cmd)
	cmd.Flags().StringVar(&step, "step", "", "Step to roll back (defaults to the current step)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Discard dirty steps without asking")
	return cmd
}

// openSession loads the document named by ref and opens it in the
// configured task and workflow.
func (c *cli) openSession(
	ctx context.Context, env *engine, ref string, opts *sessionOptions, confirm workflow.ConfirmFunc,
) (*workflow.Session, error) {
	var (
		data                 []byte
		storedTask, storedWF string
		err                  error
	)
	docID := opts.docID
	if opts.stored {
		store, err := env.Store()
		if err != nil {
			return nil, err
		}
		stored, err := store.Load(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("load %q: %w", ref, err)
		}
		data, storedTask, storedWF = stored.Data, stored.Task, stored.Workflow
		if docID == "" {
			docID = stored.ID
		}
	} else if data, err = os.ReadFile(ref); err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	taskName := env.spec.DefaultTask
	if taskName == "" {
		taskName = storedTask
	}
	task, err := env.Task(ctx, taskName)
	if err != nil {
		return nil, err
	}
	wfName := env.spec.DefaultWorkflow
	if wfName == "" {
		wfName = storedWF
	}
	if wfName, err = env.WorkflowName(task, wfName); err != nil {
		return nil, err
	}

	doc, err := document.FromJSONWithMetadata(data, task.Repository())
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	sessionOpts := []workflow.SessionOption{
		workflow.WithTaskConfig(env.spec.TaskConfig),
		workflow.WithDisplay(&statusDisplay{out: c.errOut}),
	}
	if docID != "" {
		sessionOpts = append(sessionOpts, workflow.WithDocumentID(docID))
	}
	if confirm != nil {
		sessionOpts = append(sessionOpts, workflow.WithConfirm(confirm))
	}
	if env.tracer != nil {
		sessionOpts = append(sessionOpts, workflow.WithTracer(env.tracer))
	}
	var be workflow.Backend
	if env.client != nil {
		be = env.client
	}
	return workflow.NewSession(task, wfName, doc, be, sessionOpts...)
}

// finish writes the document where the flags say and saves it when asked.
func (c *cli) finish(ctx context.Context, env *engine, s *workflow.Session, opts *sessionOptions) error {
	if opts.save || opts.stored {
		store, err := env.Store()
		if err != nil {
			return err
		}
		if err := s.Save(ctx, store); err != nil {
			return err
		}
		fmt.Fprintf(c.errOut, "saved as %s\n", s.DocumentID())
	}
	if opts.quiet {
		return nil
	}
	data, err := s.Document().ToJSON()
	if err != nil {
		return err
	}
	if opts.out != "" {
		return os.WriteFile(opts.out, data, 0o600)
	}
	c.printf("%s\n", data)
	return nil
}

// promptConfirm asks on the terminal before dirty steps are discarded.
func (c *cli) promptConfirm(in io.Reader) workflow.ConfirmFunc {
	return func(_ context.Context, dirty []string) bool {
		fmt.Fprintf(c.errOut, "Steps %s have unsaved changes. Discard them? [y/N] ", strings.Join(dirty, ", "))
		answer, _ := bufio.NewReader(in).ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "y" || answer == "yes"
	}
}

// statusDisplay reports the session's position after each operation.
type statusDisplay struct {
	out io.Writer
}

func (d *statusDisplay) Redisplay(doc *document.DocWithMetadata) {
	fmt.Fprintf(d.out, "steps done: %s\n", strings.Join(doc.DoneSteps(), ", "))
}

func (d *statusDisplay) HandAnnotationAvailable(available bool) {
	if available {
		fmt.Fprintln(d.out, "hand annotation available")
	}
}
