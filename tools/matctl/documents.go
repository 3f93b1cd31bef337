package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/statestore"
)

func (c *cli) newDocumentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "Inspect documents in the configured store",
	}
	cmd.AddCommand(c.newDocumentsListCmd(), c.newDocumentsShowCmd(), c.newDocumentsDeleteCmd())
	return cmd
}

func (c *cli) newDocumentsListCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored document IDs, optionally for one task",
		Args:  cobra.NoArgs,
		RunE: c.withEngine(func(cmd *cobra.Command, env *engine, _ []string) error {
			store, err := env.Store()
			if err != nil {
				return err
			}
			ids, err := store.List(cmd.Context(), statestore.ListOptions{
				Task:   env.spec.DefaultTask,
				Limit:  limit,
				Offset: offset,
			})
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				c.printf("No documents found.\n")
				return nil
			}
			for _, id := range ids {
				doc, err := store.Load(cmd.Context(), id)
				if err != nil {
					fmt.Fprintf(c.errOut, "Error loading document %s: %v\n", id, err)
					continue
				}
				c.printf("%s\t%s\t%s\t%s\n", doc.ID, doc.Task, doc.Workflow, doc.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of documents")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of documents to skip")
	return cmd
}

func (c *cli) newDocumentsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a stored document as MAT-JSON",
		Args:  cobra.ExactArgs(1),
		RunE: c.withEngine(func(cmd *cobra.Command, env *engine, args []string) error {
			store, err := env.Store()
			if err != nil {
				return err
			}
			doc, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load %q: %w", args[0], err)
			}
			data, err := json.MarshalIndent(doc.Data, "", "  ")
			if err != nil {
				return fmt.Errorf("format document %s: %w", doc.ID, err)
			}
			c.printf("%s\n", data)
			return nil
		}),
	}
}

func (c *cli) newDocumentsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored document",
		Args:  cobra.ExactArgs(1),
		RunE: c.withEngine(func(cmd *cobra.Command, env *engine, args []string) error {
			store, err := env.Store()
			if err != nil {
				return err
			}
			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete %q: %w", args[0], err)
			}
			c.printf("deleted %s\n", args[0])
			return nil
		}),
	}
}
