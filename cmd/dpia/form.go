package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MinBZK/par-dpia-form/internal/answer"
	"github.com/MinBZK/par-dpia-form/internal/model"
	"github.com/spf13/cobra"
)

func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config and every namespace document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			valid := 0
			for _, name := range cfg.NamespaceNames() {
				path := cfg.Namespaces[name]
				doc, err := model.Load(path)
				if err != nil {
					fmt.Fprintf(out, "%s %s: %v\n", errorStyle.Render("FAIL"), name, err)
					continue
				}
				count := 0
				model.Walk(doc.Tasks, func(*model.Task) { count++ })
				fmt.Fprintf(out, "%s %s: %s %s, %d tasks, %d assessments\n",
					okStyle.Render("OK"), name, doc.Name, doc.Version, count, len(doc.Assessments))
				valid++
			}
			if valid == 0 {
				return errors.New("no valid namespace document")
			}
			return nil
		},
	}
}

func (c *cli) showCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show [root-task-id]",
		Short: "Show the visible task tree of the active namespace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(a *app) error {
				root := ""
				if len(args) == 1 {
					root = args[0]
				}
				nodes, err := a.session.Tree("", root)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, nodes)
				}
				n, err := a.session.Namespace("")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%s (%s)", n.Doc.Name, n.Name)))
				fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("current: %s  completed: %s",
					n.CurrentRootTaskID(), strings.Join(n.Completed(), ", "))))
				renderTree(out, nodes, 0)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the tree as JSON")
	return cmd
}

func (c *cli) answerCmd() *cobra.Command {
	var asList, clearAnswer bool
	cmd := &cobra.Command{
		Use:   "answer <instance-id> [value...]",
		Short: "Answer a task instance",
		Long:  "Answer a task instance. Several values, or --list, store a list answer; --clear removes the answer.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, values := args[0], args[1:]
			return c.withApp(cmd, func(a *app) error {
				ctx := cmd.Context()
				if clearAnswer {
					return a.session.ClearAnswer(ctx, "", id)
				}
				var v answer.Value
				switch {
				case asList || len(values) > 1:
					v = answer.List(values...)
				case len(values) == 1:
					v = answer.Text(values[0])
				default:
					return errors.New("a value is required; use --clear to remove an answer")
				}
				if err := a.session.SetAnswer(ctx, "", id, v); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", id, v.String())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asList, "list", false, "store the values as a list")
	cmd.Flags().BoolVar(&clearAnswer, "clear", false, "remove the answer")
	return cmd
}

func (c *cli) addCmd() *cobra.Command {
	var parent string
	cmd := &cobra.Command{
		Use:   "add <task-id>",
		Short: "Add an instance of a repeatable task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(a *app) error {
				id, err := a.session.AddInstance(cmd.Context(), "", args[0], parent)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "parent instance id (defaults to the first instance of the parent task)")
	return cmd
}

func (c *cli) removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <instance-id>",
		Short: "Remove an instance of a repeatable task and its descendants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(a *app) error {
				return a.session.RemoveInstance(cmd.Context(), "", args[0])
			})
		},
	}
}

func (c *cli) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Synchronise mapped instances with their sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(a *app) error {
				report, err := a.session.SyncInstances(cmd.Context(), "")
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %d, removed %d\n", report.Created, report.Removed)
				return nil
			})
		},
	}
}

func (c *cli) pruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete answers whose instance no longer exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(a *app) error {
				removed, err := a.session.Prune(cmd.Context(), "")
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d answers\n", len(removed))
				for _, id := range removed {
					fmt.Fprintln(cmd.OutOrStdout(), "  "+id)
				}
				return nil
			})
		},
	}
}

func (c *cli) navCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nav",
		Short: "Show or change the current root task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(a *app) error { return printPosition(cmd, a) })
		},
	}
	step := func(use, short string, fn func(cmd *cobra.Command, a *app) (bool, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withApp(cmd, func(a *app) error {
					moved, err := fn(cmd, a)
					if err != nil {
						return err
					}
					if !moved {
						fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("already at the edge"))
					}
					return printPosition(cmd, a)
				})
			},
		}
	}
	target := func(use, short string, fn func(cmd *cobra.Command, a *app, id string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <root-task-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withApp(cmd, func(a *app) error {
					if err := fn(cmd, a, args[0]); err != nil {
						return err
					}
					return printPosition(cmd, a)
				})
			},
		}
	}
	cmd.AddCommand(
		step("next", "Move to the next root task", func(cmd *cobra.Command, a *app) (bool, error) {
			return a.session.Next(cmd.Context(), "")
		}),
		step("prev", "Move to the previous root task", func(cmd *cobra.Command, a *app) (bool, error) {
			return a.session.Previous(cmd.Context(), "")
		}),
		target("goto", "Move to a root task", func(cmd *cobra.Command, a *app, id string) error {
			return a.session.GoTo(cmd.Context(), "", id)
		}),
		target("complete", "Mark a root task completed", func(cmd *cobra.Command, a *app, id string) error {
			return a.session.Complete(cmd.Context(), "", id)
		}),
	)
	return cmd
}

func printPosition(cmd *cobra.Command, a *app) error {
	n, err := a.session.Namespace("")
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, id := range n.Index.Roots() {
		t, err := n.Index.Task(id)
		if err != nil {
			return err
		}
		marker := "  "
		if id == n.CurrentRootTaskID() {
			marker = "> "
		}
		status := ""
		if n.IsCompleted(id) {
			status = " " + okStyle.Render("done")
		}
		fmt.Fprintln(out, marker+idStyle.Render(id)+" "+t.Title+status)
	}
	return nil
}

func (c *cli) assessCmd() *cobra.Command {
	var asJSON bool
	var width int
	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Show calculated scores and assessment outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(a *app) error {
				res, err := a.session.Results("")
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, map[string]any{
						"scores":      res.Scores,
						"assessments": res.Assessments,
						"errors":      res.ErrorMessages(),
					})
				}
				fmt.Fprint(out, renderMarkdown(assessmentMarkdown(a.session.Active(), res), width))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	cmd.Flags().IntVar(&width, "width", 80, "word wrap width")
	return cmd
}

func (c *cli) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journalled actions of the active namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(a *app) error {
				if a.store == nil {
					return errors.New("history needs storage.autosave")
				}
				actions, err := a.store.Actions(cmd.Context(), a.session.Active(), limit)
				if err != nil {
					return err
				}
				for _, act := range actions {
					line := fmt.Sprintf("%4d %s %s", act.Seq, idStyle.Render(act.Timestamp), act.Action)
					if act.PayloadJSON != "" {
						line += " " + mutedStyle.Render(act.PayloadJSON)
					}
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "show at most this many recent actions (0 for all)")
	return cmd
}
