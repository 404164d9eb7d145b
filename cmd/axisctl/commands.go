package main

import (
	"net/url"

	"github.com/spf13/cobra"
)

// run wraps a request returning JSON into a cobra RunE
func run(fn func(c *Client, args []string) ([]byte, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		data, err := fn(newClient(), args)
		if err != nil {
			return err
		}
		outputJSON(cmd.OutOrStdout(), data)
		return nil
	}
}

// --- Task commands ---

func newTaskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Assign and drive tasks",
	}
	cmd.AddCommand(newTaskAssignCommand())
	cmd.AddCommand(&cobra.Command{
		Use:   "get <task-id>",
		Short: "Show a task with its attempts",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(c *Client, args []string) ([]byte, error) {
			return c.get("/api/v1/tasks/"+url.PathEscape(args[0]), nil)
		}),
	})
	for _, action := range []struct{ name, short string }{
		{"execute", "Run the next attempt"},
		{"stop", "Stop a pending or running task"},
		{"reset", "Return a blocked task to pending"},
		{"archive", "Archive a task"},
	} {
		cmd.AddCommand(&cobra.Command{
			Use:   action.name + " <task-id>",
			Short: action.short,
			Args:  cobra.ExactArgs(1),
			RunE: run(func(c *Client, args []string) ([]byte, error) {
				return c.post("/api/v1/tasks/"+url.PathEscape(args[0])+"/"+action.name, nil)
			}),
		})
	}
	return cmd
}

func newTaskAssignCommand() *cobra.Command {
	var (
		roleID      string
		title       string
		description string
		criteria    string
		maxAttempts int
		dependsOn   []string
	)
	cmd := &cobra.Command{
		Use:     "assign",
		Short:   "Assign a task to a role",
		Example: `  axisctl task assign --role=r-1 --title="Launch plan" --criteria="Lists pricing tiers"`,
		RunE: run(func(c *Client, args []string) ([]byte, error) {
			body := map[string]interface{}{
				"role_id":             roleID,
				"title":               title,
				"description":         description,
				"completion_criteria": criteria,
			}
			if maxAttempts > 0 {
				body["max_attempts"] = maxAttempts
			}
			if len(dependsOn) > 0 {
				body["depends_on"] = dependsOn
			}
			return c.post("/api/v1/tasks", body)
		}),
	}
	cmd.Flags().StringVar(&roleID, "role", "", "Role id (required)")
	cmd.Flags().StringVarP(&title, "title", "t", "", "Task title (required)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Task description")
	cmd.Flags().StringVar(&criteria, "criteria", "", "Completion criteria")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Attempt limit (server default when 0)")
	cmd.Flags().StringSliceVar(&dependsOn, "depends-on", nil, "Task ids that must complete first")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

// --- Workflow request commands ---

func newRequestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Review workflow requests",
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List workflow requests",
		RunE: run(func(c *Client, args []string) ([]byte, error) {
			params := companyParams()
			if status != "" {
				params.Set("status", status)
			}
			return c.get("/api/v1/workflow-requests", params)
		}),
	}
	list.Flags().StringVar(&status, "status", "pending", "Filter by status")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "get <request-id>",
		Short: "Show a workflow request",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(c *Client, args []string) ([]byte, error) {
			return c.get("/api/v1/workflow-requests/"+url.PathEscape(args[0]), nil)
		}),
	})
	cmd.AddCommand(newReviewCommand("approve", "Approve a pending request"))
	cmd.AddCommand(newReviewCommand("deny", "Deny a pending request"))
	return cmd
}

func newReviewCommand(action, short string) *cobra.Command {
	var notes, edited string
	cmd := &cobra.Command{
		Use:   action + " <request-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: run(func(c *Client, args []string) ([]byte, error) {
			body := map[string]interface{}{"action": action, "notes": notes}
			if edited != "" {
				body["edited_content"] = edited
			}
			return c.post("/api/v1/workflow-requests/"+url.PathEscape(args[0])+"/review", body)
		}),
	}
	cmd.Flags().StringVar(&notes, "notes", "", "Reviewer notes")
	if action == "approve" {
		cmd.Flags().StringVar(&edited, "edit", "", "Replace the request content before approving")
	}
	return cmd
}

// --- Dead-letter commands ---

func newDLQCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and resolve dead-lettered tasks",
	}

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List dead-letter entries",
		RunE: run(func(c *Client, args []string) ([]byte, error) {
			params := companyParams()
			if all {
				params.Set("all", "true")
			}
			return c.get("/api/v1/dead-letter", params)
		}),
	}
	list.Flags().BoolVar(&all, "all", false, "Include resolved entries")
	cmd.AddCommand(list)

	var notes string
	resolve := &cobra.Command{
		Use:       "resolve <entry-id> <retry|archive>",
		Short:     "Retry or archive a dead-lettered task",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"retry", "archive"},
		RunE: run(func(c *Client, args []string) ([]byte, error) {
			return c.post("/api/v1/dead-letter/"+url.PathEscape(args[0])+"/resolve", map[string]interface{}{
				"resolution": args[1],
				"notes":      notes,
			})
		}),
	}
	resolve.Flags().StringVar(&notes, "notes", "", "Resolution notes")
	cmd.AddCommand(resolve)
	return cmd
}

// --- Loop and output action commands ---

func newLoopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loop",
		Short: "Trigger the autonomous loop",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run <role-id>",
		Short: "Run one loop decision for a role",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(c *Client, args []string) ([]byte, error) {
			return c.post("/api/v1/roles/"+url.PathEscape(args[0])+"/autonomous-loop", nil)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "messages <role-id>",
		Short: "Show a role's recent activity",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(c *Client, args []string) ([]byte, error) {
			return c.get("/api/v1/roles/"+url.PathEscape(args[0])+"/messages", nil)
		}),
	})
	return cmd
}

func newActionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "action",
		Short: "Handle output actions waiting on people or external systems",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <action-id>",
		Short: "Show an output action",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(c *Client, args []string) ([]byte, error) {
			return c.get("/api/v1/output-actions/"+url.PathEscape(args[0]), nil)
		}),
	})

	var notes string
	complete := &cobra.Command{
		Use:   "complete <action-id>",
		Short: "Mark a delegated action done",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(c *Client, args []string) ([]byte, error) {
			return c.post("/api/v1/output-actions/"+url.PathEscape(args[0])+"/complete", map[string]interface{}{"notes": notes})
		}),
	}
	complete.Flags().StringVar(&notes, "notes", "", "Completion notes")
	cmd.AddCommand(complete)
	return cmd
}
