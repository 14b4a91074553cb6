package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(newTaskCreateCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskShowCmd())
	cmd.AddCommand(newTaskMoveCmd())
	cmd.AddCommand(newTaskApproveCmd())
	return cmd
}

func newTaskCreateCmd() *cobra.Command {
	var (
		project string
		title   string
		prompt  string
		model   string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a backlog task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if project == "" || title == "" || prompt == "" {
				return fmt.Errorf("--project, --title, and --prompt are required")
			}
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			var m *string
			if model != "" {
				m = &model
			}
			task, err := c.CreateTask(cmd.Context(), project, title, prompt, m)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created task %q (%s)\n", task.Title, task.TaskID)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project ID")
	cmd.Flags().StringVar(&title, "title", "", "Task title")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Instruction prompt for the agent")
	cmd.Flags().StringVar(&model, "model", "", "Model override for this task")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var (
		project string
		column  string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks in a project, optionally filtered by board column",
		RunE: func(cmd *cobra.Command, args []string) error {
			if project == "" {
				return fmt.Errorf("--project is required")
			}
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			tasks, err := c.ListTasks(cmd.Context(), project, column, limit)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No tasks")
				return nil
			}
			for _, task := range tasks {
				agent := "-"
				if task.AgentID != nil {
					agent = *task.AgentID
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %-16s  agent=%s  %s\n", task.TaskID, task.Column, agent, task.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project ID")
	cmd.Flags().StringVar(&column, "column", "", "Filter by column (backlog, in_progress, waiting_approval, verified, cancelled)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max tasks to show")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newTaskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task, including its plan when present",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			task, err := c.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Task:    %s\n", task.TaskID)
			_, _ = fmt.Fprintf(out, "Title:   %s\n", task.Title)
			_, _ = fmt.Fprintf(out, "Column:  %s\n", task.Column)
			if task.AgentID != nil {
				_, _ = fmt.Fprintf(out, "Agent:   %s\n", *task.AgentID)
			}
			if task.SessionID != nil {
				_, _ = fmt.Fprintf(out, "Session: %s\n", *task.SessionID)
			}
			if task.WorktreePath != nil {
				_, _ = fmt.Fprintf(out, "Worktree: %s\n", *task.WorktreePath)
			}
			if task.Plan != nil {
				_, _ = fmt.Fprintf(out, "Plan:\n%s\n", *task.Plan)
			}
			return nil
		},
	}
	return cmd
}

func newTaskMoveCmd() *cobra.Command {
	var column string

	cmd := &cobra.Command{
		Use:   "move <task-id>",
		Short: "Move a task to another board column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if column == "" {
				return fmt.Errorf("--column is required")
			}
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.MoveTask(cmd.Context(), args[0], column); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Task %s moved to %q\n", args[0], column)
			return nil
		},
	}
	cmd.Flags().StringVar(&column, "column", "", "Target column (backlog, in_progress, waiting_approval, verified, cancelled)")
	_ = cmd.MarkFlagRequired("column")
	return cmd
}

func newTaskApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <task-id>",
		Short: "Approve a waiting task (move it to verified)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.MoveTask(cmd.Context(), args[0], "verified"); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Task %s approved\n", args[0])
			return nil
		},
	}
	return cmd
}
