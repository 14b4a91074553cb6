package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
	}
	cmd.AddCommand(newAgentCreateCmd())
	cmd.AddCommand(newAgentListCmd())
	cmd.AddCommand(newAgentStartCmd())
	cmd.AddCommand(newAgentStopCmd())
	cmd.AddCommand(newAgentPauseCmd())
	cmd.AddCommand(newAgentResumeCmd())
	cmd.AddCommand(newAgentRunsCmd())
	return cmd
}

func newAgentCreateCmd() *cobra.Command {
	var (
		project  string
		name     string
		model    string
		maxTurns int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an agent in a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if project == "" || name == "" {
				return fmt.Errorf("--project and --name are required")
			}
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			a, err := c.CreateAgent(cmd.Context(), project, name, model, maxTurns)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created agent %q (%s)\n", a.Name, a.AgentID)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project ID")
	cmd.Flags().StringVar(&name, "name", "", "Agent name")
	cmd.Flags().StringVar(&model, "model", "", "Model override for this agent")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 0, "Turn ceiling per run (0 = daemon default)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newAgentListCmd() *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents in a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if project == "" {
				return fmt.Errorf("--project is required")
			}
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			agents, err := c.ListAgents(cmd.Context(), project)
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No agents")
				return nil
			}
			for _, a := range agents {
				task := "-"
				if a.TaskID != nil {
					task = *a.TaskID
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s  task=%s\n", a.AgentID, a.Name, a.Status, task)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project ID")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newAgentStartCmd() *cobra.Command {
	var taskID string

	cmd := &cobra.Command{
		Use:   "start <agent-id>",
		Short: "Start an agent on a task (newest backlog task when --task is omitted)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			res, err := c.StartAgent(cmd.Context(), args[0], taskID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Started agent %s on task %q\n", res.Agent.AgentID, res.Task.Title)
			_, _ = fmt.Fprintf(out, "Session:  %s\n", res.Session.SessionID)
			_, _ = fmt.Fprintf(out, "Worktree: %s (%s)\n", res.Worktree.Path, res.Worktree.Branch)
			_, _ = fmt.Fprintf(out, "Follow with: claudorc tail %s\n", res.Session.SessionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "Task ID (default: newest backlog task)")
	return cmd
}

func newAgentStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <agent-id>",
		Short: "Abort an agent's active run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.StopAgent(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stopped agent %s\n", args[0])
			return nil
		},
	}
	return cmd
}

func newAgentPauseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pause <agent-id>",
		Short: "Pause an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.PauseAgent(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Paused agent %s\n", args[0])
			return nil
		},
	}
	return cmd
}

func newAgentResumeCmd() *cobra.Command {
	var feedback string

	cmd := &cobra.Command{
		Use:   "resume <agent-id>",
		Short: "Resume a paused agent, optionally with correction feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.ResumeAgent(cmd.Context(), args[0], feedback); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Resumed agent %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "Correction feedback recorded on the session")
	return cmd
}

func newAgentRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs <agent-id>",
		Short: "Show an agent's run history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			runs, err := c.ListRuns(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No runs")
				return nil
			}
			for _, r := range runs {
				line := fmt.Sprintf("%s  %-10s  turns=%d tokens=%d  started=%s",
					r.RunID, r.Status, r.TurnsUsed, r.TokensUsed, r.StartedAt.Format("2006-01-02 15:04:05"))
				if r.Error != nil {
					line += "  error=" + *r.Error
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Max runs to show")
	return cmd
}
