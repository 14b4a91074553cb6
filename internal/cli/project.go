package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	cmd.AddCommand(newProjectCreateCmd())
	cmd.AddCommand(newProjectListCmd())
	cmd.AddCommand(newProjectDeleteCmd())
	return cmd
}

func newProjectCreateCmd() *cobra.Command {
	var (
		name          string
		path          string
		maxConcurrent int
		model         string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a git repository as a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || path == "" {
				return fmt.Errorf("--name and --path are required")
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				return err
			}
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			p, err := c.CreateProject(cmd.Context(), name, abs, maxConcurrent, model)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created project %q (%s)\n", p.Name, p.ProjectID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Project name")
	cmd.Flags().StringVar(&path, "path", "", "Path to the git repository")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "Max concurrently running agents (0 = daemon default)")
	cmd.Flags().StringVar(&model, "model", "", "Default model for agents in this project")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func newProjectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			projects, err := c.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No projects")
				return nil
			}
			for _, p := range projects {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", p.ProjectID, p.Name, p.Path)
			}
			return nil
		},
	}
	return cmd
}

func newProjectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project and everything it owns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.DeleteProject(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted project %s\n", args[0])
			return nil
		},
	}
	return cmd
}
