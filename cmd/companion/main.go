package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"basegraph.app/companion/common/id"
	"basegraph.app/companion/common/logger"
	"basegraph.app/companion/core/config"
	"basegraph.app/companion/internal/app"
	"basegraph.app/companion/internal/cli"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "companion",
		Short:         "Coding assistant that plans and edits a project from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCommand(), versionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runCommand() *cobra.Command {
	var (
		yes   bool
		dir   string
		model string
	)

	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run a task in the current project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ServiceTypeCLI)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if dir != "" {
				if cfg.Workspace.Root, err = filepath.Abs(dir); err != nil {
					return fmt.Errorf("resolve project directory: %w", err)
				}
			}
			if model != "" {
				cfg.LargeLLM.Model = model
			}
			if yes {
				cfg.Agent.ApprovalRequired = false
			}

			logger.Setup(cfg, config.ServiceTypeCLI)
			if err := id.Init(1); err != nil {
				return fmt.Errorf("init id generator: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			term := cli.NewTerminal(cmd.InOrStdin(), cmd.OutOrStdout())
			project, err := app.New(ctx, cfg, app.Options{Publisher: term, Approver: term})
			if err != nil {
				return err
			}
			defer project.Close()

			return cli.Run(ctx, project.Sessions, term, args[0])
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "run tools without asking for approval")
	cmd.Flags().StringVarP(&dir, "dir", "C", "", "project directory (default is the current directory)")
	cmd.Flags().StringVar(&model, "model", "", "override the large model")
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "companion %s\n", version)
		},
	}
}

