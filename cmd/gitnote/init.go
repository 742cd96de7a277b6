package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/YusukeImai797/Gitnote"
	"github.com/YusukeImai797/Gitnote/internal/platform"
)

var (
	initGitless  bool
	initMetadata string
	initBus      string
	initForce    bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a gitnote workspace",
	Long: `Initialize a workspace in the current directory (or --dir): writes
.gitnote/gitnote.yaml with the default settings and runs 'git init' unless
--gitless is set.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root := workDir
		if root == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
			root = cwd
		}
		root, err := filepath.Abs(root)
		if err != nil {
			return err
		}

		cfg := gitnote.DefaultConfig()
		cfg.Repository.Gitless = initGitless
		cfg.Metadata.Backend = initMetadata
		cfg.Bus.Backend = initBus
		if err := cfg.Validate(); err != nil {
			return err
		}
		if initForce {
			if _, err := platform.WriteConfig(root, cfg, true); err != nil {
				return err
			}
		}

		ws, err := gitnote.Init(cmd.Context(), root, cfg, gitnote.WithLogger(slog.Default()))
		if err != nil {
			return fmt.Errorf("failed to initialize workspace: %w", err)
		}
		defer closeWorkspace(ws)

		fmt.Fprintln(cmd.OutOrStdout(), "Initialized gitnote workspace in", root)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initGitless, "gitless", false, "Write notes without git commits")
	initCmd.Flags().StringVar(&initMetadata, "metadata", platform.BackendSQLite, "Metadata backend: sqlite, memory or remote")
	initCmd.Flags().StringVar(&initBus, "bus", platform.BackendDir, "Coordination bus: dir, ws or none")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration file")
}
