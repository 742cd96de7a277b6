package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/YusukeImai797/Gitnote"
)

var (
	verbose bool
	logFile string
	workDir string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gitnote",
	Short: "Notes kept in sync across a local cache, a metadata store and a git repository",
	Long: `gitnote edits Markdown notes locally and syncs them to an authoritative
metadata store and a repository (a git work tree or GitHub). Conflicting
writes are detected and left for you to resolve.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}

		var out io.Writer = os.Stderr
		if logFile != "" {
			out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
				Filename:   logFile,
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     28,
			})
		}
		logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	},
}

// Execute runs the root command until it finishes or the process is
// interrupted. This is called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file, rotated by size")
	rootCmd.PersistentFlags().StringVarP(&workDir, "dir", "C", "", "Workspace directory (default: search upwards from the current directory)")
}

// workspaceRoot returns --dir, or the closest workspace above the current
// directory.
func workspaceRoot() (string, error) {
	if workDir != "" {
		return filepath.Abs(workDir)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	root, err := gitnote.FindRoot(cwd)
	if err != nil {
		return "", fmt.Errorf("%w (run 'gitnote init' first)", err)
	}
	return root, nil
}

func openWorkspace(ctx context.Context, opts ...gitnote.Option) (*gitnote.Workspace, error) {
	root, err := workspaceRoot()
	if err != nil {
		return nil, err
	}
	opts = append([]gitnote.Option{gitnote.WithLogger(slog.Default())}, opts...)
	ws, err := gitnote.Open(ctx, root, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace: %w", err)
	}
	return ws, nil
}

func closeWorkspace(ws *gitnote.Workspace) {
	if err := ws.Close(); err != nil {
		slog.Warn("failed to close workspace", "error", err)
	}
}
