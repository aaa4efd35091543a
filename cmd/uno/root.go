package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/mentalsmash/uno/internal/agent"
)

type ExitCode int

const (
	exitCodeSuccess ExitCode = 0
	exitCodeError   ExitCode = 1
)

const defaultStateDir = "/var/lib/uno"

// Run builds the cobra command tree and executes it, returning a process
// exit code rather than calling os.Exit itself so main stays a one-liner.
func Run() ExitCode {
	rootCmd := &cobra.Command{
		Use:           "uno",
		Short:         "Define, distribute, and run a UVN overlay network.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var verbosity int
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase logging verbosity (repeatable)")
	rootCmd.PersistentFlags().String("state-dir", envWithDefault("UNO_STATE_DIR", defaultStateDir), "directory holding the registry document, cell bundles, and the agent's control socket (env: UNO_STATE_DIR)")
	rootCmd.PersistentFlags().String("uvn-name", os.Getenv("UNO_UVN_NAME"), "name of the UVN being operated on (env: UNO_UVN_NAME)")

	rootCmd.AddCommand(
		newAgentCmd(),
		newDefineCmd(),
		newConfigCmd(),
		newRedeployCmd(),
		newSyncCmd(),
		newRekeyCmd(),
		newBanCmd(),
		newUnbanCmd(),
		newDeleteCmd(),
		newEncryptCmd(),
		newDecryptCmd(),
		newInstallCmd(),
		newUpdateCmd(),
		newServiceCmd(),
		newStatusCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		return exitCodeError
	}
	return exitCodeSuccess
}

func newLogger(verbosity int) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case verbosity >= 2:
		level = slog.LevelDebug
	case verbosity == 1:
		level = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

func envWithDefault(envVar, defaultValue string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return defaultValue
}

// stateDir, uvnName and logging resolve the persistent flags every
// subcommand shares; they're read from cmd.Root() so they work the same
// whether set on the invoked subcommand or the root command itself.
func stateDir(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("state-dir")
	return v
}

func uvnName(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("uvn-name")
	return v
}

func loggerFor(cmd *cobra.Command) *slog.Logger {
	v, _ := cmd.Root().PersistentFlags().GetCount("verbose")
	return newLogger(v)
}

func controlSockPath(cmd *cobra.Command) string {
	return filepath.Join(stateDir(cmd), "control.sock")
}

// withControlClient wraps RunE with a ControlClient dialed at the running
// registry agent's control socket, the pattern every membership/settings
// mutating verb shares.
func withControlClient(f func(ctx context.Context, c *agent.ControlClient, cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		client := agent.NewControlClient(controlSockPath(cmd))
		if err := f(ctx, client, cmd, args); err != nil {
			return fmt.Errorf("uno: %w", err)
		}
		return nil
	}
}
