package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mentalsmash/uno/internal/agent"
	"github.com/mentalsmash/uno/internal/registry"
)

// newInstallCmd adopts a `.uvn-agent` package as this host's current
// identity: it validates the package by opening it (so a corrupt or
// wrongly-targeted package never gets persisted) before handing it to
// agent.PersistBundle, the same atomic write a hot reload performs.
func newInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install <package>",
		Short: "Install a .uvn-agent package as this host's current identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return installBundle(cmd, args[0])
		},
	}
	return cmd
}

func newUpdateCmd() *cobra.Command {
	var pkg string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Replace this host's current identity with a freshly fetched package",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pkg == "" {
				return fmt.Errorf("uno: -p/--package is required")
			}
			return installBundle(cmd, pkg)
		},
	}

	cmd.Flags().StringVarP(&pkg, "package", "p", "", "path to the replacement .uvn-agent package")
	return cmd
}

func installBundle(cmd *cobra.Command, path string) error {
	archive, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("uno: reading %s: %w", path, err)
	}
	cfg, pc, err := registry.OpenBundle(archive)
	if err != nil {
		return fmt.Errorf("uno: opening %s: %w", path, err)
	}

	dir := stateDir(cmd)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("uno: creating state directory %s: %w", dir, err)
	}
	if err := agent.PersistBundle(dir, archive); err != nil {
		return fmt.Errorf("uno: installing package: %w", err)
	}

	fmt.Printf("installed package for cell %q (uvn %s) under %s\n", pc.PeerName, cfg.UVN.Name, dir)
	return nil
}
