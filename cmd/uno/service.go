package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
)

// No library in this codebase's dependency pack renders or installs
// systemd units, so this one corner of the CLI falls back to
// text/template and a raw file write rather than an ecosystem library
// (see DESIGN.md).
const unitTemplate = `[Unit]
Description=uno UVN agent ({{.Role}})
After=network-online.target
Wants=network-online.target

[Service]
Type=notify
ExecStart={{.Exec}} agent --systemd{{if .Registry}} --registry{{end}}{{if .CellName}} --cell {{.CellName}}{{end}}
Environment=UNO_STATE_DIR={{.StateDir}}
Restart=on-failure
RestartSec=2

[Install]
WantedBy=multi-user.target
`

const unitName = "uno.service"

func newServiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install or remove the systemd unit that runs `uno agent`",
	}
	cmd.AddCommand(newServiceInstallCmd(), newServiceRemoveCmd())
	return cmd
}

func newServiceInstallCmd() *cobra.Command {
	var registryRole bool
	var cellName string

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Render and enable the systemd unit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("uno: resolving own executable path: %w", err)
			}

			tpl, err := template.New("unit").Parse(unitTemplate)
			if err != nil {
				return fmt.Errorf("uno: parsing unit template: %w", err)
			}
			f, err := os.Create(filepath.Join("/etc/systemd/system", unitName))
			if err != nil {
				return fmt.Errorf("uno: creating unit file: %w", err)
			}
			defer f.Close()

			role := "cell"
			if registryRole {
				role = "registry"
			}
			if err := tpl.Execute(f, struct {
				Role     string
				Exec     string
				Registry bool
				CellName string
				StateDir string
			}{Role: role, Exec: exe, Registry: registryRole, CellName: cellName, StateDir: stateDir(cmd)}); err != nil {
				return fmt.Errorf("uno: rendering unit file: %w", err)
			}

			if err := runSystemctl("daemon-reload"); err != nil {
				return err
			}
			if err := runSystemctl("enable", "--now", unitName); err != nil {
				return err
			}
			fmt.Println("installed and started", unitName)
			return nil
		},
	}

	cmd.Flags().BoolVar(&registryRole, "registry", false, "run the registry agent instead of a cell agent")
	cmd.Flags().StringVar(&cellName, "cell", "", "this host's cell name (cell role only)")
	return cmd
}

func newServiceRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove",
		Short: "Disable and remove the systemd unit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = runSystemctl("disable", "--now", unitName)
			path := filepath.Join("/etc/systemd/system", unitName)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("uno: removing %s: %w", path, err)
			}
			if err := runSystemctl("daemon-reload"); err != nil {
				return err
			}
			fmt.Println("removed", unitName)
			return nil
		},
	}
}

func runSystemctl(args ...string) error {
	cmd := exec.Command("systemctl", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("uno: systemctl %v: %w", args, err)
	}
	return nil
}
