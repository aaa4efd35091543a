package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mentalsmash/uno/internal/agent"
)

// newStatusCmd renders a running agent's peer table. It tries the
// registry's control socket first (the common case: an operator checking
// fleet health) and falls back to the cell status socket, so the same
// verb works pointed at either kind of state directory.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show a running agent's view of the fleet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
			defer cancel()

			dir := stateDir(cmd)
			status, err := agent.NewControlClient(filepath.Join(dir, "control.sock")).Status(ctx)
			if err != nil {
				status, err = agent.FetchStatus(ctx, filepath.Join(dir, "status.sock"))
			}
			if err != nil {
				return fmt.Errorf("uno: no agent reachable under %s: %w", dir, err)
			}

			printStatus(status)
			return nil
		},
	}
}

func printStatus(s *agent.Status) {
	fmt.Printf("cell: %s\nregistry: %s\n", s.CellName, s.RegistryID)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetRowLine(true)
	table.SetHeader([]string{"Peer", "Kind", "Status", "Registry"})

	for _, p := range s.Peers {
		table.Append([]string{p.ID, string(p.Kind), string(p.Status), p.RegistryID})
	}
	table.Render()
}
