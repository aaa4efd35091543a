package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mentalsmash/uno/internal/agent"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Re-save and republish the registry without changing anything",
		Args:  cobra.NoArgs,
		RunE: withControlClient(func(ctx context.Context, c *agent.ControlClient, cmd *cobra.Command, args []string) error {
			id, err := c.Sync(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("synced [%s]\n", id)
			return nil
		}),
	}
}
