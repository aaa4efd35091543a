package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mentalsmash/uno/internal/agent"
)

func newRedeployCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "redeploy",
		Short: "Force the backbone deployment to be recomputed",
		Args:  cobra.NoArgs,
		RunE: withControlClient(func(ctx context.Context, c *agent.ControlClient, cmd *cobra.Command, args []string) error {
			id, err := c.Redeploy(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("redeployed [%s]\n", id)
			return nil
		}),
	}
}
