package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mentalsmash/uno/internal/agent"
)

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove a cell or particle and free its id for reuse",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "cell <name>",
			Short: "Delete a cell",
			Args:  cobra.ExactArgs(1),
			RunE: withControlClient(func(ctx context.Context, c *agent.ControlClient, cmd *cobra.Command, args []string) error {
				if err := c.DeleteCell(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("deleted cell %q\n", args[0])
				return nil
			}),
		},
		&cobra.Command{
			Use:   "particle <name>",
			Short: "Delete a particle",
			Args:  cobra.ExactArgs(1),
			RunE: withControlClient(func(ctx context.Context, c *agent.ControlClient, cmd *cobra.Command, args []string) error {
				if err := c.DeleteParticle(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("deleted particle %q\n", args[0])
				return nil
			}),
		},
	)
	return cmd
}
