package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mentalsmash/uno/internal/agent"
)

func newBanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ban",
		Short: "Permanently retire a cell or particle's id",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "cell <name>",
			Short: "Ban a cell",
			Args:  cobra.ExactArgs(1),
			RunE: withControlClient(func(ctx context.Context, c *agent.ControlClient, cmd *cobra.Command, args []string) error {
				if err := c.BanCell(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("banned cell %q\n", args[0])
				return nil
			}),
		},
		&cobra.Command{
			Use:   "particle <name>",
			Short: "Ban a particle",
			Args:  cobra.ExactArgs(1),
			RunE: withControlClient(func(ctx context.Context, c *agent.ControlClient, cmd *cobra.Command, args []string) error {
				if err := c.BanParticle(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("banned particle %q\n", args[0])
				return nil
			}),
		},
	)
	return cmd
}

func newUnbanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unban",
		Short: "Restore a banned cell or particle to active membership",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "cell <name>",
			Short: "Unban a cell",
			Args:  cobra.ExactArgs(1),
			RunE: withControlClient(func(ctx context.Context, c *agent.ControlClient, cmd *cobra.Command, args []string) error {
				restored, err := c.UnbanCell(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("unbanned cell %q [id=%d]\n", restored.Name, restored.ID)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "particle <name>",
			Short: "Unban a particle",
			Args:  cobra.ExactArgs(1),
			RunE: withControlClient(func(ctx context.Context, c *agent.ControlClient, cmd *cobra.Command, args []string) error {
				restored, err := c.UnbanParticle(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("unbanned particle %q [id=%d]\n", restored.Name, restored.ID)
				return nil
			}),
		},
	)
	return cmd
}
