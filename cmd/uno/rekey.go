package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mentalsmash/uno/internal/agent"
	"github.com/mentalsmash/uno/internal/keymaterial"
)

func newRekeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rekey",
		Short: "Rotate key material for a cell, a particle, or the whole UVN",
	}
	cmd.AddCommand(newRekeyCellCmd(), newRekeyParticleCmd(), newRekeyUVNCmd())
	return cmd
}

func newRekeyCellCmd() *cobra.Command {
	var maxSpin time.Duration
	cmd := &cobra.Command{
		Use:   "cell <name>",
		Short: "Issue a new identity for a cell",
		Args:  cobra.ExactArgs(1),
		RunE: withControlClient(func(ctx context.Context, c *agent.ControlClient, cmd *cobra.Command, args []string) error {
			return doRekey(ctx, c, keymaterial.RekeyScope{Cell: args[0]}, maxSpin)
		}),
	}
	cmd.Flags().DurationVar(&maxSpin, "max-spin-time", 0, "how long to wait for the fleet to observe the rekey before returning (0: don't wait)")
	return cmd
}

func newRekeyParticleCmd() *cobra.Command {
	var maxSpin time.Duration
	cmd := &cobra.Command{
		Use:   "particle <name>",
		Short: "Issue a new identity for a particle",
		Args:  cobra.ExactArgs(1),
		RunE: withControlClient(func(ctx context.Context, c *agent.ControlClient, cmd *cobra.Command, args []string) error {
			return doRekey(ctx, c, keymaterial.RekeyScope{Particle: args[0]}, maxSpin)
		}),
	}
	cmd.Flags().DurationVar(&maxSpin, "max-spin-time", 0, "how long to wait for the fleet to observe the rekey before returning (0: don't wait)")
	return cmd
}

func newRekeyUVNCmd() *cobra.Command {
	var rootVPN, particlesVPN bool
	var maxSpin time.Duration
	cmd := &cobra.Command{
		Use:   "uvn",
		Short: "Rotate the UVN's own root/particles VPN key material",
		Args:  cobra.NoArgs,
		RunE: withControlClient(func(ctx context.Context, c *agent.ControlClient, cmd *cobra.Command, args []string) error {
			return doRekey(ctx, c, keymaterial.RekeyScope{
				UVN:          true,
				RootVPN:      rootVPN,
				ParticlesVPN: particlesVPN,
			}, maxSpin)
		}),
	}
	cmd.Flags().BoolVar(&rootVPN, "root-vpn", false, "also rotate the root VPN's key material")
	cmd.Flags().BoolVar(&particlesVPN, "particles-vpn", false, "also rotate the particles VPN's key material")
	cmd.Flags().DurationVar(&maxSpin, "max-spin-time", 0, "how long to wait for the fleet to observe the rekey before returning (0: don't wait)")
	return cmd
}

func doRekey(ctx context.Context, c *agent.ControlClient, scope keymaterial.RekeyScope, maxSpin time.Duration) error {
	id, err := c.Rekey(ctx, scope, maxSpin)
	if err != nil {
		return err
	}
	fmt.Printf("rekeyed [%s]\n", id)
	return nil
}
