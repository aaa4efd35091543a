package main

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/spf13/cobra"

	"github.com/mentalsmash/uno/internal/agent"
	"github.com/mentalsmash/uno/internal/uvn"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Reconfigure the UVN's settings, a cell, or a particle",
	}
	cmd.AddCommand(newConfigUVNCmd(), newConfigCellCmd(), newConfigParticleCmd())
	return cmd
}

// newConfigUVNCmd replaces the registry's settings wholesale, the same way
// Registry.Configure does: it starts from uvn.DefaultSettings() and layers
// the flags the caller actually passed on top, rather than trying to read
// back and patch whatever is currently live (Status reports fleet peer
// state, not settings, so there's nothing to patch against here).
func newConfigUVNCmd() *cobra.Command {
	var enableRootVPN, disableRootVPN bool
	var enableParticlesVPN, disableParticlesVPN bool
	var strategy string
	var timing string

	cmd := &cobra.Command{
		Use:   "uvn",
		Short: "Replace UVN-wide settings (root/particles/backbone VPN profiles, strategy, timing)",
		RunE: withControlClient(func(ctx context.Context, c *agent.ControlClient, cmd *cobra.Command, args []string) error {
			s := uvn.DefaultSettings()

			if strategy != "" {
				strat := uvn.DeploymentStrategy(strategy)
				switch strat {
				case uvn.StrategyCrossedRing, uvn.StrategyCircular, uvn.StrategyRandom, uvn.StrategyStatic, uvn.StrategyFullMesh:
					s.Backbone.DeploymentStrategy = strat
				default:
					return fmt.Errorf("unknown --deployment-strategy %q", strategy)
				}
			}
			if timing != "" {
				prof := uvn.TimingProfile(timing)
				switch prof {
				case uvn.TimingDefault, uvn.TimingFast:
					s.TimingProfile = prof
				default:
					return fmt.Errorf("unknown --timing-profile %q", timing)
				}
			}
			if enableRootVPN {
				s.EnableRootVPN = true
			}
			if disableRootVPN {
				s.EnableRootVPN = false
			}
			if enableParticlesVPN {
				s.EnableParticlesVPN = true
			}
			if disableParticlesVPN {
				s.EnableParticlesVPN = false
			}

			return c.Configure(ctx, s)
		}),
	}

	cmd.Flags().BoolVar(&enableRootVPN, "enable-root-vpn", false, "enable the root VPN")
	cmd.Flags().BoolVar(&disableRootVPN, "disable-root-vpn", false, "disable the root VPN")
	cmd.Flags().BoolVar(&enableParticlesVPN, "enable-particles-vpn", false, "enable the particles VPN UVN-wide")
	cmd.Flags().BoolVar(&disableParticlesVPN, "disable-particles-vpn", false, "disable the particles VPN UVN-wide")
	cmd.Flags().StringVar(&strategy, "deployment-strategy", "", "backbone deployment strategy: crossed, circular, random, static, full-mesh")
	cmd.Flags().StringVar(&timing, "timing-profile", "", "timing profile: default, fast")
	return cmd
}

// newConfigCellCmd replaces a cell's definition wholesale: UpdateCell takes
// the whole record, not a patch, so --name carries forward the cell's name
// the same way every other field must be supplied again.
func newConfigCellCmd() *cobra.Command {
	var name, owner, publicAddr string
	var allowedLANs []string
	var enableParticlesVPN bool

	cmd := &cobra.Command{
		Use:   "cell <id>",
		Short: "Replace a cell's definition",
		Args:  cobra.ExactArgs(1),
		RunE: withControlClient(func(ctx context.Context, c *agent.ControlClient, cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			cell := uvn.Cell{
				ID:                 id,
				Name:               name,
				Owner:              owner,
				EnableParticlesVPN: enableParticlesVPN,
			}
			if publicAddr != "" {
				addr, err := netip.ParseAddr(publicAddr)
				if err != nil {
					return fmt.Errorf("parsing --public-address %q: %w", publicAddr, err)
				}
				cell.PublicAddress = uvn.AddrFrom(addr)
			}
			for _, s := range allowedLANs {
				p, err := netip.ParsePrefix(s)
				if err != nil {
					return fmt.Errorf("parsing --allowed-lan %q: %w", s, err)
				}
				cell.AllowedLANs = append(cell.AllowedLANs, uvn.PrefixFrom(p))
			}

			updated, err := c.UpdateCell(ctx, cell)
			if err != nil {
				return err
			}
			fmt.Printf("updated cell %q [id=%d]\n", updated.Name, updated.ID)
			return nil
		}),
	}

	cmd.Flags().StringVar(&name, "name", "", "name of the cell (required; UpdateCell replaces the whole record)")
	cmd.Flags().StringVar(&owner, "owner", "", "owner recorded on the cell")
	cmd.Flags().StringVar(&publicAddr, "public-address", "", "public address the cell can be dialed at; omit for a private cell")
	cmd.Flags().StringArrayVar(&allowedLANs, "allowed-lan", nil, "LAN prefix the cell routes for the UVN (repeatable)")
	cmd.Flags().BoolVar(&enableParticlesVPN, "enable-particles-vpn", false, "let particles dial into this cell")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newConfigParticleCmd() *cobra.Command {
	var name, owner string

	cmd := &cobra.Command{
		Use:   "particle <id>",
		Short: "Replace a particle's definition",
		Args:  cobra.ExactArgs(1),
		RunE: withControlClient(func(ctx context.Context, c *agent.ControlClient, cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			updated, err := c.UpdateParticle(ctx, uvn.Particle{ID: id, Name: name, Owner: owner})
			if err != nil {
				return err
			}
			fmt.Printf("updated particle %q [id=%d]\n", updated.Name, updated.ID)
			return nil
		}),
	}

	cmd.Flags().StringVar(&name, "name", "", "name of the particle (required; UpdateParticle replaces the whole record)")
	cmd.Flags().StringVar(&owner, "owner", "", "owner recorded on the particle")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
