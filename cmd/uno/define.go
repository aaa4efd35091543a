package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mentalsmash/uno/internal/agent"
	"github.com/mentalsmash/uno/internal/registry"
	"github.com/mentalsmash/uno/internal/uvn"
)

func newDefineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "define",
		Short: "Define a UVN, cell, or particle",
	}
	cmd.AddCommand(newDefineUVNCmd(), newDefineCellCmd(), newDefineParticleCmd())
	return cmd
}

// newDefineUVNCmd bootstraps the registry document itself: there is no
// running `uno agent --registry` to talk to yet, so this is the one verb
// that builds a Registry directly and Saves it, rather than going through
// a ControlClient.
func newDefineUVNCmd() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "uvn <name>",
		Short: "Create a new UVN document under the state directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			dir := stateDir(cmd)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("uno: creating state directory %s: %w", dir, err)
			}

			doc := uvn.New(name, owner)
			r, err := registry.New(doc,
				registry.WithLogger(loggerFor(cmd)),
				registry.WithRootDir(dir),
			)
			if err != nil {
				return fmt.Errorf("uno: initializing registry: %w", err)
			}
			id, err := r.Save()
			if err != nil {
				return fmt.Errorf("uno: saving registry: %w", err)
			}

			fmt.Printf("defined uvn %q (owner=%s) at %s [%s]\n", name, owner, filepath.Join(dir, "uvn.yml"), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner recorded on the UVN document")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newDefineCellCmd() *cobra.Command {
	var owner, publicAddr string
	var allowedLANs []string
	var enableParticlesVPN bool

	cmd := &cobra.Command{
		Use:   "cell <name>",
		Short: "Add a cell to the running registry",
		Args:  cobra.ExactArgs(1),
		RunE: withControlClient(func(ctx context.Context, c *agent.ControlClient, cmd *cobra.Command, args []string) error {
			cell := uvn.Cell{
				Name:               args[0],
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

			added, err := c.AddCell(ctx, cell)
			if err != nil {
				return err
			}
			fmt.Printf("defined cell %q [id=%d]\n", added.Name, added.ID)
			return nil
		}),
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner recorded on the cell")
	cmd.Flags().StringVar(&publicAddr, "public-address", "", "public address the cell can be dialed at; omit for a private cell")
	cmd.Flags().StringArrayVar(&allowedLANs, "allowed-lan", nil, "LAN prefix the cell routes for the UVN (repeatable)")
	cmd.Flags().BoolVar(&enableParticlesVPN, "enable-particles-vpn", false, "let particles dial into this cell")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newDefineParticleCmd() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "particle <name>",
		Short: "Add a particle to the running registry",
		Args:  cobra.ExactArgs(1),
		RunE: withControlClient(func(ctx context.Context, c *agent.ControlClient, cmd *cobra.Command, args []string) error {
			added, err := c.AddParticle(ctx, uvn.Particle{Name: args[0], Owner: owner})
			if err != nil {
				return err
			}
			fmt.Printf("defined particle %q [id=%d]\n", added.Name, added.ID)
			return nil
		}),
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner recorded on the particle")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
