package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mentalsmash/uno/internal/agent"
	"github.com/mentalsmash/uno/internal/controlplane"
	"github.com/mentalsmash/uno/internal/controlplane/native"
	"github.com/mentalsmash/uno/internal/registry"
	"github.com/mentalsmash/uno/internal/uvn"
)

// newAgentCmd runs the long-lived daemon: a cell agent by default, or the
// registry agent (plus its control socket) under --registry.
func newAgentCmd() *cobra.Command {
	var registryRole bool
	var systemd bool
	var cellName string
	var routerDaemonPath, routerCLIPath, routerConfigPath string
	var localASN int

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run as a cell agent or, with --registry, as the registry agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			dir := stateDir(cmd)
			name := uvnName(cmd)
			log := loggerFor(cmd)

			if systemd {
				notifySystemd(log, "READY=1")
				defer notifySystemd(log, "STOPPING=1")
			}

			if registryRole {
				return runRegistryAgent(ctx, dir, name, log)
			}
			return runCellAgent(ctx, dir, name, cellName, log, localASN, routerDaemonPath, routerCLIPath, routerConfigPath)
		},
	}

	cmd.Flags().BoolVar(&registryRole, "registry", false, "run the registry agent instead of a cell agent")
	cmd.Flags().BoolVar(&systemd, "systemd", false, "signal readiness/stopping to systemd via systemd-notify (set automatically by the rendered unit)")
	cmd.Flags().StringVar(&cellName, "cell", "", "this host's cell name (cell role only)")
	cmd.Flags().IntVar(&localASN, "local-asn", 0, "private BGP ASN for the router child (cell role only; default: the cell's id)")
	cmd.Flags().StringVar(&routerDaemonPath, "router-daemon", "", "path to the router daemon binary (cell role only)")
	cmd.Flags().StringVar(&routerCLIPath, "router-cli", "", "path to the router CLI binary (cell role only)")
	cmd.Flags().StringVar(&routerConfigPath, "router-config", "", "path to the router's rendered config file (cell role only)")
	return cmd
}

// notifySystemd shells out to systemd-notify the same way service.go shells
// out to systemctl; best-effort, since the process may not actually be
// running under systemd (e.g. a manual --systemd invocation for testing).
func notifySystemd(log *slog.Logger, state string) {
	if err := exec.Command("systemd-notify", state).Run(); err != nil {
		log.Debug("uno: systemd-notify failed", "state", state, "error", err)
	}
}

func runCellAgent(ctx context.Context, dir, uvn_, cellName string, log *slog.Logger, localASN int, routerDaemonPath, routerCLIPath, routerConfigPath string) error {
	if cellName == "" {
		return fmt.Errorf("uno: --cell is required to run a cell agent")
	}

	a, err := agent.NewCellAgent(agent.CellAgentConfig{
		Logger:           log,
		UVNName:          uvn_,
		CellName:         cellName,
		StateDir:         dir,
		PIDPath:          filepath.Join(dir, "agent.pid"),
		LocalASN:         localASN,
		RouterDaemonPath: routerDaemonPath,
		RouterCLIPath:    routerCLIPath,
		RouterConfigPath: routerConfigPath,
	})
	if err != nil {
		return fmt.Errorf("uno: constructing cell agent: %w", err)
	}

	statusSrv, err := agent.NewStatusServer(a, filepath.Join(dir, "status.sock"))
	if err != nil {
		return fmt.Errorf("uno: starting status socket: %w", err)
	}
	defer statusSrv.Close()
	go func() {
		if err := statusSrv.Serve(); err != nil {
			log.Error("uno: status socket exited", "error", err)
		}
	}()

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("uno: starting cell agent: %w", err)
	}
	<-ctx.Done()
	return a.Stop()
}

func runRegistryAgent(ctx context.Context, dir, uvnName_ string, log *slog.Logger) error {
	doc, err := uvn.Load(filepath.Join(dir, "uvn.yml"))
	if err != nil {
		return fmt.Errorf("uno: loading registry document: %w", err)
	}
	if uvnName_ == "" {
		uvnName_ = doc.Name
	}

	participant := native.NewParticipant(uvnName_)
	backboneWriter, err := participant.Writer(controlplane.TopicBackbone, "registry")
	if err != nil {
		return fmt.Errorf("uno: opening backbone writer: %w", err)
	}

	r, err := registry.New(doc, registry.WithLogger(log), registry.WithRootDir(dir), registry.WithBackboneWriter(backboneWriter))
	if err != nil {
		return fmt.Errorf("uno: initializing registry: %w", err)
	}

	a, err := agent.NewRegistryAgent(agent.RegistryAgentConfig{
		Logger:      log,
		Registry:    r,
		UVNName:     uvnName_,
		Participant: participant,
	})
	if err != nil {
		return fmt.Errorf("uno: constructing registry agent: %w", err)
	}

	controlSrv, err := agent.NewControlServer(a, filepath.Join(dir, "control.sock"))
	if err != nil {
		return fmt.Errorf("uno: starting control socket: %w", err)
	}
	defer controlSrv.Close()
	go func() {
		if err := controlSrv.Serve(); err != nil {
			log.Error("uno: control socket exited", "error", err)
		}
	}()

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("uno: starting registry agent: %w", err)
	}
	<-ctx.Done()
	return a.Stop()
}
