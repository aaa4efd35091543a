package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mentalsmash/uno/internal/keymaterial"
	"github.com/mentalsmash/uno/internal/registry"
)

// bundlePath resolves a cell name to its persisted `.uvn-agent` package:
// the registry's own copy under <state-dir>/cells/<name>.uvn-agent unless
// --bundle overrides it, e.g. to point at a cell's current.uvn-agent
// instead.
func bundlePath(cmd *cobra.Command, cell, override string) string {
	if override != "" {
		return override
	}
	return filepath.Join(stateDir(cmd), "cells", cell+".uvn-agent")
}

func newEncryptCmd() *cobra.Command {
	var cell, bundle, in, out string

	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a plaintext agent config so only the named cell can read it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := os.ReadFile(bundlePath(cmd, cell, bundle))
			if err != nil {
				return fmt.Errorf("uno: reading bundle for cell %q: %w", cell, err)
			}
			_, pc, err := registry.OpenBundle(archive)
			if err != nil {
				return fmt.Errorf("uno: opening bundle for cell %q: %w", cell, err)
			}

			plaintext, err := os.ReadFile(in)
			if err != nil {
				return fmt.Errorf("uno: reading %s: %w", in, err)
			}

			env, err := keymaterial.EncryptFile(pc.Cert, plaintext)
			if err != nil {
				return fmt.Errorf("uno: encrypting for cell %q: %w", cell, err)
			}
			envYAML, err := yaml.Marshal(env)
			if err != nil {
				return fmt.Errorf("uno: encoding envelope: %w", err)
			}
			if err := os.WriteFile(out, envYAML, 0o600); err != nil {
				return fmt.Errorf("uno: writing %s: %w", out, err)
			}
			fmt.Printf("encrypted %s for cell %q -> %s\n", in, cell, out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&cell, "cell", "c", "", "name of the recipient cell")
	cmd.Flags().StringVar(&bundle, "bundle", "", "path to the cell's .uvn-agent package (default: <state-dir>/cells/<cell>.uvn-agent)")
	cmd.Flags().StringVar(&in, "in", "", "plaintext agent config to encrypt")
	cmd.Flags().StringVar(&out, "out", "", "path to write the encrypted envelope to")
	_ = cmd.MarkFlagRequired("cell")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newDecryptCmd() *cobra.Command {
	var cell, bundle, in, out string

	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt a cell's bundle or a bare encrypted config envelope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := os.ReadFile(bundlePath(cmd, cell, bundle))
			if err != nil {
				return fmt.Errorf("uno: reading bundle for cell %q: %w", cell, err)
			}

			var cfg *registry.AgentConfig
			if in == "" {
				cfg, _, err = registry.OpenBundle(archive)
			} else {
				_, pc, openErr := registry.OpenBundle(archive)
				if openErr != nil {
					return fmt.Errorf("uno: opening bundle for cell %q: %w", cell, openErr)
				}
				var encBlob []byte
				encBlob, err = os.ReadFile(in)
				if err == nil {
					cfg, err = registry.DecryptConfig(string(encBlob), pc.Key)
				}
			}
			if err != nil {
				return fmt.Errorf("uno: decrypting config for cell %q: %w", cell, err)
			}

			cfgYAML, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("uno: encoding decrypted config: %w", err)
			}
			if out == "" {
				fmt.Print(string(cfgYAML))
				return nil
			}
			if err := os.WriteFile(out, cfgYAML, 0o600); err != nil {
				return fmt.Errorf("uno: writing %s: %w", out, err)
			}
			fmt.Printf("decrypted config for cell %q -> %s\n", cell, out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&cell, "cell", "c", "", "name of the cell whose identity decrypts the input")
	cmd.Flags().StringVar(&bundle, "bundle", "", "path to the cell's .uvn-agent package (default: <state-dir>/cells/<cell>.uvn-agent)")
	cmd.Flags().StringVar(&in, "in", "", "bare encrypted config envelope to decrypt; omit to decrypt the bundle's own config")
	cmd.Flags().StringVar(&out, "out", "", "path to write the decrypted config to (default: stdout)")
	_ = cmd.MarkFlagRequired("cell")
	return cmd
}
