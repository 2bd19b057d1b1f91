// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// verifyConfig holds configuration for the verify command.
type verifyConfig struct {
	serverKey   string
	fingerprint string
}

func newVerifyCmd(deps *Deps) *cobra.Command {
	cfg := &verifyConfig{}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify that the server holds its advertised key",
		Long: `Encrypt a random token to the server's public key and check that the
server decrypts and echoes it back. The key is taken from --server-key or from
the trust entry matching the server URL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVerify(cmd, cfg, deps)
		},
	}

	cmd.Flags().StringVar(&cfg.serverKey, "server-key", "", "server public key file, fingerprint or key id")
	cmd.Flags().StringVar(&cfg.fingerprint, "fingerprint", "", "user key fingerprint to send (default: the private key's)")

	return cmd
}

func runVerify(cmd *cobra.Command, cfg *verifyConfig, deps *Deps) error {
	e, err := newEnv(cmd, deps)
	if err != nil {
		return err
	}
	return e.finish(e.verify(cmd, cfg))
}

func (e *env) verify(cmd *cobra.Command, cfg *verifyConfig) error {
	key, err := e.serverKey(cfg.serverKey)
	if err != nil {
		return err
	}
	msg, err := e.session.Verify(cmd.Context(), e.cfg.Server.URL, key, cfg.fingerprint)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg)
	return nil
}
