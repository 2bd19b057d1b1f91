// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/gpgauth/gpgauth/internal/config"
	"github.com/gpgauth/gpgauth/pkg/gpgauth"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the gpgauth CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gpgauth",
		Short: "gpgauth - GPGAuth client",
		Long: `gpgauth authenticates against GPGAuth servers such as Passbolt.
It verifies that a server holds the private half of its advertised OpenPGP key
and logs in by decrypting the challenge the server encrypts to your key.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/gpgauth/config.yaml)")
	flags.String("server", "", "server base URL, e.g. https://passbolt.example.com")
	flags.String("grammar", gpgauth.StandardGrammar.Name, "token grammar (standard or passbolt-v1.3)")
	flags.String("version-constraint", gpgauth.DefaultVersionConstraint, "semver constraint on the server's GPGAuth version")
	flags.Duration("timeout", 0, "per-request timeout (default 30s)")
	flags.String("ca-file", "", "PEM bundle of CA certificates trusted for the server")
	flags.String("private-key", "", "armored private key file")
	flags.String("keys-dir", "", "directory relative trust key files are read from")
	flags.String("log-format", config.DefaultLogFormat, "log format (json or text)")
	flags.String("log-level", config.DefaultLogLevel, "log level (debug, info, warn or error)")
	flags.String("metrics-textfile", "", "write handshake metrics to this file in node-exporter textfile format")

	cmd.AddCommand(newVerifyCmd(deps))
	cmd.AddCommand(newLoginCmd(deps))
	cmd.AddCommand(newServerKeyCmd(deps))
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newConfigCmd(deps))

	return cmd
}
