// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

package main

import (
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gpgauth/gpgauth/internal/config"
	"github.com/gpgauth/gpgauth/pkg/gpgauth"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate and check GPGAuth tokens",
	}

	cmd.AddCommand(newTokenGenerateCmd())
	cmd.AddCommand(newTokenCheckCmd())

	return cmd
}

func newTokenGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Print a fresh random token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := grammarFlag(cmd)
			if err != nil {
				return err
			}
			tok, err := g.Generate()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
}

func newTokenCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check TOKEN",
		Short: "Check that a token matches the grammar",
		Long: `Check that TOKEN is well formed for the selected grammar. Values copied
from a response header, URL-encoded and backslash-escaped, are accepted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := grammarFlag(cmd)
			if err != nil {
				return err
			}
			raw, err := gpgauth.UnescapeHeaderToken(args[0])
			if err != nil {
				return oops.Code(gpgauth.CodeMalformedToken).Wrapf(err, "unescape token")
			}
			if _, err := g.Parse(raw); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "token is not valid for grammar %s: %v\n", g.Name, err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token is valid for grammar %s\n", g.Name)
			return nil
		},
	}
}

// grammarFlag returns the grammar selected by the persistent --grammar flag.
func grammarFlag(cmd *cobra.Command) (gpgauth.Grammar, error) {
	name, err := cmd.Flags().GetString("grammar")
	if err != nil {
		return gpgauth.Grammar{}, oops.Code(config.CodeInvalid).Wrap(err)
	}
	g, ok := gpgauth.GrammarByName(name)
	if !ok {
		return gpgauth.Grammar{}, oops.Code(config.CodeInvalid).
			With("grammar", name).
			Errorf("unknown token grammar %q", name)
	}
	return g, nil
}
