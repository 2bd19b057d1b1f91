// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gpgauth/gpgauth/internal/config"
	"github.com/gpgauth/gpgauth/internal/xdg"
)

func newConfigCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	cmd.AddCommand(newConfigInitCmd(deps))
	cmd.AddCommand(newConfigValidateCmd(deps))

	return cmd
}

func newConfigInitCmd(deps *Deps) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Write the default configuration to --config, or to
XDG_CONFIG_HOME/gpgauth/config.yaml. An existing file is kept unless --force is
given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, deps.withDefaults(), force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	return cmd
}

func runConfigInit(cmd *cobra.Command, deps *Deps, force bool) error {
	path := configFile
	if path == "" {
		def, err := deps.ConfigFileGetter()
		if err != nil {
			return oops.Code(config.CodeInvalid).Wrapf(err, "locate config file")
		}
		path = def
	}

	if !force {
		if _, err := os.Stat(path); err == nil {
			return oops.Code(config.CodeInvalid).
				With("path", path).
				Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return oops.Code(config.CodeInvalid).With("path", path).Wrap(err)
		}
	}

	data, err := config.Marshal(config.Default())
	if err != nil {
		return oops.Code(config.CodeInvalid).Wrap(err)
	}
	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return oops.Code(config.CodeInvalid).Wrap(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return oops.Code(config.CodeInvalid).With("path", path).Wrapf(err, "write config file")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}

func newConfigValidateCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file and flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := loadConfig(cmd, deps.withDefaults()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}
}
