// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gpgauth/gpgauth/pkg/errutil"
	"github.com/gpgauth/gpgauth/pkg/gpgauth"
)

// passphraseEnv is the environment variable the passphrase is read from when no
// passphrase file is given.
const passphraseEnv = "GPGAUTH_PASSPHRASE"

// loginConfig holds configuration for the login command.
type loginConfig struct {
	verifyConfig
	passphraseFile string
	skipVerify     bool
}

func newLoginCmd(deps *Deps) *cobra.Command {
	cfg := &loginConfig{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the server",
		Long: `Verify the server, then run the two GPGAuth login stages and print the
URL the server refers to. The passphrase of the private key is read from
--passphrase-file or the ` + passphraseEnv + ` environment variable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd, cfg, deps)
		},
	}

	cmd.Flags().StringVar(&cfg.serverKey, "server-key", "", "server public key file, fingerprint or key id")
	cmd.Flags().StringVar(&cfg.fingerprint, "fingerprint", "", "user key fingerprint to send (default: the private key's)")
	cmd.Flags().StringVar(&cfg.passphraseFile, "passphrase-file", "", "file containing the private key passphrase")
	cmd.Flags().BoolVar(&cfg.skipVerify, "skip-verify", false, "log in without verifying the server key first")

	return cmd
}

func runLogin(cmd *cobra.Command, cfg *loginConfig, deps *Deps) error {
	passphrase, err := readPassphrase(cfg.passphraseFile, deps.withDefaults().Getenv)
	if err != nil {
		return err
	}
	e, err := newEnv(cmd, deps)
	if err != nil {
		return err
	}
	return e.finish(e.login(cmd, cfg, passphrase))
}

func (e *env) login(cmd *cobra.Command, cfg *loginConfig, passphrase string) error {
	// A wrong passphrase fails before any request, verify included.
	if err := e.session.CheckPassphrase(cmd.Context(), passphrase); err != nil {
		return err
	}
	if cfg.skipVerify {
		e.logger.Warn("skipping server key verification", "server_url", e.cfg.Server.URL)
	} else {
		if err := e.verify(cmd, &cfg.verifyConfig); err != nil {
			return err
		}
	}

	refer, err := e.session.Login(cmd.Context(), passphrase)
	if err != nil {
		return err
	}
	e.logSessionCookies(cmd.Context())
	fmt.Fprintln(cmd.OutOrStdout(), refer)
	return nil
}

// cookieJar is implemented by transports that keep server cookies.
type cookieJar interface {
	Cookies(rawURL string) ([]*http.Cookie, error)
}

// logSessionCookies logs the names of the cookies the server set during login.
// Values are never logged.
func (e *env) logSessionCookies(ctx context.Context) {
	jar, ok := e.http.(cookieJar)
	if !ok {
		return
	}
	cookies, err := jar.Cookies(e.cfg.Server.URL)
	if err != nil {
		errutil.LogWarnContext(ctx, e.logger, "failed to read session cookies", err)
		return
	}
	names := make([]string, 0, len(cookies))
	for _, c := range cookies {
		names = append(names, c.Name)
	}
	e.logger.DebugContext(ctx, "session cookies", "server_url", e.cfg.Server.URL, "names", names)
}

// readPassphrase reads the passphrase from path, or from the environment when
// path is empty. One trailing line break is stripped from file contents.
func readPassphrase(path string, getenv func(string) string) (string, error) {
	if path == "" {
		if p := getenv(passphraseEnv); p != "" {
			return p, nil
		}
		return "", oops.Code(gpgauth.CodeInvalidPassphrase).
			Errorf("no passphrase: use --passphrase-file or set %s", passphraseEnv)
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is chosen by the user
	if err != nil {
		return "", oops.Code(gpgauth.CodeInvalidPassphrase).With("path", path).Wrapf(err, "read passphrase file")
	}
	p := strings.TrimSuffix(string(data), "\n")
	return strings.TrimSuffix(p, "\r"), nil
}
