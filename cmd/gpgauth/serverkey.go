// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"

	"github.com/gpgauth/gpgauth/pkg/gpgauth"
)

// retryBase is the first backoff interval of server-key retries.
var retryBase = 500 * time.Millisecond

// serverKeyConfig holds configuration for the server-key command.
type serverKeyConfig struct {
	retries uint64
	output  string
}

func newServerKeyCmd(deps *Deps) *cobra.Command {
	cfg := &serverKeyConfig{}

	cmd := &cobra.Command{
		Use:   "server-key",
		Short: "Fetch the public key the server advertises",
		Long: `Fetch the server's public key from its verify endpoint and print its
fingerprint and armored key data. The key is not trusted by fetching it: compare
the fingerprint out of band before pinning it in a trust entry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServerKey(cmd, cfg, deps)
		},
	}

	cmd.Flags().Uint64Var(&cfg.retries, "retries", 0, "retry transport failures and server errors this many times")
	cmd.Flags().StringVarP(&cfg.output, "output", "o", "", "write the armored key to this file instead of stdout")

	return cmd
}

func runServerKey(cmd *cobra.Command, cfg *serverKeyConfig, deps *Deps) error {
	e, err := newEnv(cmd, deps)
	if err != nil {
		return err
	}
	return e.finish(e.fetchServerKey(cmd, cfg))
}

func (e *env) fetchServerKey(cmd *cobra.Command, cfg *serverKeyConfig) error {
	backoff := retry.WithMaxRetries(cfg.retries, retry.NewExponential(retryBase))
	key, err := retry.DoValue(cmd.Context(), backoff, func(ctx context.Context) (gpgauth.ServerKey, error) {
		key, err := e.session.ServerKey(ctx, "")
		if err != nil && retryable(err) {
			e.logger.Debug("retrying server key fetch", "code", gpgauth.Code(err))
			return key, retry.RetryableError(err)
		}
		return key, err
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "fingerprint: %s\n", key.Fingerprint)
	if cfg.output == "" {
		fmt.Fprintln(out, key.KeyData)
		return nil
	}
	if err := os.WriteFile(cfg.output, []byte(key.KeyData), 0o600); err != nil {
		return oops.Code(gpgauth.CodeKeyringFailed).With("path", cfg.output).Wrapf(err, "write server key")
	}
	fmt.Fprintf(out, "key written to %s\n", cfg.output)
	return nil
}

// retryable reports whether a server-key failure may succeed on a later attempt:
// transport failures and 5xx responses.
func retryable(err error) bool {
	switch gpgauth.Code(err) {
	case gpgauth.CodeTransport:
		return true
	case gpgauth.CodeServerRejected:
		oopsErr, ok := oops.AsOops(err)
		if !ok {
			return false
		}
		status, ok := oopsErr.Context()["status"].(int)
		return ok && status >= http.StatusInternalServerError
	default:
		return false
	}
}
