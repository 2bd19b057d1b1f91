// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

// Package main is the entry point for the gpgauth command line client.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/gpgauth/gpgauth/pkg/gpgauth"
)

// protocolCodePrefix marks error codes raised by the handshake.
const protocolCodePrefix = "GPGAUTH_"

// Version information set at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cmd := NewRootCmd()
	cmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
		os.Exit(1)
	}
}

// formatError renders err for the terminal, with its code when it has one.
// Protocol errors are shown as their public message; the full chain is in the
// log.
func formatError(err error) string {
	code := gpgauth.Code(err)
	switch {
	case code == "":
		return fmt.Sprintf("Error: %v", err)
	case strings.HasPrefix(code, protocolCodePrefix):
		return fmt.Sprintf("Error: %s [%s]", gpgauth.PublicMessage(err), code)
	default:
		return fmt.Sprintf("Error: %v [%s]", err, code)
	}
}
