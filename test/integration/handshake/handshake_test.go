// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

//go:build integration

package handshake_test

import (
	"context"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/gpgauth/gpgauth/internal/pgp"
	"github.com/gpgauth/gpgauth/internal/transport"
	"github.com/gpgauth/gpgauth/pkg/gpgauth"
)

// runCLI runs the gpgauth command against the suite's server.
func runCLI(ctx context.Context, extraEnv []string, args ...string) (string, error) {
	base := []string{"run", ".", "--server", env.httpServer.URL, "--private-key", env.privateKey}
	cmd := exec.CommandContext(ctx, "go", append(base, args...)...)
	cmd.Dir = "../../../cmd/gpgauth"
	cmd.Env = append(cmd.Environ(),
		"XDG_CONFIG_HOME="+filepath.Join(env.dir, "config"),
		"XDG_STATE_HOME="+filepath.Join(env.dir, "state"),
	)
	cmd.Env = append(cmd.Env, extraEnv...)
	output, err := cmd.CombinedOutput()
	return string(output), err
}

var _ = Describe("gpgauth command", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("verify", func() {
		It("verifies a server holding the advertised key", func() {
			output, err := runCLI(ctx, nil, "verify", "--server-key", env.serverFile)
			Expect(err).NotTo(HaveOccurred(), "verify failed: %s", output)
			Expect(output).To(ContainSubstring("The server key is verified"))
		})

		It("fails with a coded error when no key is pinned", func() {
			output, err := runCLI(ctx, nil, "verify")
			Expect(err).To(HaveOccurred())
			Expect(output).To(ContainSubstring("no pinned key"))
			Expect(output).To(ContainSubstring("Error: Authentication failed."))
			Expect(output).To(ContainSubstring("[" + gpgauth.CodeKeyringFailed + "]"))
		})
	})

	Describe("login", func() {
		It("prints the referrer after both stages", func() {
			output, err := runCLI(ctx, []string{"GPGAUTH_PASSPHRASE=" + env.user.Passphrase},
				"login", "--server-key", env.serverFile)
			Expect(err).NotTo(HaveOccurred(), "login failed: %s", output)
			Expect(output).To(ContainSubstring(env.httpServer.URL + "/app/passwords"))
		})

		It("rejects a wrong passphrase locally", func() {
			before := env.server.Hits("stage1")
			output, err := runCLI(ctx, []string{"GPGAUTH_PASSPHRASE=wrong"}, "login", "--skip-verify")
			Expect(err).To(HaveOccurred())
			Expect(output).To(ContainSubstring(gpgauth.CodeInvalidPassphrase))
			Expect(env.server.Hits("stage1")).To(Equal(before))
		})
	})

	Describe("server-key", func() {
		It("prints the advertised fingerprint", func() {
			output, err := runCLI(ctx, nil, "server-key")
			Expect(err).NotTo(HaveOccurred(), "server-key failed: %s", output)
			Expect(output).To(ContainSubstring(env.serverKey.Fingerprint))
		})
	})
})

var _ = Describe("Session", func() {
	var (
		ctx     context.Context
		session *gpgauth.Session
	)

	BeforeEach(func() {
		ctx = context.Background()

		tr, err := transport.New(transport.Options{})
		Expect(err).NotTo(HaveOccurred())
		keys, err := pgp.NewKeyring([]byte(env.user.Private))
		Expect(err).NotTo(HaveOccurred())

		session, err = gpgauth.NewSession(gpgauth.Config{BaseURL: env.httpServer.URL}, tr, pgp.NewCrypto(keys), keys)
		Expect(err).NotTo(HaveOccurred())
	})

	It("completes verify then login", func() {
		_, err := session.Verify(ctx, "", env.serverKey.Public, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(session.State()).To(Equal(gpgauth.StateVerified))

		refer, err := session.Login(ctx, env.user.Passphrase)
		Expect(err).NotTo(HaveOccurred())
		Expect(refer).To(Equal(env.httpServer.URL + "/app/passwords"))
		Expect(session.State()).To(Equal(gpgauth.StateComplete))
	})

	It("refuses to log in twice", func() {
		_, err := session.Login(ctx, env.user.Passphrase)
		Expect(err).NotTo(HaveOccurred())

		_, err = session.Login(ctx, env.user.Passphrase)
		Expect(gpgauth.Code(err)).To(Equal(gpgauth.CodeSessionState))
	})

	It("marks the session failed on a wrong passphrase", func() {
		_, err := session.Login(ctx, "wrong")
		Expect(gpgauth.Code(err)).To(Equal(gpgauth.CodeInvalidPassphrase))
		Expect(session.State()).To(Equal(gpgauth.StateFailed))
	})
})
