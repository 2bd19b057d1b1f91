// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

package main

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gpgauth/gpgauth/internal/config"
	"github.com/gpgauth/gpgauth/internal/logging"
	"github.com/gpgauth/gpgauth/internal/observability"
	"github.com/gpgauth/gpgauth/internal/pgp"
	gpgtls "github.com/gpgauth/gpgauth/internal/tls"
	"github.com/gpgauth/gpgauth/internal/transport"
	"github.com/gpgauth/gpgauth/internal/trust"
	"github.com/gpgauth/gpgauth/internal/xdg"
	"github.com/gpgauth/gpgauth/pkg/errutil"
	"github.com/gpgauth/gpgauth/pkg/gpgauth"
)

// Deps contains injectable dependencies for the handshake commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// ConfigFileGetter returns the default config file path.
	// Default: xdg.ConfigFile
	ConfigFileGetter func() (string, error)

	// KeysDirGetter returns the default keys directory.
	// Default: xdg.KeyringDir
	KeysDirGetter func() (string, error)

	// TransportFactory creates the HTTP transport.
	// Default: transport.New
	TransportFactory func(opts transport.Options) (gpgauth.Transport, error)

	// KeyringLoader loads the user's private key.
	// Default: pgp.LoadKeyring
	KeyringLoader func(path string) (*pgp.Keyring, error)

	// Getenv reads environment variables.
	// Default: os.Getenv
	Getenv func(key string) string
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.ConfigFileGetter == nil {
		out.ConfigFileGetter = xdg.ConfigFile
	}
	if out.KeysDirGetter == nil {
		out.KeysDirGetter = xdg.KeyringDir
	}
	if out.TransportFactory == nil {
		out.TransportFactory = func(opts transport.Options) (gpgauth.Transport, error) {
			return transport.New(opts)
		}
	}
	if out.KeyringLoader == nil {
		out.KeyringLoader = pgp.LoadKeyring
	}
	if out.Getenv == nil {
		out.Getenv = os.Getenv
	}
	return &out
}

// env is what a handshake command runs with.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	keys    *pgp.Keyring
	crypto  *pgp.Crypto
	pins    *trust.Store
	session *gpgauth.Session
	http    gpgauth.Transport
}

// loadConfig reads the configuration. Without --config the XDG config file is
// used when it exists.
func loadConfig(cmd *cobra.Command, deps *Deps) (*config.Config, error) {
	path := configFile
	if path == "" {
		def, err := deps.ConfigFileGetter()
		if err == nil {
			if _, statErr := os.Stat(def); statErr == nil {
				path = def
			} else if !errors.Is(statErr, fs.ErrNotExist) {
				return nil, oops.Code(config.CodeInvalid).With("path", def).Wrap(statErr)
			}
		}
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if cfg.Keyring.Dir == "" {
		if dir, err := deps.KeysDirGetter(); err == nil {
			cfg.Keyring.Dir = dir
		}
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	return logging.Setup(logging.Options{
		Service: "gpgauth",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	}, w)
}

// newEnv loads configuration, keys and a session for a command that talks to
// the server.
func newEnv(cmd *cobra.Command, deps *Deps) (*env, error) {
	deps = deps.withDefaults()
	cfg, err := loadConfig(cmd, deps)
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireServer(); err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	e, err := buildEnv(cfg, logger, deps)
	if err != nil {
		errutil.LogError(logger, "command failed", err)
		return nil, err
	}
	return e, nil
}

// buildEnv wires keys, trust pins, transport, metrics and the session.
func buildEnv(cfg *config.Config, logger *slog.Logger, deps *Deps) (*env, error) {
	keys, err := deps.KeyringLoader(cfg.Keyring.PrivateKey)
	if err != nil {
		return nil, oops.Code(gpgauth.CodeKeyringFailed).Wrapf(err, "load private key")
	}
	pins, err := trust.NewStore(cfg.Trust, cfg.Keyring.Dir)
	if err != nil {
		return nil, oops.Code(config.CodeInvalid).Wrap(err)
	}
	tlsCfg, err := gpgtls.ClientConfig(cfg.Server.CAFile)
	if err != nil {
		return nil, oops.Code(config.CodeInvalid).Wrap(err)
	}
	tr, err := deps.TransportFactory(transport.Options{
		Timeout:   time.Duration(cfg.Server.Timeout),
		UserAgent: "gpgauth/" + version,
		TLSConfig: tlsCfg,
	})
	if err != nil {
		return nil, oops.Code(gpgauth.CodeTransport).Wrap(err)
	}

	metrics := observability.NewMetrics()
	crypto := pgp.NewCrypto(keys)
	session, err := gpgauth.NewSession(cfg.Session(), tr, crypto, keys,
		gpgauth.WithLogger(logger),
		gpgauth.WithRecorder(metrics),
	)
	if err != nil {
		return nil, err
	}

	return &env{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		keys:    keys,
		crypto:  crypto,
		pins:    pins,
		session: session,
		http:    tr,
	}, nil
}

// finish logs a failed command and writes the metrics textfile when configured.
func (e *env) finish(err error) error {
	if err != nil {
		errutil.LogError(e.logger, "command failed", err)
	}
	if path := e.cfg.Metrics.Textfile; path != "" {
		if werr := e.metrics.WriteTextfile(path); werr != nil {
			errutil.LogError(e.logger, "failed to write metrics", werr)
		}
	}
	return err
}

// serverKey resolves the key the server must prove it holds: an explicit
// --server-key value (a key file, fingerprint or key id), else the trust pin for
// the server URL.
func (e *env) serverKey(flagValue string) (string, error) {
	if flagValue != "" {
		data, err := os.ReadFile(flagValue) //nolint:gosec // path is chosen by the user
		switch {
		case err == nil:
			return string(data), nil
		case errors.Is(err, fs.ErrNotExist):
			return flagValue, nil
		default:
			return "", oops.Code(gpgauth.CodeKeyringFailed).With("path", flagValue).Wrap(err)
		}
	}

	alias := e.crypto.DeriveID(e.cfg.Server.URL)
	fingerprint, err := e.pins.Import(e.keys, e.cfg.Server.URL, alias)
	if errors.Is(err, trust.ErrNoPin) {
		return "", oops.Code(gpgauth.CodeKeyringFailed).
			With("server_url", e.cfg.Server.URL).
			Errorf("no pinned key for %s: pass --server-key or add a trust entry", e.cfg.Server.URL)
	}
	if err != nil {
		return "", oops.Code(gpgauth.CodeKeyringFailed).Wrap(err)
	}
	return fingerprint, nil
}
