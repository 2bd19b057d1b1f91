// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

// Package config loads gpgauth settings from a YAML file and command line flags.
package config

import (
	"net/url"
	"os"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/gpgauth/gpgauth/internal/logging"
	"github.com/gpgauth/gpgauth/internal/trust"
	"github.com/gpgauth/gpgauth/pkg/gpgauth"
)

// CodeInvalid marks configuration errors.
const CodeInvalid = "CONFIG_INVALID"

// Default values.
const (
	DefaultTimeout   = Duration(30 * time.Second)
	DefaultLogFormat = "text"
	DefaultLogLevel  = "info"
)

// Config is the complete gpgauth configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server" json:"server,omitempty" yaml:"server"`
	Keyring KeyringConfig `koanf:"keyring" json:"keyring,omitempty" yaml:"keyring"`
	Trust   []trust.Pin   `koanf:"trust" json:"trust,omitempty" yaml:"trust"`
	Log     LogConfig     `koanf:"log" json:"log,omitempty" yaml:"log"`
	Metrics MetricsConfig `koanf:"metrics" json:"metrics,omitempty" yaml:"metrics"`
}

// ServerConfig describes the GPGAuth server.
type ServerConfig struct {
	URL               string   `koanf:"url" json:"url,omitempty" yaml:"url" jsonschema:"description=Server base URL such as https://passbolt.example.com"`
	VerifyPath        string   `koanf:"verify_path" json:"verify_path,omitempty" yaml:"verify_path"`
	LoginPath         string   `koanf:"login_path" json:"login_path,omitempty" yaml:"login_path"`
	Grammar           string   `koanf:"grammar" json:"grammar,omitempty" yaml:"grammar" jsonschema:"enum=standard,enum=passbolt-v1.3"`
	VersionConstraint string   `koanf:"version_constraint" json:"version_constraint,omitempty" yaml:"version_constraint" jsonschema:"description=Semver constraint on the x-gpgauth-version header"`
	Timeout           Duration `koanf:"timeout" json:"timeout,omitempty" yaml:"timeout"`
	// CAFile is a PEM bundle trusted instead of the system roots.
	CAFile string `koanf:"ca_file" json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
}

// KeyringConfig locates the user's key material.
type KeyringConfig struct {
	PrivateKey string `koanf:"private_key" json:"private_key,omitempty" yaml:"private_key" jsonschema:"description=Armored private key file"`
	// Dir is where relative trust key files are looked up.
	Dir string `koanf:"dir" json:"dir,omitempty" yaml:"dir"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format" json:"format,omitempty" yaml:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level,omitempty" yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// MetricsConfig configures metrics output.
type MetricsConfig struct {
	// Textfile is written in the node-exporter textfile format after each command.
	Textfile string `koanf:"textfile" json:"textfile,omitempty" yaml:"textfile"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// JSONSchema describes Duration as a string.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
		Description: "Go duration such as 30s or 1m30s",
	}
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			VerifyPath:        gpgauth.DefaultVerifyPath,
			LoginPath:         gpgauth.DefaultLoginPath,
			Grammar:           gpgauth.StandardGrammar.Name,
			VersionConstraint: gpgauth.DefaultVersionConstraint,
			Timeout:           DefaultTimeout,
		},
		Log: LogConfig{
			Format: DefaultLogFormat,
			Level:  DefaultLogLevel,
		},
	}
}

// FlagKeys maps command line flag names to configuration keys. Flags not listed
// here are not configuration.
var FlagKeys = map[string]string{
	"server":             "server.url",
	"grammar":            "server.grammar",
	"version-constraint": "server.version_constraint",
	"timeout":            "server.timeout",
	"ca-file":            "server.ca_file",
	"private-key":        "keyring.private_key",
	"keys-dir":           "keyring.dir",
	"log-format":         "log.format",
	"log-level":          "log.level",
	"metrics-textfile":   "metrics.textfile",
}

// Load builds the configuration from defaults, the YAML file at path and the
// flags the user explicitly set, in increasing order of precedence. An empty
// path skips the file. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is chosen by the user
		if err != nil {
			return nil, oops.Code(CodeInvalid).With("path", path).Wrapf(err, "read config file")
		}
		if err := ValidateSchema(data); err != nil {
			return nil, oops.Code(CodeInvalid).With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code(CodeInvalid).With("path", path).Wrapf(err, "parse config file")
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, f.Value.String()
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code(CodeInvalid).Wrapf(err, "read flags")
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code(CodeInvalid).Wrapf(err, "decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable. The server URL may be empty;
// commands that talk to a server check it with RequireServer.
func (c *Config) Validate() error {
	if c.Server.URL != "" {
		if err := checkServerURL(c.Server.URL); err != nil {
			return err
		}
	}
	if _, ok := gpgauth.GrammarByName(c.Server.Grammar); !ok {
		return oops.Code(CodeInvalid).
			With("grammar", c.Server.Grammar).
			Errorf("unknown token grammar %q", c.Server.Grammar)
	}
	if _, err := gpgauth.NewHeaderValidator(c.Server.VersionConstraint); err != nil {
		return oops.Code(CodeInvalid).
			With("version_constraint", c.Server.VersionConstraint).
			Errorf("invalid version constraint: %v", err)
	}
	if c.Server.Timeout <= 0 {
		return oops.Code(CodeInvalid).
			With("timeout", time.Duration(c.Server.Timeout).String()).
			Errorf("server timeout must be positive")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code(CodeInvalid).
			With("format", c.Log.Format).
			Errorf("log format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return oops.Code(CodeInvalid).Wrap(err)
	}
	if _, err := trust.NewStore(c.Trust, c.Keyring.Dir); err != nil {
		return oops.Code(CodeInvalid).Wrap(err)
	}
	return nil
}

// RequireServer checks that a server URL and a private key are configured.
func (c *Config) RequireServer() error {
	if c.Server.URL == "" {
		return oops.Code(CodeInvalid).Errorf("server URL is required (--server or server.url)")
	}
	if c.Keyring.PrivateKey == "" {
		return oops.Code(CodeInvalid).Errorf("private key is required (--private-key or keyring.private_key)")
	}
	return nil
}

// Session returns the protocol settings for pkg/gpgauth.
func (c *Config) Session() gpgauth.Config {
	grammar, _ := gpgauth.GrammarByName(c.Server.Grammar)
	return gpgauth.Config{
		BaseURL:           c.Server.URL,
		VerifyPath:        c.Server.VerifyPath,
		LoginPath:         c.Server.LoginPath,
		Grammar:           grammar,
		VersionConstraint: c.Server.VersionConstraint,
	}
}

func checkServerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return oops.Code(CodeInvalid).
			With("url", raw).
			Errorf("server URL must be an absolute http(s) URL")
	}
	return nil
}
