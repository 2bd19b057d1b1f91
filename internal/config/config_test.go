// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpgauth/gpgauth/internal/config"
	"github.com/gpgauth/gpgauth/pkg/errutil"
	"github.com/gpgauth/gpgauth/pkg/gpgauth"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("server", "", "")
	fs.String("grammar", "standard", "")
	fs.Duration("timeout", 30*time.Second, "")
	fs.String("log-format", "text", "")
	fs.String("private-key", "", "")
	fs.Bool("skip-verify", false, "")
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.Equal(t, gpgauth.DefaultVerifyPath, cfg.Server.VerifyPath)
	assert.Equal(t, "standard", cfg.Server.Grammar)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Server.Timeout))
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  url: https://passbolt.example.com
  grammar: passbolt-v1.3
  timeout: 5s
keyring:
  private_key: /keys/ada.asc
trust:
  - host: "*.example.com"
    key_file: server.asc
    fingerprint: 03F60E958F4CB29723ACDF761353B5B15D9B054F
log:
  format: json
  level: debug
`)

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://passbolt.example.com", cfg.Server.URL)
	assert.Equal(t, "passbolt-v1.3", cfg.Server.Grammar)
	assert.Equal(t, 5*time.Second, time.Duration(cfg.Server.Timeout))
	assert.Equal(t, gpgauth.DefaultLoginPath, cfg.Server.LoginPath, "unset keys keep their defaults")
	assert.Equal(t, "/keys/ada.asc", cfg.Keyring.PrivateKey)
	require.Len(t, cfg.Trust, 1)
	assert.Equal(t, "*.example.com", cfg.Trust[0].Host)
	assert.Equal(t, "json", cfg.Log.Format)

	sc := cfg.Session()
	assert.Equal(t, gpgauth.PassboltGrammar.Prefix, sc.Grammar.Prefix)
	assert.Equal(t, "https://passbolt.example.com", sc.BaseURL)
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
server:
  url: https://file.example.com
  timeout: 5s
log:
  format: json
`)
	flags := newFlags(t, "--server", "https://flag.example.com", "--timeout", "45s")

	cfg, err := config.Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "https://flag.example.com", cfg.Server.URL)
	assert.Equal(t, 45*time.Second, time.Duration(cfg.Server.Timeout))
	assert.Equal(t, "json", cfg.Log.Format, "flag defaults do not override the file")
}

func TestLoad_FlagsWithoutFile(t *testing.T) {
	cfg, err := config.Load("", newFlags(t, "--grammar", "passbolt-v1.3", "--skip-verify"))
	require.NoError(t, err)
	assert.Equal(t, "passbolt-v1.3", cfg.Server.Grammar)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown key", "server:\n  hostname: x\n"},
		{"wrong type", "server:\n  timeout: 30\n"},
		{"bad duration", "server:\n  timeout: soon\n"},
		{"unknown grammar", "server:\n  grammar: v2\n"},
		{"bad log format", "log:\n  format: xml\n"},
		{"relative url", "server:\n  url: passbolt.example.com\n"},
		{"pin without key file", "trust:\n  - host: example.com\n"},
		{"bad version constraint", "server:\n  version_constraint: \"not a constraint\"\n"},
		{"invalid yaml", "server: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.content), nil)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, config.CodeInvalid)
		})
	}

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	errutil.AssertErrorCode(t, err, config.CodeInvalid)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, ""), nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestRequireServer(t *testing.T) {
	cfg := config.Default()
	errutil.AssertErrorCode(t, cfg.RequireServer(), config.CodeInvalid)

	cfg.Server.URL = "https://passbolt.example.com"
	errutil.AssertErrorCode(t, cfg.RequireServer(), config.CodeInvalid)

	cfg.Keyring.PrivateKey = "ada.asc"
	assert.NoError(t, cfg.RequireServer())
}

func TestMarshal_DefaultRoundTrips(t *testing.T) {
	data, err := config.Marshal(config.Default())
	require.NoError(t, err)
	assert.Contains(t, string(data), "$schema="+config.SchemaID)
	assert.Contains(t, string(data), "timeout: 30s")
	require.NoError(t, config.ValidateSchema(data))

	cfg, err := config.Load(writeConfig(t, string(data)), nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Server, cfg.Server)
	assert.Equal(t, config.Default().Log, cfg.Log)
}

func TestGenerateSchema(t *testing.T) {
	data, err := config.GenerateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, config.SchemaID, schema["$id"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"server", "keyring", "trust", "log", "metrics"} {
		assert.Contains(t, props, key)
	}
}
