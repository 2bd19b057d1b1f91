// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

// Package trust maps server hosts to pinned OpenPGP public keys.
package trust

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// ErrNoPin is returned when no pin matches a server.
var ErrNoPin = errors.New("no pinned key for server")

// Pin binds servers whose host matches Host to a public key file. Fingerprint,
// when set, must match the key found in KeyFile.
type Pin struct {
	Host        string `koanf:"host" json:"host" yaml:"host" jsonschema:"required,description=Host glob such as *.example.com or passbolt.example.com:8443"`
	KeyFile     string `koanf:"key_file" json:"key_file" yaml:"key_file" jsonschema:"required,description=Armored public key file; relative paths resolve against the keys directory"`
	Fingerprint string `koanf:"fingerprint" json:"fingerprint,omitempty" yaml:"fingerprint,omitempty" jsonschema:"description=Expected key fingerprint (hex)"`
}

type compiledPin struct {
	pin  Pin
	glob glob.Glob
}

// KeyImporter stores a public key under an alias and returns its fingerprint.
// PublicKeyFingerprint reads the fingerprint without storing the key.
type KeyImporter interface {
	PublicKeyFingerprint(armored string) (string, error)
	AddPublicKey(alias, armored string) (string, error)
}

// Store resolves server URLs to pins. The first matching pin wins.
type Store struct {
	pins    []compiledPin
	keysDir string
}

// NewStore compiles the host patterns of pins. Relative key files are resolved
// against keysDir.
func NewStore(pins []Pin, keysDir string) (*Store, error) {
	compiled := make([]compiledPin, 0, len(pins))
	for i, p := range pins {
		if p.Host == "" || p.KeyFile == "" {
			return nil, oops.In("trust").
				With("index", i).
				Errorf("pin needs both host and key_file")
		}
		// Use '.' as separator so * matches a single DNS label.
		g, err := glob.Compile(strings.ToLower(p.Host), '.')
		if err != nil {
			return nil, oops.In("trust").
				With("index", i).
				With("host", p.Host).
				Wrap(err)
		}
		compiled = append(compiled, compiledPin{pin: p, glob: g})
	}
	return &Store{pins: compiled, keysDir: keysDir}, nil
}

// Len returns the number of pins.
func (s *Store) Len() int {
	return len(s.pins)
}

// Resolve returns the pin for serverURL. A pattern is matched against the host
// with its port first, then against the bare host name.
func (s *Store) Resolve(serverURL string) (Pin, error) {
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return Pin{}, oops.In("trust").With("server_url", serverURL).Errorf("server URL has no host")
	}
	host := strings.ToLower(u.Host)
	name := strings.ToLower(u.Hostname())
	for _, c := range s.pins {
		if c.glob.Match(host) || c.glob.Match(name) {
			return c.pin, nil
		}
	}
	return Pin{}, oops.In("trust").With("server_url", serverURL).Wrap(ErrNoPin)
}

// Import loads the pinned key for serverURL into keys under alias and returns
// its fingerprint. The key is rejected if it does not carry the pinned
// fingerprint.
func (s *Store) Import(keys KeyImporter, serverURL, alias string) (string, error) {
	pin, err := s.Resolve(serverURL)
	if err != nil {
		return "", err
	}
	path := pin.KeyFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.keysDir, path)
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the user's configuration
	if err != nil {
		return "", oops.In("trust").With("host", pin.Host).With("path", path).Wrapf(err, "read pinned key")
	}
	// The key is checked against the pin before anything is stored.
	fingerprint, err := keys.PublicKeyFingerprint(string(data))
	if err != nil {
		return "", oops.In("trust").With("host", pin.Host).With("path", path).Wrap(err)
	}
	if want := normalizeFingerprint(pin.Fingerprint); want != "" && want != normalizeFingerprint(fingerprint) {
		return "", oops.In("trust").
			With("host", pin.Host).
			With("want", want).
			With("got", fingerprint).
			Errorf("pinned key fingerprint mismatch")
	}
	if _, err := keys.AddPublicKey(alias, string(data)); err != nil {
		return "", oops.In("trust").With("host", pin.Host).With("path", path).Wrap(err)
	}
	return fingerprint, nil
}

func normalizeFingerprint(f string) string {
	return strings.ToUpper(strings.ReplaceAll(f, " ", ""))
}
