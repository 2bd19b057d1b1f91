// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

// Package pgptest generates throwaway OpenPGP keys for tests.
package pgptest

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/stretchr/testify/require"
)

// Key is a generated key pair in armored form.
type Key struct {
	Private     string
	Public      string
	Fingerprint string
	Passphrase  string
}

// NewKey generates an EdDSA key with an ECDH encryption subkey. The private part
// is protected by passphrase.
func NewKey(tb testing.TB, name, passphrase string) Key {
	tb.Helper()
	key, err := Generate(name, passphrase)
	require.NoError(tb, err)
	return key
}

// Generate is NewKey without a testing.TB, for use in suites and fixtures.
func Generate(name, passphrase string) (Key, error) {
	cfg := &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA}
	entity, err := openpgp.NewEntity(name, "", name+"@example.com", cfg)
	if err != nil {
		return Key{}, fmt.Errorf("generate key: %w", err)
	}

	var pub bytes.Buffer
	w, err := armor.Encode(&pub, openpgp.PublicKeyType, nil)
	if err != nil {
		return Key{}, err
	}
	if err := entity.Serialize(w); err != nil {
		return Key{}, fmt.Errorf("serialize public key: %w", err)
	}
	if err := w.Close(); err != nil {
		return Key{}, err
	}

	if err := entity.EncryptPrivateKeys([]byte(passphrase), cfg); err != nil {
		return Key{}, fmt.Errorf("protect private key: %w", err)
	}
	var priv bytes.Buffer
	w, err = armor.Encode(&priv, openpgp.PrivateKeyType, nil)
	if err != nil {
		return Key{}, err
	}
	if err := entity.SerializePrivateWithoutSigning(w, cfg); err != nil {
		return Key{}, fmt.Errorf("serialize private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return Key{}, err
	}

	return Key{
		Private:     priv.String(),
		Public:      pub.String(),
		Fingerprint: fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint),
		Passphrase:  passphrase,
	}, nil
}
