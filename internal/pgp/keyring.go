// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

// Package pgp implements the gpgauth Crypto and Keyring contracts over OpenPGP.
package pgp

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/samber/oops"

	"github.com/gpgauth/gpgauth/pkg/gpgauth"
)

// Keyring holds the user's private key and the public keys of known servers.
//
// The private key is kept in its armored, passphrase-protected form. Every
// operation that needs key material unlocks a fresh copy, so a decrypted key never
// outlives the call that needed it.
type Keyring struct {
	privateArmored []byte
	fingerprint    string
	keyID          string

	mu     sync.RWMutex
	public map[string]*openpgp.Entity
}

// NewKeyring parses an armored private key.
func NewKeyring(privateArmored []byte) (*Keyring, error) {
	entity, err := readPrivateEntity(privateArmored)
	if err != nil {
		return nil, err
	}
	k := &Keyring{
		privateArmored: bytes.Clone(privateArmored),
		fingerprint:    Fingerprint(entity),
		keyID:          entity.PrimaryKey.KeyIdString(),
		public:         make(map[string]*openpgp.Entity),
	}
	// The user's own public key is always a valid recipient.
	k.index(entity)
	return k, nil
}

// LoadKeyring reads an armored private key from path.
func LoadKeyring(path string) (*Keyring, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the user's configuration
	if err != nil {
		return nil, oops.In("pgp").With("path", path).Wrapf(err, "read private key")
	}
	k, err := NewKeyring(data)
	if err != nil {
		return nil, oops.In("pgp").With("path", path).Wrap(err)
	}
	return k, nil
}

// FindPrivateKey returns the fingerprint and key id of the private key.
func (k *Keyring) FindPrivateKey(ctx context.Context) (gpgauth.PrivateKeyInfo, error) {
	if err := ctx.Err(); err != nil {
		return gpgauth.PrivateKeyInfo{}, err
	}
	return gpgauth.PrivateKeyInfo{Fingerprint: k.fingerprint, KeyID: k.keyID}, nil
}

// CheckPassphrase returns gpgauth.ErrInvalidPassphrase when passphrase does not
// unlock the private key.
func (k *Keyring) CheckPassphrase(ctx context.Context, passphrase string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := k.unlock(passphrase)
	return err
}

// AddPublicKey imports an armored public key and makes it addressable by alias as
// well as by fingerprint and key id. It returns the key's fingerprint.
func (k *Keyring) AddPublicKey(alias, armored string) (string, error) {
	entity, err := readPublicEntity(armored)
	if err != nil {
		return "", err
	}
	k.index(entity)
	if alias != "" {
		k.mu.Lock()
		k.public[normalizeID(alias)] = entity
		k.mu.Unlock()
	}
	return Fingerprint(entity), nil
}

// PublicKeyFingerprint parses an armored public key and returns its fingerprint
// without adding it to the keyring.
func (k *Keyring) PublicKeyFingerprint(armored string) (string, error) {
	entity, err := readPublicEntity(armored)
	if err != nil {
		return "", err
	}
	return Fingerprint(entity), nil
}

// ImportServerKey imports the public key of the server at domain under the id
// DeriveID(domain), the id a Session uses when no server key is given.
func (k *Keyring) ImportServerKey(domain, armored string) (string, error) {
	return k.AddPublicKey(DeriveID(domain), armored)
}

// PublicKey finds a public key by alias, fingerprint or key id.
func (k *Keyring) PublicKey(id string) (*openpgp.Entity, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	e, ok := k.public[normalizeID(id)]
	return e, ok
}

func (k *Keyring) index(entity *openpgp.Entity) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.public[normalizeID(Fingerprint(entity))] = entity
	k.public[normalizeID(entity.PrimaryKey.KeyIdString())] = entity
}

// unlock returns a decrypted copy of the private key.
func (k *Keyring) unlock(passphrase string) (openpgp.EntityList, error) {
	entity, err := readPrivateEntity(k.privateArmored)
	if err != nil {
		return nil, err
	}
	if err := entity.DecryptPrivateKeys([]byte(passphrase)); err != nil {
		return nil, oops.In("pgp").
			With("fingerprint", k.fingerprint).
			Wrap(gpgauth.ErrInvalidPassphrase)
	}
	return openpgp.EntityList{entity}, nil
}

// Fingerprint formats the primary key fingerprint as upper-case hex.
func Fingerprint(e *openpgp.Entity) string {
	return fmt.Sprintf("%X", e.PrimaryKey.Fingerprint)
}

func readPrivateEntity(armored []byte) (*openpgp.Entity, error) {
	list, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(armored))
	if err != nil {
		return nil, oops.In("pgp").Wrapf(err, "parse private key")
	}
	if len(list) != 1 {
		return nil, oops.In("pgp").With("keys", len(list)).Errorf("expected exactly one private key")
	}
	if list[0].PrivateKey == nil {
		return nil, oops.In("pgp").Errorf("key has no private part")
	}
	return list[0], nil
}

func readPublicEntity(armored string) (*openpgp.Entity, error) {
	list, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armored))
	if err != nil {
		return nil, oops.In("pgp").Wrapf(err, "parse public key")
	}
	if len(list) != 1 {
		return nil, oops.In("pgp").With("keys", len(list)).Errorf("expected exactly one public key")
	}
	return list[0], nil
}

func normalizeID(id string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(id), " ", ""))
}
