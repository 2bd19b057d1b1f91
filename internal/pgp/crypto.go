// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

package pgp

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // ids must match the ones other GPGAuth clients derive
	"io"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

const messageType = "PGP MESSAGE"

// maxPlaintext bounds decrypted payloads. Tokens are tens of bytes.
const maxPlaintext = 64 << 10

// Crypto encrypts to public keys known to a Keyring, or to armored keys passed
// inline, and decrypts with the Keyring's private key.
type Crypto struct {
	keyring *Keyring
	config  *packet.Config
}

// NewCrypto returns a Crypto backed by keyring.
func NewCrypto(keyring *Keyring) *Crypto {
	return &Crypto{keyring: keyring, config: &packet.Config{}}
}

// Encrypt encrypts plaintext to recipient and returns an armored message.
// recipient is an armored public key, a fingerprint, a key id or an alias
// registered with the keyring.
func (c *Crypto) Encrypt(ctx context.Context, plaintext, recipient string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	to, err := c.recipient(recipient)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	armored, err := armor.Encode(&buf, messageType, nil)
	if err != nil {
		return "", oops.In("pgp").Wrapf(err, "armor message")
	}
	w, err := openpgp.Encrypt(armored, []*openpgp.Entity{to}, nil, nil, c.config)
	if err != nil {
		return "", oops.In("pgp").With("recipient", Fingerprint(to)).Wrapf(err, "encrypt message")
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", oops.In("pgp").Wrapf(err, "encrypt message")
	}
	if err := w.Close(); err != nil {
		return "", oops.In("pgp").Wrapf(err, "encrypt message")
	}
	if err := armored.Close(); err != nil {
		return "", oops.In("pgp").Wrapf(err, "armor message")
	}
	return buf.String(), nil
}

// Decrypt decrypts an armored message with the private key unlocked by passphrase.
func (c *Crypto) Decrypt(ctx context.Context, ciphertext, passphrase string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	keys, err := c.keyring.unlock(passphrase)
	if err != nil {
		return "", err
	}

	block, err := armor.Decode(strings.NewReader(ciphertext))
	if err != nil {
		return "", oops.In("pgp").Wrapf(err, "decode armored message")
	}
	if block.Type != messageType {
		return "", oops.In("pgp").With("type", block.Type).Errorf("armored block is not a message")
	}
	md, err := openpgp.ReadMessage(block.Body, keys, nil, c.config)
	if err != nil {
		return "", oops.In("pgp").Wrapf(err, "decrypt message")
	}
	plaintext, err := io.ReadAll(io.LimitReader(md.UnverifiedBody, maxPlaintext+1))
	if err != nil {
		return "", oops.In("pgp").Wrapf(err, "read message")
	}
	if len(plaintext) > maxPlaintext {
		return "", oops.In("pgp").With("limit", maxPlaintext).Errorf("message too large")
	}
	return string(plaintext), nil
}

// DeriveID returns the id a server's key is stored under for domain.
func (c *Crypto) DeriveID(domain string) string {
	return DeriveID(domain)
}

// DeriveID maps a seed to a stable version-3-shaped UUID: the first 16 bytes of
// its SHA-1 with the version nibble set to 3 and the variant nibble set to a.
func DeriveID(seed string) string {
	sum := sha1.Sum([]byte(seed)) //nolint:gosec // not used for integrity
	b := sum[:16]
	b[6] = b[6]&0x0f | 0x30
	b[8] = b[8]&0x0f | 0xa0
	id, err := uuid.FromBytes(b)
	if err != nil {
		// FromBytes only fails on a length other than 16.
		panic(err)
	}
	return id.String()
}

func (c *Crypto) recipient(recipient string) (*openpgp.Entity, error) {
	if strings.Contains(recipient, "-----BEGIN PGP") {
		return readPublicEntity(recipient)
	}
	if e, ok := c.keyring.PublicKey(recipient); ok {
		return e, nil
	}
	return nil, oops.In("pgp").With("recipient", recipient).Errorf("no public key for recipient")
}
