// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

package gpgauth

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// TokenLength is the payload length shared by client and server.
const TokenLength = 36

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Grammar holds the protocol constants that frame a token: the delimiters around the
// payload and the payload's length and alphabet. Client and server must agree on it.
type Grammar struct {
	Name   string
	Prefix string
	Suffix string
	Length int

	// valid reports whether a payload of the right length is well formed.
	valid func(payload string) bool
	// generate returns a fresh random payload.
	generate func() (string, error)
}

// StandardGrammar frames a 36 character alphanumeric payload as gpgauth:<payload>:gpgauth.
var StandardGrammar = Grammar{
	Name:     "standard",
	Prefix:   "gpgauth:",
	Suffix:   ":gpgauth",
	Length:   TokenLength,
	valid:    isAlphanumeric,
	generate: randomAlphanumeric,
}

// PassboltGrammar is the framing used by Passbolt servers:
// gpgauthv1.3.0|36|<uuid>|gpgauthv1.3.0.
var PassboltGrammar = Grammar{
	Name:     "passbolt-v1.3",
	Prefix:   "gpgauthv1.3.0|36|",
	Suffix:   "|gpgauthv1.3.0",
	Length:   TokenLength,
	valid:    isCanonicalUUID,
	generate: randomUUID,
}

// GrammarByName looks up one of the built-in grammars.
func GrammarByName(name string) (Grammar, bool) {
	switch name {
	case "", StandardGrammar.Name:
		return StandardGrammar, true
	case PassboltGrammar.Name:
		return PassboltGrammar, true
	default:
		return Grammar{}, false
	}
}

// Token is a single-use GPGAuth nonce. The zero value is not a valid token; obtain
// one from Generate or Parse.
type Token struct {
	value string
}

// Generate returns a new token with a cryptographically random payload.
func (g Grammar) Generate() (Token, error) {
	if g.generate == nil {
		return Token{}, malformedToken(g, "unknown grammar")
	}
	payload, err := g.generate()
	if err != nil {
		return Token{}, oops.Code(CodeMalformedToken).
			With("grammar", g.Name).
			With("operation", "generate payload").
			Wrap(err)
	}
	return Token{value: g.Prefix + payload + g.Suffix}, nil
}

// Parse returns the token in raw. The whole string must match the grammar: no
// whitespace is trimmed, so a trailing newline is a malformed token.
func (g Grammar) Parse(raw string) (Token, error) {
	if g.valid == nil {
		return Token{}, malformedToken(g, "unknown grammar")
	}
	if !strings.HasPrefix(raw, g.Prefix) || !strings.HasSuffix(raw, g.Suffix) {
		return Token{}, malformedToken(g, "missing delimiters")
	}
	if len(raw) != len(g.Prefix)+g.Length+len(g.Suffix) {
		return Token{}, malformedToken(g, "wrong payload length")
	}
	payload := raw[len(g.Prefix) : len(raw)-len(g.Suffix)]
	if !g.valid(payload) {
		return Token{}, malformedToken(g, "invalid payload characters")
	}
	return Token{value: raw}, nil
}

// String returns the token as sent on the wire.
func (t Token) String() string {
	return t.value
}

// IsZero reports whether t was never generated or parsed.
func (t Token) IsZero() bool {
	return t.value == ""
}

// Equal compares two tokens in constant time. Zero tokens are never equal.
func (t Token) Equal(other Token) bool {
	if t.IsZero() || other.IsZero() {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(t.value), []byte(other.value)) == 1
}

func malformedToken(g Grammar, reason string) error {
	return oops.Code(CodeMalformedToken).
		With("grammar", g.Name).
		Errorf("malformed GPGAuth token: %s", reason)
}

func isAlphanumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(alphanumeric, s[i]) < 0 {
			return false
		}
	}
	return true
}

// isCanonicalUUID accepts only the lowercase 8-4-4-4-12 form.
func isCanonicalUUID(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.String() == s
}

func randomAlphanumeric() (string, error) {
	limit := big.NewInt(int64(len(alphanumeric)))
	var b strings.Builder
	b.Grow(TokenLength)
	for range TokenLength {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphanumeric[n.Int64()])
	}
	return b.String(), nil
}

func randomUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
