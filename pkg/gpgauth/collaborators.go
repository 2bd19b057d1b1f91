// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

package gpgauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"
)

// Request is a form-encoded HTTP request issued by a Session.
type Request struct {
	Method string
	URL    string
	Form   url.Values
}

// Response is what a Transport returns for a request, whatever the status.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// DecodeJSON parses the body into v.
func (r *Response) DecodeJSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Transport sends requests to the server. Implementations return an error only when
// no response was received (connection failure, timeout, cancellation).
type Transport interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// Crypto wraps the asymmetric primitives.
type Crypto interface {
	// Encrypt encrypts plaintext to recipient, an armored public key or a key id
	// known to the implementation, and returns armored ciphertext.
	Encrypt(ctx context.Context, plaintext, recipient string) (string, error)
	// Decrypt decrypts armored ciphertext with the user's private key unlocked by
	// passphrase.
	Decrypt(ctx context.Context, ciphertext, passphrase string) (string, error)
	// DeriveID returns the deterministic key id used for a server domain when no
	// server key is given.
	DeriveID(domain string) string
}

// PrivateKeyInfo describes the user's private key.
type PrivateKeyInfo struct {
	Fingerprint string
	KeyID       string
}

// Keyring gives access to the user's private key.
type Keyring interface {
	FindPrivateKey(ctx context.Context) (PrivateKeyInfo, error)
	// CheckPassphrase returns ErrInvalidPassphrase if passphrase does not unlock
	// the private key.
	CheckPassphrase(ctx context.Context, passphrase string) error
}

// Recorder observes the outcome of handshake operations.
type Recorder interface {
	ObserveOperation(operation, code string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string, time.Duration) {}
