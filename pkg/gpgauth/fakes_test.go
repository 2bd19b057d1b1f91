// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

package gpgauth_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gpgauth/gpgauth/pkg/gpgauth"
)

const (
	testBaseURL     = "https://passbolt.example.com"
	testFingerprint = "03F60E958F4CB29723ACDF761353B5B15D9B054F"
	testPassphrase  = "correct horse battery staple"
)

// fakeTransport records requests and answers them with handler.
type fakeTransport struct {
	mu      sync.Mutex
	reqs    []gpgauth.Request
	handler func(req gpgauth.Request) (*gpgauth.Response, error)
}

func (f *fakeTransport) Send(_ context.Context, req gpgauth.Request) (*gpgauth.Response, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.handler(req)
}

func (f *fakeTransport) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func (f *fakeTransport) Request(i int) gpgauth.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[i]
}

// fakeCrypto "encrypts" to "ENC <recipient> <plaintext>" and only decrypts with
// the configured passphrase.
type fakeCrypto struct {
	passphrase string
	encryptErr error
}

func (f *fakeCrypto) Encrypt(_ context.Context, plaintext, recipient string) (string, error) {
	if f.encryptErr != nil {
		return "", f.encryptErr
	}
	return fakeEncrypt(plaintext, recipient), nil
}

func (f *fakeCrypto) Decrypt(_ context.Context, ciphertext, passphrase string) (string, error) {
	if passphrase != f.passphrase {
		return "", gpgauth.ErrInvalidPassphrase
	}
	_, plaintext, err := fakeDecrypt(ciphertext)
	return plaintext, err
}

func (f *fakeCrypto) DeriveID(domain string) string {
	return "derived:" + domain
}

func fakeEncrypt(plaintext, recipient string) string {
	return "ENC " + recipient + " " + plaintext
}

func fakeDecrypt(ciphertext string) (recipient, plaintext string, err error) {
	parts := strings.SplitN(ciphertext, " ", 3)
	if len(parts) != 3 || parts[0] != "ENC" {
		return "", "", errors.New("not a fake ciphertext")
	}
	return parts[1], parts[2], nil
}

type fakeKeyring struct {
	fingerprint string
	passphrase  string
	findErr     error
}

func (k *fakeKeyring) FindPrivateKey(context.Context) (gpgauth.PrivateKeyInfo, error) {
	if k.findErr != nil {
		return gpgauth.PrivateKeyInfo{}, k.findErr
	}
	return gpgauth.PrivateKeyInfo{Fingerprint: k.fingerprint, KeyID: k.fingerprint[len(k.fingerprint)-16:]}, nil
}

func (k *fakeKeyring) CheckPassphrase(_ context.Context, passphrase string) error {
	if passphrase != k.passphrase {
		return gpgauth.ErrInvalidPassphrase
	}
	return nil
}

type observation struct {
	operation string
	code      string
}

type fakeRecorder struct {
	mu   sync.Mutex
	seen []observation
}

func (r *fakeRecorder) ObserveOperation(operation, code string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, observation{operation, code})
}

// protocolHeaders returns a valid GPGAuth header set for progress plus extra.
func protocolHeaders(progress, authenticated string, extra map[string]string) http.Header {
	h := http.Header{}
	h.Set(gpgauth.HeaderVersion, "1.3.0")
	h.Set(gpgauth.HeaderAuthenticated, authenticated)
	h.Set(gpgauth.HeaderProgress, progress)
	for k, v := range extra {
		h.Set(k, v)
	}
	return h
}

func okResponse(h http.Header) *gpgauth.Response {
	return &gpgauth.Response{StatusCode: http.StatusOK, Header: h, Body: []byte(`{"header":{"status":"success"}}`)}
}

func errorResponse(status int, body string) *gpgauth.Response {
	return &gpgauth.Response{StatusCode: status, Header: http.Header{}, Body: []byte(body)}
}

// newTestSession wires a session to the given transport and default fakes.
func newTestSession(t *testing.T, transport gpgauth.Transport, opts ...gpgauth.Option) *gpgauth.Session {
	t.Helper()
	s, err := gpgauth.NewSession(
		gpgauth.Config{BaseURL: testBaseURL},
		transport,
		&fakeCrypto{passphrase: testPassphrase},
		&fakeKeyring{fingerprint: testFingerprint, passphrase: testPassphrase},
		opts...,
	)
	require.NoError(t, err)
	return s
}
