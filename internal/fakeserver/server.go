// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

// Package fakeserver is an in-process GPGAuth server for tests. It speaks the
// same headers and form fields as a Passbolt server and performs real OpenPGP
// operations with the keys it is given.
package fakeserver

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/samber/oops"

	"github.com/gpgauth/gpgauth/internal/pgp"
	"github.com/gpgauth/gpgauth/pkg/gpgauth"
)

// SessionCookie is the cookie set once a login completes.
const SessionCookie = "passbolt_session"

// Options configures a Server.
type Options struct {
	// PrivateKey is the server's armored private key and Passphrase unlocks it.
	PrivateKey string
	Passphrase string
	// Grammar of the tokens the server issues. Defaults to StandardGrammar.
	Grammar gpgauth.Grammar
	// Version is sent in x-gpgauth-version. Defaults to 1.3.0.
	Version string
	// Refer is sent in x-gpgauth-refer. Defaults to /.
	Refer string
	// EchoWrongNonce makes the server answer verify with a fresh token instead of
	// the decrypted one, as a server without the private key would.
	EchoWrongNonce bool
	Logger         *slog.Logger
}

// Server answers GPGAuth verify and login requests.
type Server struct {
	opts     Options
	keys     *pgp.Keyring
	crypto   *pgp.Crypto
	keyData  string
	serverFP string

	mu      sync.Mutex
	users   map[string]bool
	pending map[string]gpgauth.Token
	hits    map[string]int
}

// New creates a Server. publicKey is the armored public half of opts.PrivateKey,
// served on GET verify.
func New(opts Options, publicKey string) (*Server, error) {
	if opts.Grammar.Name == "" {
		opts.Grammar = gpgauth.StandardGrammar
	}
	if opts.Version == "" {
		opts.Version = "1.3.0"
	}
	if opts.Refer == "" {
		opts.Refer = "/"
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	keys, err := pgp.NewKeyring([]byte(opts.PrivateKey))
	if err != nil {
		return nil, oops.In("fakeserver").Wrap(err)
	}
	if err := keys.CheckPassphrase(context.Background(), opts.Passphrase); err != nil {
		return nil, oops.In("fakeserver").Wrap(err)
	}
	info, err := keys.FindPrivateKey(context.Background())
	if err != nil {
		return nil, oops.In("fakeserver").Wrap(err)
	}

	return &Server{
		opts:     opts,
		keys:     keys,
		crypto:   pgp.NewCrypto(keys),
		keyData:  publicKey,
		serverFP: info.Fingerprint,
		users:    make(map[string]bool),
		pending:  make(map[string]gpgauth.Token),
		hits:     make(map[string]int),
	}, nil
}

// AddUser registers a user's armored public key and returns its fingerprint.
func (s *Server) AddUser(publicKey string) (string, error) {
	fpr, err := s.keys.AddPublicKey("", publicKey)
	if err != nil {
		return "", oops.In("fakeserver").Wrap(err)
	}
	s.mu.Lock()
	s.users[fpr] = true
	s.mu.Unlock()
	return fpr, nil
}

// Fingerprint returns the server key fingerprint.
func (s *Server) Fingerprint() string {
	return s.serverFP
}

// Hits returns how many requests reached the named stage: verify, server_key,
// stage1 or stage2.
func (s *Server) Hits(stage string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[stage]
}

// Handler returns the HTTP handler serving the GPGAuth endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/verify.json", s.handleServerKey)
	mux.HandleFunc("POST /auth/verify.json", s.handleVerify)
	mux.HandleFunc("POST /auth/login.json", s.handleLogin)
	return mux
}

// Start serves the handler on a local listener. The caller closes the returned
// server.
func (s *Server) Start() *httptest.Server {
	return httptest.NewServer(s.Handler())
}

// StartTLS is Start over HTTPS with cert.
func (s *Server) StartTLS(cert tls.Certificate) *httptest.Server {
	srv := httptest.NewUnstartedServer(s.Handler())
	srv.TLS = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	srv.StartTLS()
	return srv
}

func (s *Server) handleServerKey(w http.ResponseWriter, _ *http.Request) {
	s.hit("server_key")
	writeJSON(w, http.StatusOK, map[string]any{
		"header": map[string]any{"status": "success"},
		"body":   gpgauth.ServerKey{Fingerprint: s.serverFP, KeyData: s.keyData},
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	s.hit("verify")
	if err := r.ParseForm(); err != nil {
		s.reject(w, http.StatusBadRequest, "The request could not be parsed.")
		return
	}
	if !s.knownUser(r.PostForm.Get(gpgauth.FormKeyID)) {
		s.reject(w, http.StatusNotFound, "There is no user associated with this key.")
		return
	}
	encrypted := r.PostForm.Get(gpgauth.FormServerVerifyToken)
	if encrypted == "" {
		s.reject(w, http.StatusBadRequest, "The server verify token is missing.")
		return
	}

	plaintext, err := s.crypto.Decrypt(r.Context(), encrypted, s.opts.Passphrase)
	if err != nil {
		s.opts.Logger.Warn("verify token decryption failed", "error", err)
		s.reject(w, http.StatusBadRequest, "Decryption failed.")
		return
	}
	if s.opts.EchoWrongNonce {
		other, err := s.opts.Grammar.Generate()
		if err != nil {
			s.reject(w, http.StatusInternalServerError, "Token generation failed.")
			return
		}
		plaintext = other.String()
	}

	s.protocolHeaders(w, "stage0", false)
	w.Header().Set(gpgauth.HeaderVerifyResponse, plaintext)
	writeJSON(w, http.StatusOK, map[string]any{"header": map[string]any{"status": "success"}})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.reject(w, http.StatusBadRequest, "The request could not be parsed.")
		return
	}
	fpr := r.PostForm.Get(gpgauth.FormKeyID)
	if !s.knownUser(fpr) {
		s.reject(w, http.StatusNotFound, "There is no user associated with this key.")
		return
	}
	if result, ok := r.PostForm[gpgauth.FormUserTokenResult]; ok {
		s.stage2(w, fpr, result[0])
		return
	}
	s.stage1(w, r, fpr)
}

func (s *Server) stage1(w http.ResponseWriter, r *http.Request, fpr string) {
	s.hit("stage1")
	token, err := s.opts.Grammar.Generate()
	if err != nil {
		s.reject(w, http.StatusInternalServerError, "Token generation failed.")
		return
	}
	encrypted, err := s.crypto.Encrypt(r.Context(), token.String(), fpr)
	if err != nil {
		s.opts.Logger.Warn("user token encryption failed", "error", err)
		s.reject(w, http.StatusInternalServerError, "Encryption failed.")
		return
	}

	s.mu.Lock()
	s.pending[fpr] = token
	s.mu.Unlock()

	s.protocolHeaders(w, "stage1", false)
	w.Header().Set(gpgauth.HeaderUserAuthToken, gpgauth.EscapeHeaderToken(encrypted))
	writeJSON(w, http.StatusOK, map[string]any{"header": map[string]any{"status": "success"}})
}

func (s *Server) stage2(w http.ResponseWriter, fpr, result string) {
	s.hit("stage2")
	s.mu.Lock()
	want, ok := s.pending[fpr]
	delete(s.pending, fpr)
	s.mu.Unlock()

	got, err := s.opts.Grammar.Parse(result)
	if !ok || err != nil || !got.Equal(want) {
		s.reject(w, http.StatusForbidden, "The user token result does not match.")
		return
	}

	s.protocolHeaders(w, "complete", true)
	w.Header().Set(gpgauth.HeaderRefer, s.opts.Refer)
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: fpr, Path: "/", HttpOnly: true})
	writeJSON(w, http.StatusOK, map[string]any{"header": map[string]any{"status": "success"}})
}

func (s *Server) protocolHeaders(w http.ResponseWriter, progress string, authenticated bool) {
	h := w.Header()
	h.Set(gpgauth.HeaderVersion, s.opts.Version)
	h.Set(gpgauth.HeaderProgress, progress)
	if authenticated {
		h.Set(gpgauth.HeaderAuthenticated, "true")
	} else {
		h.Set(gpgauth.HeaderAuthenticated, "false")
	}
}

// reject answers with the error headers and a {"header":{"message":...}} body.
func (s *Server) reject(w http.ResponseWriter, status int, message string) {
	w.Header().Set(gpgauth.HeaderError, "true")
	w.Header().Set(gpgauth.HeaderDebug, message)
	writeJSON(w, status, map[string]any{
		"header": map[string]any{"status": "error", "message": message},
	})
}

func (s *Server) knownUser(fpr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[fpr]
}

func (s *Server) hit(stage string) {
	s.mu.Lock()
	s.hits[stage]++
	s.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
