// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

package gpgauth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default endpoint paths, relative to the server base URL.
const (
	DefaultVerifyPath = "/auth/verify.json?api-version=v1"
	DefaultLoginPath  = "/auth/login.json?api-version=v1"
)

// Form keys of GPGAuth requests.
const (
	FormKeyID             = "data[gpg_auth][keyid]"
	FormServerVerifyToken = "data[gpg_auth][server_verify_token]"
	FormUserTokenResult   = "data[gpg_auth][user_token_result]"
)

const tracerName = "github.com/gpgauth/gpgauth/pkg/gpgauth"

// Operation names used in logs, spans and metrics.
const (
	OpVerify    = "verify"
	OpLogin     = "login"
	OpStage1    = "stage1"
	OpStage2    = "stage2"
	OpServerKey = "server_key"
)

// State is the position of a Session in the handshake. States only move forward.
type State int

// Session states, in rank order.
const (
	StateIdle State = iota
	StateVerifying
	StateVerified
	StateLoggingIn
	StateStage1
	StateStage2
	StateComplete
	StateFailed
)

var stateNames = [...]string{"idle", "verifying", "verified", "loggingIn", "stage1", "stage2", "complete", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Config holds the server endpoints and protocol constants of a Session.
type Config struct {
	// BaseURL is the server root, e.g. https://passbolt.example.com.
	BaseURL    string
	VerifyPath string
	LoginPath  string
	Grammar    Grammar
	// VersionConstraint is a semver constraint on x-gpgauth-version.
	VersionConstraint string
}

// ServerKey is the public key a server advertises on its verify endpoint.
type ServerKey struct {
	Fingerprint string `json:"fingerprint"`
	KeyData     string `json:"keydata"`
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// WithTracerProvider sets the provider spans are created from. Defaults to the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Session) { s.tracer = tp.Tracer(tracerName) }
}

// Session drives one verify or login handshake against a GPGAuth server. A Session
// that failed must be discarded; create a new one to retry.
type Session struct {
	id        ulid.ULID
	cfg       Config
	transport Transport
	crypto    Crypto
	keyring   Keyring
	headers   *HeaderValidator
	logger    *slog.Logger
	recorder  Recorder
	tracer    trace.Tracer

	mu          sync.Mutex
	state       State
	verifyToken Token
}

// NewSession creates a Session. Empty paths and grammar take their defaults.
func NewSession(cfg Config, transport Transport, crypto Crypto, keyring Keyring, opts ...Option) (*Session, error) {
	if transport == nil || crypto == nil || keyring == nil {
		return nil, oops.Code(CodeInvalidConfig).Errorf("transport, crypto and keyring are required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, oops.Code(CodeInvalidConfig).
			With("base_url", cfg.BaseURL).
			Errorf("base URL must be an absolute http(s) URL")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.VerifyPath == "" {
		cfg.VerifyPath = DefaultVerifyPath
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = DefaultLoginPath
	}
	if cfg.Grammar.generate == nil {
		cfg.Grammar = StandardGrammar
	}
	headers, err := NewHeaderValidator(cfg.VersionConstraint)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:        ulid.Make(),
		cfg:       cfg,
		transport: transport,
		crypto:    crypto,
		keyring:   keyring,
		headers:   headers,
		logger:    slog.Default(),
		recorder:  nopRecorder{},
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ID identifies the session in logs and spans.
func (s *Session) ID() ulid.ULID {
	return s.id
}

// State returns the current handshake state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PendingVerifyToken returns the nonce generated by the last Verify call.
func (s *Session) PendingVerifyToken() Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifyToken
}

// Verify proves that the server holds the private half of serverKey. A fresh nonce
// is encrypted to serverKey and the server must echo it back decrypted in the
// verify-response header.
//
// serverURL defaults to the configured base URL, serverKey to the id derived from
// serverURL and userFingerprint to the fingerprint of the keyring's private key.
func (s *Session) Verify(ctx context.Context, serverURL, serverKey, userFingerprint string) (string, error) {
	return s.run(ctx, OpVerify, StateVerifying, func(ctx context.Context) (string, error) {
		if serverURL == "" {
			serverURL = s.cfg.BaseURL
		}
		serverURL = strings.TrimRight(serverURL, "/")
		if serverKey == "" {
			serverKey = s.crypto.DeriveID(serverURL)
		}
		if userFingerprint == "" {
			key, err := s.privateKey(ctx)
			if err != nil {
				return "", err
			}
			userFingerprint = key.Fingerprint
		}

		nonce, err := s.cfg.Grammar.Generate()
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		s.verifyToken = nonce
		s.mu.Unlock()

		encrypted, err := s.crypto.Encrypt(ctx, nonce.String(), serverKey)
		if err != nil {
			return "", oops.Code(CodeEncryptionFailed).
				With("server_key", serverKey).
				Wrapf(err, "unable to encrypt the verify token")
		}

		resp, err := s.send(ctx, http.MethodPost, serverURL+s.cfg.VerifyPath, url.Values{
			FormKeyID:             {userFingerprint},
			FormServerVerifyToken: {encrypted},
		})
		if err != nil {
			return "", err
		}
		if !resp.OK() {
			return "", onResponseError(resp)
		}

		set, err := s.headers.Parse(StageVerify, resp.Header)
		if err != nil {
			return "", err
		}
		echoed, err := s.cfg.Grammar.Parse(set.Get(HeaderVerifyResponse))
		if err != nil {
			return "", err
		}
		if !echoed.Equal(nonce) {
			return "", oops.Code(CodeServerKeyUnverified).
				With("server_url", serverURL).
				Errorf("%s", msgServerKeyUnverified)
		}
		if err := s.advance(StateVerified); err != nil {
			return "", err
		}
		return msgServerKeyVerified, nil
	})
}

// Login runs stage 1 and stage 2 and returns the referrer URL sent by the server.
// The passphrase is checked against the local private key before any request.
func (s *Session) Login(ctx context.Context, passphrase string) (string, error) {
	return s.run(ctx, OpLogin, StateLoggingIn, func(ctx context.Context) (string, error) {
		if err := s.CheckPassphrase(ctx, passphrase); err != nil {
			return "", err
		}
		token, err := s.Stage1(ctx, passphrase)
		if err != nil {
			return "", err
		}
		return s.Stage2(ctx, token)
	})
}

// CheckPassphrase reports whether passphrase unlocks the local private key
// without contacting the server.
func (s *Session) CheckPassphrase(ctx context.Context, passphrase string) error {
	if err := s.keyring.CheckPassphrase(ctx, passphrase); err != nil {
		return passphraseError(err)
	}
	return nil
}

// Stage1 asks the server for a user auth token encrypted to the user's key and
// returns it decrypted.
func (s *Session) Stage1(ctx context.Context, passphrase string) (string, error) {
	return s.run(ctx, OpStage1, StateStage1, func(ctx context.Context) (string, error) {
		key, err := s.privateKey(ctx)
		if err != nil {
			return "", err
		}

		resp, err := s.send(ctx, http.MethodPost, s.cfg.BaseURL+s.cfg.LoginPath, url.Values{
			FormKeyID: {key.Fingerprint},
		})
		if err != nil {
			return "", err
		}
		if !resp.OK() {
			return "", onResponseError(resp)
		}

		set, err := s.headers.Parse(StageOne, resp.Header)
		if err != nil {
			return "", err
		}
		plaintext, err := s.crypto.Decrypt(ctx, set.Get(HeaderUserAuthToken), passphrase)
		if err != nil {
			if errors.Is(err, ErrInvalidPassphrase) {
				return "", passphraseError(err)
			}
			return "", oops.Code(CodeDecryptionFailed).
				Wrapf(err, "unable to decrypt the user auth token")
		}
		token, err := s.cfg.Grammar.Parse(plaintext)
		if err != nil {
			return "", err
		}
		return token.String(), nil
	})
}

// Stage2 sends the decrypted user auth token back and returns the base URL joined
// with the referrer path the server sends once the user is authenticated.
func (s *Session) Stage2(ctx context.Context, userAuthToken string) (string, error) {
	return s.run(ctx, OpStage2, StateStage2, func(ctx context.Context) (string, error) {
		if _, err := s.cfg.Grammar.Parse(userAuthToken); err != nil {
			return "", err
		}
		key, err := s.privateKey(ctx)
		if err != nil {
			return "", err
		}

		resp, err := s.send(ctx, http.MethodPost, s.cfg.BaseURL+s.cfg.LoginPath, url.Values{
			FormKeyID:           {key.Fingerprint},
			FormUserTokenResult: {userAuthToken},
		})
		if err != nil {
			return "", err
		}
		if !resp.OK() {
			return "", onResponseError(resp)
		}

		set, err := s.headers.Parse(StageComplete, resp.Header)
		if err != nil {
			return "", err
		}
		refer := set.Get(HeaderRefer)
		if !strings.HasPrefix(refer, "/") || strings.HasPrefix(refer, "//") {
			return "", invalidHeader(StageComplete, HeaderRefer, "referrer must be a path on the server")
		}
		if err := s.advance(StateComplete); err != nil {
			return "", err
		}
		return s.cfg.BaseURL + refer, nil
	})
}

// ServerKey fetches the public key the server advertises. It does not change the
// session state.
func (s *Session) ServerKey(ctx context.Context, serverURL string) (key ServerKey, err error) {
	ctx, finish := s.begin(ctx, OpServerKey)
	defer func() { finish(err) }()

	if serverURL == "" {
		serverURL = s.cfg.BaseURL
	}
	resp, err := s.send(ctx, http.MethodGet, strings.TrimRight(serverURL, "/")+s.cfg.VerifyPath, nil)
	if err != nil {
		return ServerKey{}, err
	}
	if !resp.OK() {
		return ServerKey{}, onResponseError(resp)
	}

	var envelope struct {
		Body *ServerKey `json:"body"`
	}
	if err := resp.DecodeJSON(&envelope); err != nil {
		return ServerKey{}, oops.Code(CodeBadResponse).
			Wrapf(err, "there was a problem trying to understand the data provided by the server")
	}
	if envelope.Body == nil || envelope.Body.KeyData == "" {
		return ServerKey{}, oops.Code(CodeBadResponse).
			Errorf("there was a problem trying to understand the data provided by the server")
	}
	return *envelope.Body, nil
}

// run moves the session into state, executes fn and marks the session failed if
// fn returns an error.
func (s *Session) run(ctx context.Context, op string, state State, fn func(context.Context) (string, error)) (result string, err error) {
	ctx, finish := s.begin(ctx, op)
	defer func() { finish(err) }()

	if err := s.advance(state); err != nil {
		return "", err
	}
	result, err = fn(ctx)
	if err != nil {
		s.fail()
		return "", err
	}
	return result, nil
}

// begin starts the span, timer and log line of an operation. The returned function
// must be called with the operation's final error.
func (s *Session) begin(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "gpgauth."+op, trace.WithAttributes(
		attribute.String("gpgauth.session_id", s.id.String()),
		attribute.String("gpgauth.operation", op),
	))
	s.logger.DebugContext(ctx, "gpgauth operation started", "operation", op, "session_id", s.id.String())

	return ctx, func(err error) {
		defer span.End()
		outcome := "OK"
		if err != nil {
			outcome = Code(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
			s.logger.WarnContext(ctx, "gpgauth operation failed",
				"operation", op,
				"session_id", s.id.String(),
				"code", outcome,
				"error", err.Error(),
			)
		} else {
			s.logger.DebugContext(ctx, "gpgauth operation succeeded", "operation", op, "session_id", s.id.String())
		}
		s.recorder.ObserveOperation(op, outcome, time.Since(start))
	}
}

// advance moves the session forward to state. Moving sideways, backwards or out of
// a terminal state is refused.
func (s *Session) advance(state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFailed || s.state == StateComplete || state <= s.state {
		return oops.Code(CodeSessionState).
			With("from", s.state.String()).
			With("to", state.String()).
			Errorf("session cannot move from %s to %s", s.state, state)
	}
	s.state = state
	return nil
}

func (s *Session) fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateFailed
}

func (s *Session) privateKey(ctx context.Context) (PrivateKeyInfo, error) {
	key, err := s.keyring.FindPrivateKey(ctx)
	if err != nil {
		return PrivateKeyInfo{}, oops.Code(CodeKeyringFailed).
			Wrapf(err, "unable to find the private key")
	}
	if key.Fingerprint == "" {
		return PrivateKeyInfo{}, oops.Code(CodeKeyringFailed).
			Errorf("private key has no fingerprint")
	}
	return key, nil
}

func (s *Session) send(ctx context.Context, method, target string, form url.Values) (*Response, error) {
	resp, err := s.transport.Send(ctx, Request{Method: method, URL: target, Form: form})
	if err != nil {
		return nil, oops.Code(CodeTransport).
			With("method", method).
			With("url", target).
			Wrapf(err, "unable to reach the server")
	}
	return resp, nil
}

// onResponseError turns a non-2xx response into ServerRejected, using the message
// of a {"header":{"message":...}} body when there is one.
func onResponseError(resp *Response) error {
	var body struct {
		Header *struct {
			Message string `json:"message"`
		} `json:"header"`
	}
	if err := resp.DecodeJSON(&body); err != nil || body.Header == nil || body.Header.Message == "" {
		return serverRejected(resp.StatusCode, genericHTTPMessage(resp.StatusCode))
	}
	return serverRejected(resp.StatusCode, body.Header.Message)
}

func passphraseError(err error) error {
	if errors.Is(err, ErrInvalidPassphrase) {
		return oops.Code(CodeInvalidPassphrase).Wrapf(err, "the passphrase does not unlock the private key")
	}
	return oops.Code(CodeKeyringFailed).Wrapf(err, "unable to check the passphrase")
}
