// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

package gpgauth

import (
	"net/http"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
)

// Stage names a point in the handshake with a fixed set of required headers.
type Stage string

// Handshake stages.
const (
	StageVerify   Stage = "verify"
	StageZero     Stage = "stage0"
	StageOne      Stage = "stage1"
	StageComplete Stage = "complete"
	StageError    Stage = "error"
)

// GPGAuth response headers, lower-cased.
const (
	HeaderVersion        = "x-gpgauth-version"
	HeaderAuthenticated  = "x-gpgauth-authenticated"
	HeaderProgress       = "x-gpgauth-progress"
	HeaderVerifyResponse = "x-gpgauth-verify-response"
	HeaderUserAuthToken  = "x-gpgauth-user-auth-token"
	HeaderRefer          = "x-gpgauth-refer"
	HeaderError          = "x-gpgauth-error"
	HeaderDebug          = "x-gpgauth-debug"
)

const headerPrefix = "x-gpgauth-"

// DefaultVersionConstraint accepts any 1.3.x protocol version.
const DefaultVersionConstraint = "~1.3"

const msgServerAuthError = "There was an error during authentication. Enable debug mode for more information."

var commonHeaders = []string{HeaderVersion, HeaderAuthenticated, HeaderProgress}

var stageHeaders = map[Stage][]string{
	StageVerify:   {HeaderVerifyResponse},
	StageZero:     {HeaderVerifyResponse},
	StageOne:      {HeaderUserAuthToken},
	StageComplete: {HeaderRefer},
}

// expected values of the authenticated and progress headers per stage.
var stageMarkers = map[Stage]struct{ authenticated, progress string }{
	StageVerify:   {"false", "stage0"},
	StageZero:     {"false", "stage0"},
	StageOne:      {"false", "stage1"},
	StageComplete: {"true", "complete"},
}

// RequiredHeaders returns the header names that must all be present for stage.
// It returns nil for an unknown stage.
func RequiredHeaders(stage Stage) []string {
	if stage == StageError {
		return []string{HeaderError}
	}
	specific, ok := stageHeaders[stage]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(commonHeaders)+len(specific))
	names = append(names, commonHeaders...)
	return append(names, specific...)
}

// HeaderSet is the validated GPGAuth header set of one response.
type HeaderSet struct {
	Stage  Stage
	Values map[string]string
}

// Get returns the value of a lower-cased header name.
func (h *HeaderSet) Get(name string) string {
	return h.Values[name]
}

// HeaderValidator checks response headers against the requirements of a stage.
type HeaderValidator struct {
	versions *semver.Constraints
}

// NewHeaderValidator creates a validator accepting protocol versions that satisfy
// constraint. An empty constraint uses DefaultVersionConstraint.
func NewHeaderValidator(constraint string) (*HeaderValidator, error) {
	if constraint == "" {
		constraint = DefaultVersionConstraint
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return nil, oops.Code(CodeHeaderInvalid).
			With("constraint", constraint).
			Wrapf(err, "invalid protocol version constraint")
	}
	return &HeaderValidator{versions: c}, nil
}

// Parse collects the GPGAuth headers of a response and validates them for stage.
//
// A response carrying the error indicator yields a ServerRejected error with the
// server's debug message whatever the stage; parsing for StageError only checks for
// that indicator. Otherwise every header returned by RequiredHeaders must be present
// and carry the value expected at this stage. Other x-gpgauth-* headers, such as
// the login and logout URLs some servers advertise, are kept in the set without
// being checked. The user auth token is returned with its transport escaping
// already reversed.
func (v *HeaderValidator) Parse(stage Stage, header http.Header) (*HeaderSet, error) {
	if _, ok := stageHeaders[stage]; !ok && stage != StageError {
		return nil, oops.Code(CodeHeaderInvalid).
			With("stage", string(stage)).
			Errorf("unknown GPGAuth stage %q", stage)
	}

	values, err := normalize(stage, header)
	if err != nil {
		return nil, err
	}
	if _, failed := values[HeaderError]; failed {
		msg := values[HeaderDebug]
		if msg == "" {
			msg = msgServerAuthError
		}
		return nil, oops.Code(CodeServerRejected).
			With("stage", string(stage)).
			Errorf("%s", msg)
	}

	if stage == StageError {
		return nil, missingHeader(stage, HeaderError)
	}

	for _, name := range RequiredHeaders(stage) {
		if _, ok := values[name]; !ok {
			return nil, missingHeader(stage, name)
		}
	}

	if err := v.checkVersion(stage, values[HeaderVersion]); err != nil {
		return nil, err
	}
	markers := stageMarkers[stage]
	if values[HeaderAuthenticated] != markers.authenticated {
		return nil, invalidHeader(stage, HeaderAuthenticated, "expected "+markers.authenticated)
	}
	if values[HeaderProgress] != markers.progress {
		return nil, invalidHeader(stage, HeaderProgress, "expected "+markers.progress)
	}

	if stage == StageOne {
		token, err := UnescapeHeaderToken(values[HeaderUserAuthToken])
		if err != nil {
			return nil, invalidHeader(stage, HeaderUserAuthToken, "bad URL encoding")
		}
		values[HeaderUserAuthToken] = token
	}

	return &HeaderSet{Stage: stage, Values: values}, nil
}

func (v *HeaderValidator) checkVersion(stage Stage, raw string) error {
	version, err := semver.NewVersion(raw)
	if err != nil {
		return invalidHeader(stage, HeaderVersion, "not a semantic version")
	}
	if !v.versions.Check(version) {
		return invalidHeader(stage, HeaderVersion, "unsupported protocol version "+raw)
	}
	return nil
}

// normalize keeps the GPGAuth headers of h under lower-cased names. A header that
// appears more than once is ambiguous and rejected.
func normalize(stage Stage, h http.Header) (map[string]string, error) {
	values := make(map[string]string, len(h))
	for name, vals := range h {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, headerPrefix) || len(vals) == 0 {
			continue
		}
		if _, seen := values[lower]; seen || len(vals) > 1 {
			return nil, invalidHeader(stage, lower, "repeated header")
		}
		values[lower] = vals[0]
	}
	return values, nil
}
