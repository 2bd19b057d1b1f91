// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

package gpgauth

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// Error codes attached to every error returned by this package.
//
// oops reports the deepest code of a wrapped chain, so Transport, Crypto and Keyring
// implementations must return errors without an oops code of their own.
const (
	CodeTransport           = "GPGAUTH_TRANSPORT"
	CodeServerRejected      = "GPGAUTH_SERVER_REJECTED"
	CodeHeaderMissing       = "GPGAUTH_HEADER_MISSING"
	CodeHeaderInvalid       = "GPGAUTH_HEADER_INVALID"
	CodeMalformedToken      = "GPGAUTH_MALFORMED_TOKEN"
	CodeInvalidPassphrase   = "GPGAUTH_INVALID_PASSPHRASE"
	CodeServerKeyUnverified = "GPGAUTH_SERVER_KEY_UNVERIFIED"
	CodeEncryptionFailed    = "GPGAUTH_ENCRYPTION_FAILED"
	CodeDecryptionFailed    = "GPGAUTH_DECRYPTION_FAILED"
	CodeBadResponse         = "GPGAUTH_BAD_RESPONSE"
	CodeKeyringFailed       = "GPGAUTH_KEYRING_FAILED"
	CodeSessionState        = "GPGAUTH_SESSION_STATE"
	CodeInvalidConfig       = "GPGAUTH_INVALID_CONFIG"
)

// ErrInvalidPassphrase is returned by Keyring and Crypto implementations when the
// passphrase does not unlock the private key.
var ErrInvalidPassphrase = errors.New("invalid passphrase")

// Human readable messages. ServerKeyUnverified and ServerRejected messages are meant
// to be shown to the user as is.
const (
	msgServerKeyVerified   = "The server key is verified. The server can use it to sign and decrypt content."
	msgServerKeyUnverified = "The server was unable to prove it can use the advertised OpenPGP key."
	msgAuthFailed          = "Authentication failed."
)

// genericHTTPMessage is used when a non-2xx response carries no structured message.
func genericHTTPMessage(status int) string {
	return fmt.Sprintf("There was a server error. No additional information provided (%d)", status)
}

// Code returns the oops code of err, or "" if err carries none.
func Code(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		if code, ok := oopsErr.Code().(string); ok {
			return code
		}
	}
	return ""
}

// PublicMessage returns the text a user interface should display for err.
// ServerRejected and ServerKeyUnverified are shown verbatim; everything else is
// reported as a generic authentication failure.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	switch Code(err) {
	case CodeServerRejected, CodeServerKeyUnverified:
		if oopsErr, ok := oops.AsOops(err); ok {
			return oopsErr.Error()
		}
		return err.Error()
	default:
		return msgAuthFailed
	}
}

func serverRejected(status int, message string) error {
	return oops.Code(CodeServerRejected).
		With("status", status).
		Errorf("%s", message)
}

func missingHeader(stage Stage, name string) error {
	return oops.Code(CodeHeaderMissing).
		With("stage", string(stage)).
		With("header", name).
		Errorf("missing GPGAuth header %s for stage %s", name, stage)
}

func invalidHeader(stage Stage, name, reason string) error {
	return oops.Code(CodeHeaderInvalid).
		With("stage", string(stage)).
		With("header", name).
		Errorf("invalid GPGAuth header %s for stage %s: %s", name, stage, reason)
}
