// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

package errutil_test

import (
	"fmt"
	"testing"

	"github.com/samber/oops"

	"github.com/gpgauth/gpgauth/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("GPGAUTH_MALFORMED_TOKEN").Errorf("malformed GPGAuth token")
	errutil.AssertErrorCode(t, err, "GPGAUTH_MALFORMED_TOKEN")
}

func TestAssertErrorCode_WrappedByFmt(t *testing.T) {
	err := fmt.Errorf("login: %w", oops.Code("GPGAUTH_TRANSPORT").Errorf("unreachable"))
	errutil.AssertErrorCode(t, err, "GPGAUTH_TRANSPORT")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("header", "x-gpgauth-refer").Errorf("missing header")
	errutil.AssertErrorContext(t, err, "header", "x-gpgauth-refer")
}
