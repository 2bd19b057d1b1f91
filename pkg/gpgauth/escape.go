// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

package gpgauth

import (
	"net/url"
	"strings"
)

// UnescapeHeaderToken reverses the escaping servers apply to the encrypted user auth
// token before placing it in a header: the value is URL-encoded and then
// backslash-escaped, so it is URL-decoded first and backslash-unescaped second.
func UnescapeHeaderToken(value string) (string, error) {
	decoded, err := url.QueryUnescape(value)
	if err != nil {
		return "", err
	}
	return stripSlashes(decoded), nil
}

// EscapeHeaderToken applies the server-side escaping reversed by UnescapeHeaderToken.
func EscapeHeaderToken(value string) string {
	return quoteMeta(url.QueryEscape(value))
}

// stripSlashes removes one level of backslash escaping. "\0" becomes NUL, "\\"
// becomes a single backslash and a trailing lone backslash is dropped.
func stripSlashes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i == len(s) {
			break
		}
		if s[i] == '0' {
			b.WriteByte(0)
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// quoteMeta backslash-escapes . \ + * ? [ ^ ] $ ( and ).
func quoteMeta(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 2)
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(`.\+*?[^]$()`, s[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
