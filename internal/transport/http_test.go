// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

package transport_test

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gpgtls "github.com/gpgauth/gpgauth/internal/tls"
	"github.com/gpgauth/gpgauth/internal/transport"
	"github.com/gpgauth/gpgauth/pkg/gpgauth"
)

func newTransport(t *testing.T, opts transport.Options) *transport.HTTP {
	t.Helper()
	tr, err := transport.New(opts)
	require.NoError(t, err)
	return tr
}

func TestHTTP_SendsFormPost(t *testing.T) {
	var got url.Values
	var contentType, userAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		userAgent = r.Header.Get("User-Agent")
		require.NoError(t, r.ParseForm())
		got = r.PostForm
		w.Header().Set("X-GPGAuth-Progress", "stage1")
		_, _ = io.WriteString(w, `{"header":{"status":"success"}}`)
	}))
	defer srv.Close()

	tr := newTransport(t, transport.Options{})
	resp, err := tr.Send(context.Background(), gpgauth.Request{
		Method: http.MethodPost,
		URL:    srv.URL + "/auth/login.json?api-version=v1",
		Form:   url.Values{gpgauth.FormKeyID: {"ABCDEF"}},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "stage1", resp.Header.Get(gpgauth.HeaderProgress))
	assert.JSONEq(t, `{"header":{"status":"success"}}`, string(resp.Body))
	assert.Equal(t, "application/x-www-form-urlencoded", contentType)
	assert.Equal(t, transport.DefaultUserAgent, userAgent)
	assert.Equal(t, "ABCDEF", got.Get(gpgauth.FormKeyID))
}

func TestHTTP_ReturnsErrorStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"header":{"message":"Invalid key"}}`)
	}))
	defer srv.Close()

	tr := newTransport(t, transport.Options{})
	resp, err := tr.Send(context.Background(), gpgauth.Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.False(t, resp.OK())
}

func TestHTTP_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/elsewhere" {
			t.Error("redirect was followed")
		}
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	tr := newTransport(t, transport.Options{})
	resp, err := tr.Send(context.Background(), gpgauth.Request{Method: http.MethodPost, URL: srv.URL, Form: url.Values{}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestHTTP_KeepsCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("passbolt_session"); err != nil {
			http.SetCookie(w, &http.Cookie{Name: "passbolt_session", Value: "s3ss10n", Path: "/"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tr := newTransport(t, transport.Options{})
	ctx := context.Background()

	resp, err := tr.Send(ctx, gpgauth.Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = tr.Send(ctx, gpgauth.Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	cookies, err := tr.Cookies(srv.URL)
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "s3ss10n", cookies[0].Value)
}

func TestHTTP_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("x", 64))
	}))
	defer srv.Close()

	tr := newTransport(t, transport.Options{MaxBodyBytes: 32})
	_, err := tr.Send(context.Background(), gpgauth.Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds 32 bytes")

	tr = newTransport(t, transport.Options{MaxBodyBytes: 64})
	resp, err := tr.Send(context.Background(), gpgauth.Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Len(t, resp.Body, 64)
}

func TestHTTP_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	tr := newTransport(t, transport.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := tr.Send(ctx, gpgauth.Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestHTTP_ClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	tr := newTransport(t, transport.Options{Timeout: 50 * time.Millisecond})
	_, err := tr.Send(context.Background(), gpgauth.Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)

	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestHTTP_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	tr := newTransport(t, transport.Options{})
	_, err := tr.Send(context.Background(), gpgauth.Request{Method: http.MethodGet, URL: addr})
	assert.Error(t, err)
}

func TestHTTP_BadURL(t *testing.T) {
	tr := newTransport(t, transport.Options{})
	_, err := tr.Send(context.Background(), gpgauth.Request{Method: http.MethodGet, URL: "://nope"})
	assert.Error(t, err)
}

func TestHTTP_CustomCA(t *testing.T) {
	ca, err := gpgtls.GenerateCA("test")
	require.NoError(t, err)
	cert, err := gpgtls.GenerateServerCert(ca, "127.0.0.1")
	require.NoError(t, err)
	caFile := t.TempDir() + "/ca.pem"
	require.NoError(t, gpgtls.SaveCertificate(caFile, ca.Certificate))

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	srv.TLS = &tls.Config{Certificates: []tls.Certificate{cert.TLSCertificate()}, MinVersion: tls.VersionTLS12}
	srv.StartTLS()
	t.Cleanup(srv.Close)

	_, err = newTransport(t, transport.Options{}).Send(context.Background(), gpgauth.Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)

	tlsCfg, err := gpgtls.ClientConfig(caFile)
	require.NoError(t, err)
	resp, err := newTransport(t, transport.Options{TLSConfig: tlsCfg}).
		Send(context.Background(), gpgauth.Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
