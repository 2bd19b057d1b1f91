// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

// Package transport sends gpgauth requests over HTTP.
package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/publicsuffix"

	"github.com/gpgauth/gpgauth/pkg/gpgauth"
)

// Defaults applied by New.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 1 << 20
	DefaultUserAgent    = "gpgauth"
)

// Options configures an HTTP transport.
type Options struct {
	// Timeout bounds each request, including reading the body.
	Timeout time.Duration
	// MaxBodyBytes bounds the response body. Larger bodies fail the request.
	MaxBodyBytes int64
	UserAgent    string
	// TLSConfig replaces the TLS settings of the default round tripper. It is
	// ignored when Base is set.
	TLSConfig *tls.Config
	// Base is the underlying round tripper. Defaults to http.DefaultTransport.
	Base http.RoundTripper
}

// HTTP is a gpgauth.Transport over net/http. Cookies set by the server are kept
// in memory for the lifetime of the transport, so the session cookie issued at
// the end of a login is sent on later requests.
type HTTP struct {
	client    *http.Client
	userAgent string
	maxBody   int64
}

var _ gpgauth.Transport = (*HTTP)(nil)

// New creates an HTTP transport.
func New(opts Options) (*HTTP, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Base == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		if opts.TLSConfig != nil {
			base.TLSClientConfig = opts.TLSConfig
		}
		opts.Base = base
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, oops.In("transport").Wrapf(err, "create cookie jar")
	}

	return &HTTP{
		client: &http.Client{
			Transport: otelhttp.NewTransport(opts.Base),
			Timeout:   opts.Timeout,
			Jar:       jar,
			// The refer header is read from the login response itself.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: opts.UserAgent,
		maxBody:   opts.MaxBodyBytes,
	}, nil
}

// Send issues req. A response is returned for every status code; an error means
// no complete response was received.
func (t *HTTP) Send(ctx context.Context, req gpgauth.Request) (*gpgauth.Response, error) {
	var body io.Reader
	if req.Form != nil && req.Method != http.MethodGet {
		body = strings.NewReader(req.Form.Encode())
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, oops.In("transport").With("url", req.URL).Wrapf(err, "build request")
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", t.userAgent)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, oops.In("transport").With("method", req.Method).With("url", req.URL).Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody+1))
	if err != nil {
		return nil, oops.In("transport").With("url", req.URL).Wrapf(err, "read response body")
	}
	if int64(len(data)) > t.maxBody {
		return nil, oops.In("transport").
			With("url", req.URL).
			With("limit", t.maxBody).
			Errorf("response body exceeds %d bytes", t.maxBody)
	}

	return &gpgauth.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// Cookies returns the cookies the transport would send to rawURL.
func (t *HTTP) Cookies(rawURL string) ([]*http.Cookie, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, oops.In("transport").With("url", rawURL).Wrap(err)
	}
	return t.client.Jar.Cookies(u), nil
}
