// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package api is the typed HTTP client for the wallet backend. Every request
// is signed with the browser identity from client/auth and carries a fresh
// timestamp. Responses outside the 2xx range become an *Error that surfaces
// the backend's own message when one is supplied.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"zenx.org/zenxw/client/auth"
	"zenx.org/zenxw/zenx"
	"zenx.org/zenxw/zenx/zenxnet"
)

// apiPrefix is prepended to every endpoint path. Signatures are computed over
// the full path including the prefix.
const apiPrefix = "/api/v1"

// Error is a server-rejected request. The backend ships a human-readable
// message in the error body for most rejections, and that message is what the
// user should see, so Error() returns it verbatim when present.
type Error struct {
	Method  string
	Path    string
	Status  int
	Message string
}

// Error satisfies the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s %d", e.Method, e.Path, e.Status)
}

// errBody is the shape of a backend error response. Older endpoints use
// "error" where newer ones use "message".
type errBody struct {
	Message string `json:"message"`
	Err     string `json:"error"`
}

func (b *errBody) text() string {
	if b.Message != "" {
		return b.Message
	}
	return b.Err
}

// Authenticator supplies the browser identity and request signatures.
// Satisfied by *auth.Authenticator.
type Authenticator interface {
	GetOrCreateBrowserID() string
	GetOrCreateSecret() string
	SignRequest(method, path string, timestamp int64, body []byte) string
}

var _ Authenticator = (*auth.Authenticator)(nil)

// Config is the configuration for a Client.
type Config struct {
	// BaseURL is the backend origin, e.g. https://wallet.example.org. The
	// /api/v1 prefix is appended by the Client.
	BaseURL string
	Auth    Authenticator
	Logger  zenx.Logger
	// Client optionally replaces the internal HTTP client. Used in tests.
	Client *http.Client
}

// Client issues authenticated requests against the wallet backend. A Client
// never caches. Cookies are retained across requests for any session auth the
// backend layers on top of request signing.
type Client struct {
	baseURL *url.URL
	auth    Authenticator
	http    *http.Client
	log     zenx.Logger
}

// New constructs a Client. The returned client carries a cookie jar, so a
// single Client should be shared rather than constructed per request.
func New(cfg *Config) (*Client, error) {
	baseURL, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("error parsing base URL %q: %w", cfg.BaseURL, err)
	}
	httpClient := cfg.Client
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("error creating cookie jar: %w", err)
		}
		httpClient = &http.Client{Jar: jar}
	}
	return &Client{
		baseURL: baseURL,
		auth:    cfg.Auth,
		http:    httpClient,
		log:     cfg.Logger,
	}, nil
}

// Get issues an authenticated GET and decodes the JSON response into thing,
// if non-nil. The path is relative to the API prefix and may carry a query
// string.
func (c *Client) Get(ctx context.Context, path string, thing any) error {
	return c.request(ctx, http.MethodGet, path, nil, thing)
}

// Post issues an authenticated POST with a JSON body and decodes the JSON
// response into thing, if non-nil. A nil body posts an empty JSON object.
func (c *Client) Post(ctx context.Context, path string, body, thing any) error {
	var raw []byte
	if body == nil {
		raw = []byte("{}")
	} else {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error marshaling request body: %w", err)
		}
	}
	return c.request(ctx, http.MethodPost, path, raw, thing)
}

// request signs and performs one round trip. Transport errors come back
// unwrapped from the HTTP layer. Status errors come back as *Error.
func (c *Client) request(ctx context.Context, method, path string, body []byte, thing any) error {
	fullPath := apiPrefix + path
	// The signature covers the path without the query string.
	sigPath := fullPath
	if i := strings.IndexByte(sigPath, '?'); i >= 0 {
		sigPath = sigPath[:i]
	}

	browserID := c.auth.GetOrCreateBrowserID()
	c.auth.GetOrCreateSecret() // ensures registration is at least in flight
	stamp := time.Now().Unix()
	sig := c.auth.SignRequest(method, sigPath, stamp, body)

	uri := c.baseURL.String() + fullPath

	var status int
	var serverErr errBody
	opts := []*zenxnet.RequestOption{
		zenxnet.WithClient(c.http),
		zenxnet.WithStatusFunc(func(code int) { status = code }),
		zenxnet.WithErrorParsing(&serverErr),
		zenxnet.WithRequestHeader("X-Browser-Id", browserID),
		zenxnet.WithRequestHeader("X-Client-Timestamp", strconv.FormatInt(stamp, 10)),
		zenxnet.WithRequestHeader("X-Client-Signature", sig),
	}

	var err error
	switch method {
	case http.MethodGet:
		err = zenxnet.Get(ctx, uri, thing, opts...)
	default:
		opts = append(opts, zenxnet.WithRequestHeader("Content-Type", "application/json"))
		err = zenxnet.Post(ctx, uri, thing, body, opts...)
	}
	if err == nil {
		return nil
	}
	if status == 0 || (status >= 200 && status <= 299) {
		// No response, or a decode failure on a good response.
		return err
	}
	return &Error{
		Method:  method,
		Path:    sigPath,
		Status:  status,
		Message: serverErr.text(),
	}
}
