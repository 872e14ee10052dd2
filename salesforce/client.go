// Package salesforce extracts SOQL query results from Salesforce through the
// REST query API and the Bulk API 2.0.
package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/ben-leadtech/etlkit"
	"github.com/ben-leadtech/etlkit/credentials"
)

// Defaults for NewClient.
const (
	DefaultLoginURL     = "https://login.salesforce.com"
	DefaultAPIVersion   = "59.0"
	DefaultPollInterval = time.Second
	DefaultPollTimeout  = 30 * time.Minute
	DefaultRetries      = 3

	maxPollInterval = 10 * time.Second
)

// Client is an authenticated Salesforce API client. It is safe for
// concurrent use.
type Client struct {
	http        *retryablehttp.Client
	once        *retryablehttp.Client // no retries: logins and POSTs
	tokens      oauth2.TokenSource
	instanceURL string
	apiVersion  string
	limiter     *rate.Limiter
	logger      *slog.Logger

	pollInterval time.Duration
	pollTimeout  time.Duration
}

type options struct {
	loginURL     string
	apiVersion   string
	httpClient   *http.Client
	logger       *slog.Logger
	limit        rate.Limit
	burst        int
	retries      int
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// Option configures NewClient.
type Option func(*options)

// WithLoginURL overrides the login host, e.g. https://test.salesforce.com for
// a sandbox. It takes precedence over the login_url of the credentials.
func WithLoginURL(u string) Option {
	return func(o *options) { o.loginURL = strings.TrimRight(u, "/") }
}

// WithAPIVersion sets the REST API version, without the leading v.
func WithAPIVersion(v string) Option {
	return func(o *options) { o.apiVersion = strings.TrimPrefix(v, "v") }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the logger for the client and its HTTP retries.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRateLimit caps API calls at rps per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *options) {
		o.limit = rate.Limit(rps)
		o.burst = max(1, burst)
	}
}

// WithRetries sets how many times a failed request is retried.
func WithRetries(n int) Option {
	return func(o *options) { o.retries = max(0, n) }
}

// WithPollInterval sets the first wait between Bulk job status checks. Later
// waits grow up to 10s.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithPollTimeout bounds the total wait for a Bulk job.
func WithPollTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollTimeout = d
		}
	}
}

// NewClient logs in and returns a client.
//
// With a connected app (client_id and client_secret in creds) the client uses
// the OAuth2 username-password flow; otherwise it uses the SOAP partner login
// with the password and security token.
func NewClient(ctx context.Context, creds credentials.Salesforce, opts ...Option) (*Client, error) {
	o := options{
		loginURL:     strings.TrimRight(creds.LoginURL, "/"),
		apiVersion:   DefaultAPIVersion,
		logger:       slog.Default(),
		limit:        rate.Limit(20),
		burst:        5,
		retries:      DefaultRetries,
		pollInterval: DefaultPollInterval,
		pollTimeout:  DefaultPollTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.loginURL == "" {
		o.loginURL = DefaultLoginURL
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = o.retries
	rc.Logger = o.logger
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if o.httpClient != nil {
		rc.HTTPClient = o.httpClient
	}

	// A retried login counts as another failed attempt against the user's
	// lockout limit.
	once := retryablehttp.NewClient()
	once.RetryMax = 0
	once.Logger = o.logger
	once.ErrorHandler = retryablehttp.PassthroughErrorHandler
	once.HTTPClient = rc.HTTPClient

	c := &Client{
		http:         rc,
		once:         once,
		apiVersion:   o.apiVersion,
		limiter:      rate.NewLimiter(o.limit, o.burst),
		logger:       o.logger,
		pollInterval: o.pollInterval,
		pollTimeout:  o.pollTimeout,
	}

	var (
		tok *oauth2.Token
		err error
	)
	if creds.UseOAuth() {
		tok, c.instanceURL, err = c.oauthLogin(ctx, o.loginURL, creds)
	} else {
		tok, c.instanceURL, err = c.soapLogin(ctx, o.loginURL, creds)
	}
	if err != nil {
		return nil, err
	}
	c.tokens = oauth2.StaticTokenSource(tok)

	c.logger.Info("logged in to salesforce", "instance", c.instanceURL, "oauth", creds.UseOAuth())
	return c, nil
}

// InstanceURL returns the org's API host.
func (c *Client) InstanceURL() string { return c.instanceURL }

// Runner returns a QueryRunner backed by Query, or by BulkQuery when bulk is
// true.
func (c *Client) Runner(bulk bool) etlkit.QueryRunner {
	if bulk {
		return etlkit.QueryRunnerFunc(c.BulkQuery)
	}
	return etlkit.QueryRunnerFunc(c.Query)
}

// dataPath returns the versioned REST path for suffix.
func (c *Client) dataPath(suffix string) string {
	return fmt.Sprintf("/services/data/v%s%s", c.apiVersion, suffix)
}

// do sends an authenticated request to the instance. path may be absolute
// on the instance (starting with /) or a full URL. Non-2xx responses are
// returned as *APIError. POST requests create server-side state and are
// sent once; other methods are retried.
func (c *Client) do(ctx context.Context, method, path string, body []byte, accept string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := path
	if strings.HasPrefix(path, "/") {
		u = c.instanceURL + path
	}

	var rb any
	if body != nil {
		rb = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, rb)
	if err != nil {
		return nil, err
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}
	tok.SetAuthHeader(req.Request)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	hc := c.http
	if method == http.MethodPost {
		hc = c.once
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, apiError(resp)
	}
	return resp, nil
}

// doJSON sends in (when not nil) as JSON and decodes the response into out.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return err
		}
	}
	resp, err := c.do(ctx, method, path, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, err = io.Copy(io.Discard, resp.Body)
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
