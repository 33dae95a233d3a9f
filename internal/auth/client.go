package auth

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/dmitrijs2005/sfpubsub/internal/logging"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	DefaultAuthorizePath = "/services/oauth2/authorize"
	DefaultTokenPath     = "/services/oauth2/token"

	// DefaultTokenLifetime is assumed when the server reports no expiry and
	// the access token is not a JWT.
	DefaultTokenLifetime = 30 * time.Minute
)

// Client executes OAuth2 grants against the instance token endpoint.
type Client struct {
	httpClient *http.Client
	tokenPath  string
	lifetime   time.Duration
	now        func() time.Time
	logger     logging.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithTokenPath(p string) Option {
	return func(c *Client) { c.tokenPath = p }
}

func WithDefaultTokenLifetime(d time.Duration) Option {
	return func(c *Client) { c.lifetime = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func WithLogger(l logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			// token endpoints must answer directly; a redirect usually means a wrong instance URL
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		tokenPath: DefaultTokenPath,
		lifetime:  DefaultTokenLifetime,
		now:       time.Now,
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("module", "auth")
	return c
}

// Authenticate runs the grant selected by flow and returns the resulting
// token. Credentials are validated before any request is made.
func (c *Client) Authenticate(ctx context.Context, creds Credentials, flow Flow) (Token, error) {
	if flow == 0 {
		flow = FlowClientCredentials
	}

	grant, err := creds.Grant(flow)
	if err != nil {
		return Token{}, err
	}
	base, err := creds.instanceBase(flow)
	if err != nil {
		return Token{}, err
	}

	tokenURL := base + c.tokenPath
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	var tok *oauth2.Token
	switch g := grant.(type) {
	case ClientCredentialsGrant:
		cfg := clientcredentials.Config{
			ClientID:     g.ClientID,
			ClientSecret: g.ClientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		tok, err = cfg.Token(ctx)
	case PasswordGrant:
		cfg := oauth2.Config{
			ClientID:     g.ClientID,
			ClientSecret: g.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + DefaultAuthorizePath,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}
		tok, err = cfg.PasswordCredentialsToken(ctx, g.Username, g.Password)
	}
	if err != nil {
		c.logger.Warn(ctx, "token exchange failed", "flow", flow.String(), "error", err)
		return Token{}, mapError(flow, err)
	}

	t := c.toToken(tok, base)
	c.logger.Info(ctx, "token acquired", "flow", flow.String(), "instance_url", t.InstanceURL, "expires_at", t.ExpiresAt)
	return t, nil
}

func (c *Client) toToken(tok *oauth2.Token, base string) Token {
	t := Token{AccessToken: tok.AccessToken, InstanceURL: base}

	if v, ok := tok.Extra("instance_url").(string); ok && v != "" {
		t.InstanceURL = v
	}

	switch {
	case !tok.Expiry.IsZero():
		t.ExpiresAt = tok.Expiry
	default:
		if exp, ok := expiryFromJWT(tok.AccessToken); ok {
			t.ExpiresAt = exp
		} else {
			t.ExpiresAt = c.now().Add(c.lifetime)
		}
	}
	return t
}

func mapError(flow Flow, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		e := &Error{
			Kind:    KindServerRejected,
			Flow:    flow,
			Code:    re.ErrorCode,
			Message: re.ErrorDescription,
			Err:     err,
		}
		if re.Response != nil {
			e.StatusCode = re.Response.StatusCode
		}
		return e
	}

	var ue *url.Error
	var ne net.Error
	if errors.As(err, &ue) || errors.As(err, &ne) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindNetworkFailure, Flow: flow, Err: err}
	}

	// 2xx with an unusable body
	return &Error{Kind: KindServerRejected, Flow: flow, Message: "malformed token response", Err: err}
}
