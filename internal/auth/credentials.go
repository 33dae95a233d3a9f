package auth

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Flow selects the OAuth2 grant used to obtain a token.
type Flow int

const (
	// FlowClientCredentials is the server-to-server grant. It is the default.
	FlowClientCredentials Flow = iota + 1
	// FlowUsernamePassword is the resource owner password grant.
	FlowUsernamePassword
)

func (f Flow) String() string {
	switch f {
	case FlowClientCredentials:
		return "client_credentials"
	case FlowUsernamePassword:
		return "username_password"
	default:
		return "unknown"
	}
}

func (f Flow) MarshalText() ([]byte, error) {
	if f != FlowClientCredentials && f != FlowUsernamePassword {
		return nil, fmt.Errorf("unknown auth flow %d", int(f))
	}
	return []byte(f.String()), nil
}

func (f *Flow) UnmarshalText(b []byte) error {
	flow, err := ParseFlow(string(b))
	if err != nil {
		return err
	}
	*f = flow
	return nil
}

// ParseFlow accepts "client_credentials" or "username_password"
// (an empty string selects the default).
func ParseFlow(s string) (Flow, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "client_credentials":
		return FlowClientCredentials, nil
	case "username_password", "password":
		return FlowUsernamePassword, nil
	default:
		return 0, fmt.Errorf("unknown auth flow %q", s)
	}
}

// Credentials as issued for a connected app. Which fields are required
// depends on the Flow; see Grant.
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	InstanceURL  string `json:"instance_url"`
	TenantID     string `json:"tenant_id"`
}

// Grant is the flow-specific form of Credentials. Only the two grant types
// below implement it.
type Grant interface {
	Flow() Flow
	isGrant()
}

type ClientCredentialsGrant struct {
	ClientID     string
	ClientSecret string
}

func (ClientCredentialsGrant) Flow() Flow { return FlowClientCredentials }
func (ClientCredentialsGrant) isGrant()   {}

type PasswordGrant struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

func (PasswordGrant) Flow() Flow { return FlowUsernamePassword }
func (PasswordGrant) isGrant()   {}

// Grant validates c for flow and returns the matching grant.
func (c Credentials) Grant(flow Flow) (Grant, error) {
	if flow == 0 {
		flow = FlowClientCredentials
	}
	if c.ClientID == "" {
		return nil, invalidCredentials(flow, "client_id is required")
	}
	if c.ClientSecret == "" {
		return nil, invalidCredentials(flow, "client_secret is required")
	}

	switch flow {
	case FlowClientCredentials:
		return ClientCredentialsGrant{ClientID: c.ClientID, ClientSecret: c.ClientSecret}, nil
	case FlowUsernamePassword:
		if c.Username == "" {
			return nil, invalidCredentials(flow, "username is required")
		}
		if c.Password == "" {
			return nil, invalidCredentials(flow, "password is required")
		}
		return PasswordGrant{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			Username:     c.Username,
			Password:     c.Password,
		}, nil
	default:
		return nil, invalidCredentials(flow, "unsupported auth flow")
	}
}

// instanceBase parses InstanceURL and strips a trailing slash.
func (c Credentials) instanceBase(flow Flow) (string, error) {
	if c.InstanceURL == "" {
		return "", invalidCredentials(flow, "instance_url is required")
	}
	u, err := url.Parse(c.InstanceURL)
	if err != nil {
		return "", &Error{Kind: KindInvalidCredentials, Flow: flow, Message: "invalid instance_url", Err: err}
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return "", invalidCredentials(flow, fmt.Sprintf("invalid instance_url %q: absolute http(s) URL expected", c.InstanceURL))
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// LoadCredentials reads a JSON credentials file:
//
//	{
//	  "client_id": "...",
//	  "client_secret": "...",
//	  "instance_url": "https://example.my.salesforce.com",
//	  "tenant_id": "00D...",
//	  "username": "optional",
//	  "password": "optional"
//	}
func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, credentialsFileError(path, ErrReadCredentials, err)
	}

	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return Credentials{}, credentialsFileError(path, ErrParseCredentials, err)
	}
	return c, nil
}

func credentialsFileError(path string, kind, err error) *Error {
	return &Error{
		Kind:    KindInvalidCredentials,
		Message: "credentials file " + path,
		Err:     fmt.Errorf("%w: %w", kind, err),
	}
}

// MissingSource is the error for a session built without a credentials
// source.
func MissingSource(flow Flow) *Error {
	return &Error{Kind: KindInvalidCredentials, Flow: flow, Err: ErrMissingCredentials}
}

// CredentialsSource defers where credentials come from until connect time.
// A session calls Load before every authentication, so a rotated file is
// picked up on the next token refresh.
type CredentialsSource interface {
	Load() (Credentials, error)
}

type fileSource string

func (p fileSource) Load() (Credentials, error) { return LoadCredentials(string(p)) }

type valueSource Credentials

func (v valueSource) Load() (Credentials, error) { return Credentials(v), nil }

// FromFile reads credentials from a JSON file on every Load.
func FromFile(path string) CredentialsSource { return fileSource(path) }

// FromValue returns c as-is.
func FromValue(c Credentials) CredentialsSource { return valueSource(c) }
