package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentials_Grant(t *testing.T) {
	base := Credentials{ClientID: "id", ClientSecret: "secret", InstanceURL: "https://x.my.salesforce.com", TenantID: "00D"}

	tests := []struct {
		name    string
		creds   Credentials
		flow    Flow
		want    Grant
		wantMsg string
	}{
		{
			name:  "client credentials",
			creds: base,
			flow:  FlowClientCredentials,
			want:  ClientCredentialsGrant{ClientID: "id", ClientSecret: "secret"},
		},
		{
			name:  "zero flow defaults to client credentials",
			creds: base,
			want:  ClientCredentialsGrant{ClientID: "id", ClientSecret: "secret"},
		},
		{
			name:    "client credentials without secret",
			creds:   Credentials{ClientID: "id"},
			flow:    FlowClientCredentials,
			wantMsg: "client_secret is required",
		},
		{
			name:    "missing client id",
			creds:   Credentials{ClientSecret: "s"},
			flow:    FlowClientCredentials,
			wantMsg: "client_id is required",
		},
		{
			name: "password grant",
			creds: Credentials{ClientID: "id", ClientSecret: "secret", Username: "u@example.com", Password: "pw"},
			flow: FlowUsernamePassword,
			want: PasswordGrant{ClientID: "id", ClientSecret: "secret", Username: "u@example.com", Password: "pw"},
		},
		{
			name:    "password grant without username",
			creds:   Credentials{ClientID: "id", ClientSecret: "secret", Password: "pw"},
			flow:    FlowUsernamePassword,
			wantMsg: "username is required",
		},
		{
			name:    "password grant without password",
			creds:   Credentials{ClientID: "id", ClientSecret: "secret", Username: "u"},
			flow:    FlowUsernamePassword,
			wantMsg: "password is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := tt.creds.Grant(tt.flow)
			if tt.wantMsg != "" {
				require.ErrorIs(t, err, ErrInvalidCredentials)
				var ae *Error
				require.ErrorAs(t, err, &ae)
				assert.Equal(t, KindInvalidCredentials, ae.Kind)
				assert.Equal(t, tt.wantMsg, ae.Message)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, g)
			assert.Equal(t, tt.want.Flow(), g.Flow())
		})
	}
}

func TestCredentials_InstanceBase(t *testing.T) {
	c := Credentials{InstanceURL: "https://acme.my.salesforce.com/"}
	base, err := c.instanceBase(FlowClientCredentials)
	require.NoError(t, err)
	assert.Equal(t, "https://acme.my.salesforce.com", base)

	for _, bad := range []string{"", "acme.my.salesforce.com", "ftp://acme", "://"} {
		_, err := Credentials{InstanceURL: bad}.instanceBase(FlowClientCredentials)
		require.ErrorIs(t, err, ErrInvalidCredentials, "url %q", bad)
	}
}

func TestParseFlow(t *testing.T) {
	f, err := ParseFlow("")
	require.NoError(t, err)
	assert.Equal(t, FlowClientCredentials, f)

	f, err = ParseFlow("USERNAME_PASSWORD")
	require.NoError(t, err)
	assert.Equal(t, FlowUsernamePassword, f)

	_, err = ParseFlow("jwt_bearer")
	require.Error(t, err)
}

func TestFlow_TextRoundTrip(t *testing.T) {
	var cfg struct {
		Flow Flow `json:"flow"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"flow":"username_password"}`), &cfg))
	assert.Equal(t, FlowUsernamePassword, cfg.Flow)

	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"flow":"username_password"}`, string(b))

	_, err = Flow(42).MarshalText()
	require.Error(t, err)
}

func TestLoadCredentials(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(dir, "creds.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"client_id": "cid",
			"client_secret": "csecret",
			"instance_url": "https://acme.my.salesforce.com",
			"tenant_id": "00D000000000001"
		}`), 0o600))

		c, err := LoadCredentials(path)
		require.NoError(t, err)
		assert.Equal(t, Credentials{
			ClientID:     "cid",
			ClientSecret: "csecret",
			InstanceURL:  "https://acme.my.salesforce.com",
			TenantID:     "00D000000000001",
		}, c)

		fromSource, err := FromFile(path).Load()
		require.NoError(t, err)
		assert.Equal(t, c, fromSource)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadCredentials(filepath.Join(dir, "nope.json"))
		require.ErrorIs(t, err, os.ErrNotExist)
		assert.ErrorIs(t, err, ErrReadCredentials)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		assert.NotErrorIs(t, err, ErrParseCredentials)
	})

	t.Run("invalid json", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"client_id":`), 0o600))
		_, err := LoadCredentials(path)
		require.ErrorIs(t, err, ErrParseCredentials)
		assert.NotErrorIs(t, err, ErrReadCredentials)
		assert.ErrorContains(t, err, "credentials file "+path)

		var ae *Error
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, KindInvalidCredentials, ae.Kind)
	})
}

func TestMissingSource(t *testing.T) {
	err := MissingSource(FlowUsernamePassword)
	assert.ErrorIs(t, err, ErrMissingCredentials)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, FlowUsernamePassword, err.Flow)
}

func TestFromValue(t *testing.T) {
	c := Credentials{ClientID: "a"}
	got, err := FromValue(c).Load()
	require.NoError(t, err)
	assert.Equal(t, c, got)
}
