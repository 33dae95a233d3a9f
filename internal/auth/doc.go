// Package auth obtains and holds access tokens for the event bus.
//
// # Overview
//
// The package provides:
//  1. Credentials and Flow: the configuration surface. A Credentials value is
//     converted into a flow-specific Grant (ClientCredentialsGrant or
//     PasswordGrant) and validated before any network traffic happens.
//  2. Client: executes the OAuth2 client-credentials or username-password
//     grant against <instance_url>/services/oauth2/token and returns a Token.
//     It never retries and never mutates a TokenStore; the caller decides.
//  3. TokenStore: the single-writer/multi-reader holder of the current Token.
//     Readers get a snapshot; Install replaces the token atomically.
//  4. LoadCredentials: reads the JSON credentials file.
//
// # Error Handling
//
// Every failure is an *Error carrying a Kind (KindInvalidCredentials,
// KindNetworkFailure, KindServerRejected, KindExpired). Use errors.As to
// inspect it, or errors.Is with ErrInvalidCredentials, ErrNetworkFailure,
// ErrServerRejected and ErrExpired. TokenStore.Current returns
// ErrNotAuthenticated until a token is installed.
package auth
