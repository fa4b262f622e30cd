// Package credentials - Microsoft identity platform OAuth2 for the EWS/
// Microsoft 365 mail source family.
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	msTokenEndpointTemplate = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	msDefaultTenant         = "common"
)

// EWSOAuth handles the OAuth2 authorization-code and refresh-token flows
// against the Microsoft identity platform that EWS/Graph mailbox access
// requires.
type EWSOAuth struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	httpClient   *http.Client

	// endpointOverride replaces tokenEndpoint()'s computed URL outright,
	// for tests that stand up a local token endpoint instead of calling
	// out to Microsoft.
	endpointOverride string
}

// NewEWSOAuth creates a new EWS OAuth handler. Client credentials and
// tenant fall back to environment variables when not given explicitly.
func NewEWSOAuth(tenantID, clientID, clientSecret string) *EWSOAuth {
	if tenantID == "" {
		tenantID = os.Getenv("OS2DS_EWS_TENANT_ID")
	}
	if tenantID == "" {
		tenantID = msDefaultTenant
	}
	if clientID == "" {
		clientID = os.Getenv("OS2DS_EWS_CLIENT_ID")
	}
	if clientSecret == "" {
		clientSecret = os.Getenv("OS2DS_EWS_CLIENT_SECRET")
	}

	return &EWSOAuth{
		TenantID:     tenantID,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// TokenResponse is the Microsoft identity platform token response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
	IDToken      string `json:"id_token,omitempty"`
}

func (e *EWSOAuth) tokenEndpoint() string {
	if e.endpointOverride != "" {
		return e.endpointOverride
	}
	return fmt.Sprintf(msTokenEndpointTemplate, e.TenantID)
}

// ExchangeCode exchanges an authorization code for a mailbox access token.
func (e *EWSOAuth) ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (*TokenResponse, error) {
	data := url.Values{
		"client_id":     {e.ClientID},
		"client_secret": {e.ClientSecret},
		"code":          {code},
		"code_verifier": {codeVerifier},
		"redirect_uri":  {redirectURI},
		"grant_type":    {"authorization_code"},
	}
	return e.postForm(ctx, data, "token exchange")
}

// RefreshToken refreshes a mailbox access token using its refresh token.
// TokenCache.Rotate calls it when a lease is near expiry; no code path
// calls it in response to a 401 from EWS.
func (e *EWSOAuth) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	data := url.Values{
		"client_id":     {e.ClientID},
		"client_secret": {e.ClientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}
	return e.postForm(ctx, data, "token refresh")
}

func (e *EWSOAuth) postForm(ctx context.Context, data url.Values, action string) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", e.tokenEndpoint(), bytes.NewBufferString(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", action, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s failed: %s", action, string(body))
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	return &tokenResp, nil
}

// bearerClaims is the subset of an Azure AD v2 access token's claims the
// scanner cares about: who it was issued to and when it expires. EWS access
// tokens are JWTs, so these can be read without a round trip even before
// the server ever rejects the token.
type bearerClaims struct {
	jwt.RegisteredClaims
	UPN string `json:"upn"`
}

// BearerToken wraps an access token string with its decoded principal and
// expiry, as returned by ParseBearerToken. No pipeline stage reads it; the
// refresh ahead of expiry is TokenCache.Token's, driven by the lease's own
// ExpiresAt.
type BearerToken struct {
	Raw       string
	Principal string
	ExpiresAt time.Time
}

// ParseBearerToken decodes an access token's claims without verifying its
// signature: the token was already validated by Microsoft at issuance, and
// the scanner never accepts it as proof of identity, only as a credential
// to present back to EWS.
func ParseBearerToken(raw string) (*BearerToken, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	var claims bearerClaims
	if _, _, err := parser.ParseUnverified(raw, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse bearer token: %w", err)
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	return &BearerToken{
		Raw:       raw,
		Principal: claims.UPN,
		ExpiresAt: expiresAt,
	}, nil
}
