package id4me

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExchangeCode trades an authorization code for tokens at the authority's
// token endpoint, authenticating with HTTP basic auth as the registered
// client.
func (c *Client) ExchangeCode(ctx context.Context, config *OpenIDConfiguration, clientId, clientSecret, redirectUri, code string) (*TokenResponse, error) {
	if config == nil {
		return nil, fmt.Errorf("nil configuration provided")
	}

	params := url.Values{
		"code":          {code},
		"client_id":     {clientId},
		"client_secret": {clientSecret},
		"redirect_uri":  {redirectUri},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, "POST", config.TokenEndpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("error creating token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(clientId, clientSecret)

	resp, err := c.h.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: received status %d from token endpoint", ErrTokenExchange, resp.StatusCode)
	}

	var tokenResponse TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		return nil, fmt.Errorf("%w: could not decode token response: %v", ErrTokenExchange, err)
	}

	if tokenResponse.IdToken == "" {
		return nil, fmt.Errorf("%w: token response contained no id_token", ErrTokenExchange)
	}

	return &tokenResponse, nil
}

// IdentityToken holds the decoded segments of a compact-serialized identity
// token.
type IdentityToken struct {
	Raw      string
	Header   map[string]any
	Claims   jwt.MapClaims
	Subject  string
	Audience []string
	Issuer   string
	Nonce    string
	Expiry   *time.Time
}

// ParseIdentityToken splits a compact-serialized identity token into its
// header, payload, and signature segments and decodes the claims.
//
// Known limitation: the signature is not verified against the authority's
// published keys, and the expiry claim is decoded but not enforced. Callers
// that need either guarantee must add it themselves.
func ParseIdentityToken(raw string) (*IdentityToken, error) {
	parser := jwt.NewParser()

	claims := jwt.MapClaims{}
	token, _, err := parser.ParseUnverified(raw, claims)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedIdentityToken, err)
	}

	it := &IdentityToken{
		Raw:    raw,
		Header: token.Header,
		Claims: claims,
	}

	if sub, err := claims.GetSubject(); err == nil {
		it.Subject = sub
	}

	if aud, err := claims.GetAudience(); err == nil {
		it.Audience = []string(aud)
	}

	if iss, err := claims.GetIssuer(); err == nil {
		it.Issuer = iss
	}

	if nonce, ok := claims["nonce"].(string); ok {
		it.Nonce = nonce
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		it.Expiry = &exp.Time
	}

	return it, nil
}
