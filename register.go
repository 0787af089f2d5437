package id4me

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type registrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectUris            []string `json:"redirect_uris"`
	ApplicationType         string   `json:"application_type"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// RegisterClient performs dynamic client registration against the authority
// described by config.
//
// Registration is not idempotent at the protocol level: every call creates a
// fresh registration and the authority issues fresh credentials. Callers are
// responsible for persisting the result and not calling this again for the
// same authority.
func (c *Client) RegisterClient(ctx context.Context, config *OpenIDConfiguration, clientName, redirectUri string) (*ClientRegistration, error) {
	if config == nil {
		return nil, fmt.Errorf("nil configuration provided")
	}

	if clientName == "" || redirectUri == "" {
		return nil, fmt.Errorf("client name and redirect uri are required for registration")
	}

	body, err := json.Marshal(registrationRequest{
		ClientName:              clientName,
		RedirectUris:            []string{redirectUri},
		ApplicationType:         "native",
		GrantTypes:              []string{"authorization_code"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "client_secret_basic",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", config.RegistrationEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error creating registration request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.h.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: received status %d from registration endpoint", ErrRegistrationFailed, resp.StatusCode)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read registration response body: %w", err)
	}

	var registration ClientRegistration
	if err := registration.UnmarshalJSON(b); err != nil {
		return nil, fmt.Errorf("%w: could not unmarshal registration response: %v", ErrRegistrationFailed, err)
	}

	if registration.ClientId == "" || registration.ClientSecret == "" {
		return nil, fmt.Errorf("%w: registration response was missing credentials", ErrRegistrationFailed)
	}

	return &registration, nil
}
