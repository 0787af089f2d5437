package id4me

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// OpenIDConfiguration is the subset of an authority's published OpenID
// configuration document that this client consumes.
type OpenIDConfiguration struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint"`
	JwksUri                           string   `json:"jwks_uri"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ClaimsParameterSupported          bool     `json:"claims_parameter_supported"`
}

func (oc *OpenIDConfiguration) UnmarshalJSON(b []byte) error {
	type Tmp OpenIDConfiguration
	var tmp Tmp

	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}

	*oc = OpenIDConfiguration(tmp)

	return nil
}

// Validate checks that the configuration document plausibly belongs to the
// named authority and supports the authorization code flow.
func (oc *OpenIDConfiguration) Validate(authority string) error {
	if authority == "" {
		return fmt.Errorf("authority was empty")
	}

	iu, err := url.Parse(oc.Issuer)
	if err != nil {
		return err
	}

	if iu.Scheme != "https" {
		return fmt.Errorf("issuer url is not https")
	}

	if iu.Host != authority {
		return fmt.Errorf("issuer host does not match discovered authority")
	}

	if iu.Path != "" && iu.Path != "/" {
		return fmt.Errorf("issuer path is not /")
	}

	if iu.RawQuery != "" {
		return fmt.Errorf("issuer url params are not empty")
	}

	if oc.AuthorizationEndpoint == "" {
		return fmt.Errorf("authorization_endpoint is empty")
	}

	if oc.TokenEndpoint == "" {
		return fmt.Errorf("token_endpoint is empty")
	}

	if oc.RegistrationEndpoint == "" {
		return fmt.Errorf("registration_endpoint is empty")
	}

	if !tokenInSet("code", oc.ResponseTypesSupported) {
		return fmt.Errorf("`code` is not in response_types_supported")
	}

	if len(oc.GrantTypesSupported) > 0 && !tokenInSet("authorization_code", oc.GrantTypesSupported) {
		return fmt.Errorf("`authorization_code` is not in grant_types_supported")
	}

	return nil
}

// ClientRegistration is the credential set an authority issues during
// dynamic client registration.
type ClientRegistration struct {
	ClientId              string `json:"client_id"`
	ClientSecret          string `json:"client_secret"`
	ClientIdIssuedAt      int64  `json:"client_id_issued_at"`
	ClientSecretExpiresAt int64  `json:"client_secret_expires_at"`
}

func (cr *ClientRegistration) UnmarshalJSON(b []byte) error {
	type Tmp ClientRegistration
	var tmp Tmp

	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}

	*cr = ClientRegistration(tmp)

	return nil
}

// TokenResponse is the body returned by the authority's token endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	IdToken     string `json:"id_token"`
	Scope       string `json:"scope"`
}

func tokenInSet(token string, set []string) bool {
	for _, t := range set {
		if t == token {
			return true
		}
	}

	return false
}
