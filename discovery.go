package id4me

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bluesky-social/indigo/atproto/syntax"
)

// identityRecordPrefix is the label under which a domain publishes its ID4me
// identity record.
const identityRecordPrefix = "_openid."

// ResolveAuthority resolves a user-supplied domain to the name of its
// identity authority by reading the domain's `_openid` TXT record.
//
// Discovery failures are not transient in this flow: a domain without a
// usable record fails the login outright and is never retried.
func (c *Client) ResolveAuthority(ctx context.Context, domain string) (string, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))

	if _, err := syntax.ParseHandle(domain); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDomain, err)
	}

	recs, err := c.lookupTXT(ctx, identityRecordPrefix+domain)
	if err != nil {
		return "", fmt.Errorf("%w: txt lookup for %s failed: %v", ErrDiscoveryNotFound, domain, err)
	}

	for _, rec := range recs {
		if authority, ok := parseIdentityRecord(rec); ok {
			return authority, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrDiscoveryNotFound, domain)
}

// parseIdentityRecord extracts the authority name from an ID4me identity
// record of the form `v=OID1;iss=<authority>;clp=<claims provider>`.
func parseIdentityRecord(rec string) (string, bool) {
	var version, issuer string

	for _, field := range strings.Split(rec, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(field), "=")
		if !ok {
			continue
		}

		switch k {
		case "v":
			version = v
		case "iss":
			issuer = v
		}
	}

	if version != "OID1" || issuer == "" {
		return "", false
	}

	return issuer, true
}

// FetchOpenIDConfiguration fetches and validates the OpenID configuration
// document published by the named authority.
func (c *Client) FetchOpenIDConfiguration(ctx context.Context, authority string) (*OpenIDConfiguration, error) {
	u, err := authorityURL(authority)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAuthority, err)
	}

	u.Path = "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request for openid configuration: %w", err)
	}

	resp, err := c.h.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: could not get response from authority: %v", ErrInvalidAuthority, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: received non-200 response from authority. code was %d", ErrInvalidAuthority, resp.StatusCode)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read body for configuration response: %w", err)
	}

	var config OpenIDConfiguration
	if err := config.UnmarshalJSON(b); err != nil {
		return nil, fmt.Errorf("%w: could not unmarshal configuration: %v", ErrInvalidAuthority, err)
	}

	if err := config.Validate(authority); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAuthority, err)
	}

	return &config, nil
}
