package id4me

import "errors"

var (
	// ErrInvalidDomain is returned when the user-supplied domain is not a
	// syntactically valid DNS name.
	ErrInvalidDomain = errors.New("invalid domain")

	// ErrDiscoveryNotFound is returned when the domain carries no usable
	// identity record.
	ErrDiscoveryNotFound = errors.New("no identity record found for domain")

	// ErrInvalidAuthority is returned when the discovered authority serves
	// malformed or untrusted issuer metadata.
	ErrInvalidAuthority = errors.New("invalid authority")

	// ErrRegistrationFailed is returned when dynamic client registration
	// with the authority does not yield usable credentials.
	ErrRegistrationFailed = errors.New("client registration failed")

	// ErrTokenExchange is returned when the token endpoint is unreachable,
	// rejects the code, or returns a malformed body.
	ErrTokenExchange = errors.New("token exchange failed")

	// ErrMalformedIdentityToken is returned when the identity token is not a
	// well-formed three-segment compact serialization.
	ErrMalformedIdentityToken = errors.New("malformed identity token")
)
