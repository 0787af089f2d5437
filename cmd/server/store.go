package main

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	id4me "github.com/eyduh/user-oidc"
)

var (
	errAuthorityClientNotFound  = errors.New("no client registered for authority")
	errAmbiguousAuthorityClient = errors.New("multiple clients registered for authority")
	errRegistrationConflict     = errors.New("concurrent registration for authority")
)

// findAuthorityClient looks up the registered client for an authority. More
// than one row for the same identifier is a data-integrity violation; we
// refuse to guess which one to use.
func (s *Server) findAuthorityClient(identifier string) (*AuthorityClient, error) {
	var clients []AuthorityClient
	if err := s.db.Where("identifier = ?", identifier).Find(&clients).Error; err != nil {
		return nil, err
	}

	switch len(clients) {
	case 0:
		return nil, errAuthorityClientNotFound
	case 1:
		return &clients[0], nil
	default:
		return nil, errAmbiguousAuthorityClient
	}
}

// getOrRegisterClient returns the client registered for an authority,
// performing dynamic registration on first contact.
//
// There is a gap between the lookup and the insert: two first logins racing
// through here may both register with the authority. The unique index on
// Identifier guarantees only one row wins; the loser surfaces
// errRegistrationConflict and the user restarts the flow.
func (s *Server) getOrRegisterClient(ctx context.Context, authority string, config *id4me.OpenIDConfiguration) (*AuthorityClient, error) {
	client, err := s.findAuthorityClient(authority)
	if err == nil {
		return client, nil
	}

	if !errors.Is(err, errAuthorityClientNotFound) {
		return nil, err
	}

	registration, err := s.id4me.RegisterClient(ctx, config, s.clientName, s.redirectUri)
	if err != nil {
		return nil, err
	}

	encrypted, err := s.cipher.Encrypt(registration.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("could not encrypt client secret: %w", err)
	}

	client = &AuthorityClient{
		Identifier:            authority,
		ClientId:              registration.ClientId,
		EncryptedClientSecret: encrypted,
	}

	if err := s.db.Create(client).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: %s", errRegistrationConflict, authority)
		}
		return nil, err
	}

	return client, nil
}
