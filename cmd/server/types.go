package main

import "time"

// AuthorityClient is the OAuth client this relying party registered with one
// identity authority. One row per authority; rows are created on the first
// login through that authority and never updated or deleted by the login
// flow. The secret is stored encrypted and the plaintext never hits the
// database.
type AuthorityClient struct {
	ID                    uint
	Identifier            string `gorm:"uniqueIndex"`
	ClientId              string
	EncryptedClientSecret string
	CreatedAt             time.Time
}

// User binds an (authority, subject) pair to a local account. Created on the
// first successful callback for the pair, read thereafter.
type User struct {
	ID                string `gorm:"primaryKey"`
	AuthorityClientID uint   `gorm:"uniqueIndex:idx_users_authority_subject"`
	Subject           string `gorm:"uniqueIndex:idx_users_authority_subject"`
	CreatedAt         time.Time
}
