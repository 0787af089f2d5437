package main

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

const loginSessionMaxAge = 86400 * 7

// getOrCreateUser resolves the local account bound to an (authority client,
// subject) pair, provisioning one on first login.
func (s *Server) getOrCreateUser(authorityClientID uint, subject string) (*User, error) {
	var user User
	err := s.db.Where("authority_client_id = ? AND subject = ?", authorityClientID, subject).
		First(&user).Error
	if err == nil {
		return &user, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user = User{
		ID:                uuid.NewString(),
		AuthorityClientID: authorityClientID,
		Subject:           subject,
	}

	if err := s.db.Create(&user).Error; err != nil {
		return nil, err
	}

	return &user, nil
}

// sessionToken mints the signed token handed to the browser alongside the
// login cookie.
func (s *Server) sessionToken(user *User) (string, error) {
	now := time.Now()

	claims := jwt.MapClaims{
		"sub": user.ID,
		"iat": now.Unix(),
		"exp": now.Add(loginSessionMaxAge * time.Second).Unix(),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

// establishLoginSession replaces whatever is in the browser session with an
// authenticated login for the given user.
func (s *Server) establishLoginSession(e echo.Context, user *User) error {
	token, err := s.sessionToken(user)
	if err != nil {
		return err
	}

	sess := s.browserSession(e)

	sess.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   loginSessionMaxAge,
		HttpOnly: true,
	}

	// make sure the session is empty
	sess.Values = map[interface{}]interface{}{}
	sess.Values["user_id"] = user.ID
	sess.Values["session_token"] = token

	return sess.Save(e.Request(), e.Response())
}

// loggedInUser returns the user behind the current session, if any.
func (s *Server) loggedInUser(e echo.Context) (*User, bool, error) {
	sess := s.browserSession(e)

	userID, ok := sess.Values["user_id"].(string)
	if !ok || userID == "" {
		return nil, false, nil
	}

	var user User
	if err := s.db.Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return &user, true, nil
}
