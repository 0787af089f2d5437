package main

import (
	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"

	"github.com/eyduh/user-oidc/internal/helpers"
)

const (
	sessionName = "session"

	// state and nonce length, drawn from a 36-symbol alphabet
	flowTokenLength = 32
)

// flowSession is the anti-forgery state carried between the login request
// and the callback: the state and nonce issued at login plus the authority
// the flow was started against, which the callback parameters do not carry.
type flowSession struct {
	State     string
	Nonce     string
	Authority string
}

// browserSession fetches the caller's session. A cookie that fails to decode
// is attacker-controlled input, not a server fault: the store hands back a
// fresh session in its place and the flow continues as if none existed.
func (s *Server) browserSession(e echo.Context) *sessions.Session {
	sess, err := session.Get(sessionName, e)
	if err != nil {
		s.logger.Debug("could not decode session cookie", "err", err)
	}

	return sess
}

// beginFlowSession generates fresh state and nonce values and binds them,
// together with the authority name, to the caller's browser session. Any
// previous flow in the same session is overwritten.
func (s *Server) beginFlowSession(e echo.Context, authority string) (*flowSession, error) {
	state, err := helpers.RandomToken(flowTokenLength)
	if err != nil {
		return nil, err
	}

	nonce, err := helpers.RandomToken(flowTokenLength)
	if err != nil {
		return nil, err
	}

	sess := s.browserSession(e)

	sess.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   300, // save for five minutes
		HttpOnly: true,
	}

	// make sure the session is empty
	sess.Values = map[interface{}]interface{}{}
	sess.Values["flow_state"] = state
	sess.Values["flow_nonce"] = nonce
	sess.Values["flow_authority"] = authority

	if err := sess.Save(e.Request(), e.Response()); err != nil {
		return nil, err
	}

	return &flowSession{State: state, Nonce: nonce, Authority: authority}, nil
}

// consumeFlowSession reads the pending flow out of the browser session and
// clears it, making each state value good for exactly one callback. The
// returned flow is empty when no login preceded the callback or when the
// presented cookie could not be decoded.
func (s *Server) consumeFlowSession(e echo.Context) (*flowSession, error) {
	sess := s.browserSession(e)

	fs := &flowSession{}

	if v, ok := sess.Values["flow_state"].(string); ok {
		fs.State = v
	}
	if v, ok := sess.Values["flow_nonce"].(string); ok {
		fs.Nonce = v
	}
	if v, ok := sess.Values["flow_authority"].(string); ok {
		fs.Authority = v
	}

	delete(sess.Values, "flow_state")
	delete(sess.Values, "flow_nonce")
	delete(sess.Values, "flow_authority")

	if err := sess.Save(e.Request(), e.Response()); err != nil {
		return nil, err
	}

	return fs, nil
}
