package main

import (
	"errors"
	"fmt"
	"html/template"
	"net/url"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"

	id4me "github.com/eyduh/user-oidc"
)

const loginScope = "openid email profile"

func (s *Server) handleLoginPage(e echo.Context) error {
	return e.HTML(200, `<html><body>
<form action="/id4me/login" method="post">
<label for="domain">Your domain</label>
<input type="text" id="domain" name="domain" placeholder="you.example.org">
<button type="submit">Sign in</button>
</form>
</body></html>`)
}

// handleLogin starts the flow: discover the authority behind the submitted
// domain, make sure we hold a registered client for it, bind fresh
// anti-forgery state to the browser session, and send the user off to the
// authority's authorization endpoint.
func (s *Server) handleLogin(e echo.Context) error {
	ctx := e.Request().Context()

	domain := e.FormValue("domain")
	if domain == "" {
		return s.flowError(e, 400, "invalid_domain", "invalid OpenID domain")
	}

	authority, err := s.id4me.ResolveAuthority(ctx, domain)
	if err != nil {
		s.logger.Debug("authority discovery failed", "domain", domain, "err", err)
		return s.flowError(e, 400, "invalid_domain", "invalid OpenID domain")
	}

	config, err := s.id4me.FetchOpenIDConfiguration(ctx, authority)
	if err != nil {
		s.logger.Debug("authority configuration fetch failed", "authority", authority, "err", err)
		return s.flowError(e, 400, "invalid_authority", "invalid OpenID authority")
	}

	client, err := s.getOrRegisterClient(ctx, authority, config)
	if err != nil {
		s.logger.Warn("could not resolve client for authority", "authority", authority, "err", err)
		if errors.Is(err, errAmbiguousAuthorityClient) {
			return s.flowError(e, 400, "ambiguous_authority", "invalid OpenID authority")
		}
		if errors.Is(err, errRegistrationConflict) {
			return s.flowError(e, 400, "registration_conflict", "could not register with OpenID authority")
		}
		return s.flowError(e, 400, "registration_failed", "could not register with OpenID authority")
	}

	flow, err := s.beginFlowSession(e, authority)
	if err != nil {
		return err
	}

	u, err := url.Parse(config.AuthorizationEndpoint)
	if err != nil {
		return s.flowError(e, 400, "invalid_authority", "invalid OpenID authority")
	}

	u.RawQuery = url.Values{
		"client_id":     {client.ClientId},
		"response_type": {"code"},
		"scope":         {loginScope},
		"redirect_uri":  {s.redirectUri},
		"state":         {flow.State},
		"nonce":         {flow.Nonce},
	}.Encode()

	return e.Redirect(302, u.String())
}

// handleCallback finishes the flow: verify the anti-forgery state, exchange
// the code for tokens, validate the identity token's audience, and log the
// bound local user in. Every failure is terminal; the user restarts at login.
func (s *Server) handleCallback(e echo.Context) error {
	ctx := e.Request().Context()

	resState := e.QueryParam("state")
	resCode := e.QueryParam("code")

	flow, err := s.consumeFlowSession(e)
	if err != nil {
		return err
	}

	if flow.State == "" || resState != flow.State {
		s.logger.Debug("callback state mismatch", "received", resState)
		s.abuse.ReportSecurityEvent(e.RealIP(), "state_mismatch")

		if s.debug {
			return e.JSON(403, map[string]string{
				"error":          "state_mismatch",
				"received_state": resState,
				"expected_state": flow.State,
			})
		}

		return s.flowError(e, 403, "state_mismatch", "login flow state did not match")
	}

	config, err := s.id4me.FetchOpenIDConfiguration(ctx, flow.Authority)
	if err != nil {
		s.logger.Debug("authority configuration fetch failed", "authority", flow.Authority, "err", err)
		return s.flowError(e, 400, "invalid_authority", "invalid OpenID authority")
	}

	client, err := s.findAuthorityClient(flow.Authority)
	if err != nil {
		// not-found and ambiguous both end the flow; without exactly one
		// credential set there is nothing to exchange the code with
		s.logger.Debug("no usable client for authority", "authority", flow.Authority, "err", err)
		return s.flowError(e, 400, "authority_not_found", "unknown OpenID authority")
	}

	clientSecret, err := s.cipher.Decrypt(client.EncryptedClientSecret)
	if err != nil {
		s.logger.Error("client secret decrypt failed", "authority", flow.Authority, "err", err)
		return s.flowError(e, 400, "login_failed", "login failed")
	}

	tokens, err := s.id4me.ExchangeCode(ctx, config, client.ClientId, clientSecret, s.redirectUri, resCode)
	if err != nil {
		s.logger.Debug("token exchange failed", "authority", flow.Authority, "err", err)
		return s.flowError(e, 400, "token_exchange_failed", "login failed")
	}

	identity, err := id4me.ParseIdentityToken(tokens.IdToken)
	if err != nil {
		s.logger.Debug("identity token parse failed", "authority", flow.Authority, "err", err)
		return s.flowError(e, 400, "invalid_token", "login failed")
	}

	if len(identity.Audience) != 1 || identity.Audience[0] != client.ClientId {
		s.logger.Debug("identity token audience mismatch", "authority", flow.Authority, "audience", identity.Audience)
		s.abuse.ReportSecurityEvent(e.RealIP(), "audience_mismatch")
		return s.flowError(e, 403, "audience_mismatch", "login failed")
	}

	// The nonce bound to the flow at login is not compared against the
	// token's nonce claim, and the token's signature and expiry are not
	// checked. Known limitations carried over from the behavior this flow
	// replicates.

	if identity.Subject == "" {
		s.logger.Debug("identity token carried no subject", "authority", flow.Authority)
		return s.flowError(e, 400, "invalid_token", "login failed")
	}

	user, err := s.getOrCreateUser(client.ID, identity.Subject)
	if err != nil {
		s.logger.Error("could not provision user", "authority", flow.Authority, "err", err)
		return s.flowError(e, 400, "login_failed", "login failed")
	}

	if err := s.establishLoginSession(e, user); err != nil {
		return err
	}

	return e.Redirect(302, "/")
}

func (s *Server) handleIndex(e echo.Context) error {
	user, ok, err := s.loggedInUser(e)
	if err != nil {
		return err
	}

	if !ok {
		return e.Redirect(302, "/id4me/login-page")
	}

	return e.HTML(200, fmt.Sprintf(
		`<html><body><p>Signed in as %s</p><a href="/logout">Log out</a></body></html>`,
		template.HTMLEscapeString(user.Subject),
	))
}

func (s *Server) handleLogout(e echo.Context) error {
	sess := s.browserSession(e)

	sess.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	}

	if err := sess.Save(e.Request(), e.Response()); err != nil {
		return err
	}

	return e.Redirect(302, "/id4me/login-page")
}
