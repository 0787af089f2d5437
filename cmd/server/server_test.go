package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	id4me "github.com/eyduh/user-oidc"
	"github.com/eyduh/user-oidc/internal/secretcipher"
)

// fakeAuthority is an in-process identity authority: configuration document,
// dynamic registration, and token endpoint.
type fakeAuthority struct {
	ts *httptest.Server

	mu            sync.Mutex
	registerCalls int
	tokenCalls    int

	clientId     string
	clientSecret string
	tokenSubject string

	// tokenAudience overrides the aud claim in issued identity tokens;
	// empty means the registered client id
	tokenAudience string

	// tokenStatus makes the token endpoint fail with the given status;
	// zero means success
	tokenStatus int

	// idTokenOverride replaces the signed identity token in the response
	idTokenOverride string

	// onRegister runs inside the registration handler, before the
	// response is written
	onRegister func()
}

func newFakeAuthority(t *testing.T) *fakeAuthority {
	t.Helper()

	a := &fakeAuthority{
		clientId:     "C1",
		clientSecret: "S1",
		tokenSubject: "user42",
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		issuer := a.ts.URL
		json.NewEncoder(w).Encode(map[string]any{
			"issuer":                   issuer,
			"authorization_endpoint":   issuer + "/authorize",
			"token_endpoint":           issuer + "/token",
			"registration_endpoint":    issuer + "/register",
			"jwks_uri":                 issuer + "/jwks",
			"scopes_supported":         []string{"openid", "email", "profile"},
			"response_types_supported": []string{"code"},
			"grant_types_supported":    []string{"authorization_code"},
		})
	})

	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.registerCalls++
		hook := a.onRegister
		a.mu.Unlock()

		if hook != nil {
			hook()
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"client_id":     a.clientId,
			"client_secret": a.clientSecret,
		})
	})

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.tokenCalls++
		a.mu.Unlock()

		user, pass, ok := r.BasicAuth()
		if !ok || user != a.clientId || pass != a.clientSecret {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_client"})
			return
		}

		if a.tokenStatus != 0 {
			w.WriteHeader(a.tokenStatus)
			json.NewEncoder(w).Encode(map[string]string{"error": "server_error"})
			return
		}

		aud := a.tokenAudience
		if aud == "" {
			aud = a.clientId
		}

		idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"iss": a.ts.URL,
			"sub": a.tokenSubject,
			"aud": aud,
		}).SignedString([]byte("authority-signing-key"))
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		if a.idTokenOverride != "" {
			idToken = a.idTokenOverride
		}

		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "AT",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		})
	})

	a.ts = httptest.NewTLSServer(mux)
	t.Cleanup(a.ts.Close)

	return a
}

func (a *fakeAuthority) host() string {
	return strings.TrimPrefix(a.ts.URL, "https://")
}

func (a *fakeAuthority) counts() (register, token int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registerCalls, a.tokenCalls
}

type testEnv struct {
	server    *Server
	authority *fakeAuthority
	db        *gorm.DB
	abuse     *memoryAbuseReporter
}

func newTestEnv(t *testing.T, debug bool) *testEnv {
	t.Helper()

	authority := newFakeAuthority(t)

	db, err := gorm.Open(
		sqlite.Open(filepath.Join(t.TempDir(), "test.db")),
		&gorm.Config{TranslateError: true},
	)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&AuthorityClient{}, &User{}))

	key, err := secretcipher.GenerateKey()
	require.NoError(t, err)

	cipher, err := secretcipher.New(key)
	require.NoError(t, err)

	client := id4me.NewClient(id4me.ClientArgs{
		H: authority.ts.Client(),
		LookupTXT: func(ctx context.Context, name string) ([]string, error) {
			switch name {
			case "_openid.good.example", "_openid.other.example":
				return []string{"v=OID1;iss=" + authority.host()}, nil
			default:
				return nil, fmt.Errorf("no such record: %s", name)
			}
		},
	})

	abuse := newMemoryAbuseReporter()

	server := NewServer(ServerArgs{
		Db:          db,
		Id4meClient: client,
		Cipher:      cipher,
		Store:       sessions.NewCookieStore([]byte("test-cookie-secret")),
		Logger:      slog.Default(),
		Abuse:       abuse,
		ClientName:  "test-relying-party",
		RedirectUri: "https://rp.example/id4me/code",
		JwtSecret:   []byte("test-jwt-secret"),
		Debug:       debug,
	})

	return &testEnv{
		server:    server,
		authority: authority,
		db:        db,
		abuse:     abuse,
	}
}

func (env *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.server.echo.ServeHTTP(rec, req)
	return rec
}

// sessionCookie returns the most recent session cookie set on a response.
func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionName {
			cookie = c
		}
	}

	require.NotNil(t, cookie, "expected a session cookie on the response")
	return cookie
}

// login runs the login phase for a domain and returns the session cookie and
// the authorization redirect url.
func (env *testEnv) login(t *testing.T, domain string) (*http.Cookie, *url.URL) {
	t.Helper()

	rec := env.do(httptest.NewRequest("GET", "/id4me/login?domain="+domain, nil))
	require.Equal(t, 302, rec.Code, "login should redirect, body: %s", rec.Body.String())

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)

	return sessionCookie(t, rec), loc
}

func TestLoginRedirect(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t, false)

	_, loc := env.login(t, "good.example")

	assert.Equal(env.authority.host(), loc.Host)
	assert.Equal("/authorize", loc.Path)

	q := loc.Query()
	assert.Equal("C1", q.Get("client_id"))
	assert.Equal("code", q.Get("response_type"))
	assert.Equal("openid email profile", q.Get("scope"))
	assert.Equal("https://rp.example/id4me/code", q.Get("redirect_uri"))
	assert.Len(q.Get("state"), 32)
	assert.Len(q.Get("nonce"), 32)
	assert.NotEqual(q.Get("state"), q.Get("nonce"))
	assert.Contains(loc.RawQuery, "scope=openid+email+profile")

	register, _ := env.authority.counts()
	assert.Equal(1, register)

	var client AuthorityClient
	assert.NoError(env.db.Where("identifier = ?", env.authority.host()).First(&client).Error)
	assert.Equal("C1", client.ClientId)
	assert.NotContains(client.EncryptedClientSecret, "S1")
}

func TestLoginReusesRegisteredClient(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t, false)

	env.login(t, "good.example")
	env.login(t, "good.example")

	// a second domain behind the same authority reuses the client too
	env.login(t, "other.example")

	register, _ := env.authority.counts()
	assert.Equal(1, register)

	var count int64
	assert.NoError(env.db.Model(&AuthorityClient{}).Count(&count).Error)
	assert.EqualValues(1, count)
}

func TestLoginInvalidDomain(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t, false)

	for _, domain := range []string{"", "unknown.example", "not%20a%20domain"} {
		rec := env.do(httptest.NewRequest("GET", "/id4me/login?domain="+domain, nil))
		assert.Equal(400, rec.Code)
		assert.Contains(rec.Body.String(), "invalid_domain")
	}

	register, _ := env.authority.counts()
	assert.Equal(0, register)
}

func TestCallbackSuccess(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	env := newTestEnv(t, false)

	cookie, loc := env.login(t, "good.example")
	state := loc.Query().Get("state")

	req := httptest.NewRequest("GET", "/id4me/code?state="+state+"&code=some-code&scope=openid", nil)
	req.AddCookie(cookie)

	rec := env.do(req)
	require.Equal(302, rec.Code, "callback should redirect, body: %s", rec.Body.String())
	assert.Equal("/", rec.Header().Get("Location"))

	_, token := env.authority.counts()
	assert.Equal(1, token)

	var client AuthorityClient
	require.NoError(env.db.Where("identifier = ?", env.authority.host()).First(&client).Error)

	var user User
	require.NoError(env.db.Where("authority_client_id = ? AND subject = ?", client.ID, "user42").First(&user).Error)
	assert.NotEmpty(user.ID)

	// the response establishes a logged-in session
	loggedIn := sessionCookie(t, rec)
	indexReq := httptest.NewRequest("GET", "/", nil)
	indexReq.AddCookie(loggedIn)

	indexRec := env.do(indexReq)
	assert.Equal(200, indexRec.Code)
	assert.Contains(indexRec.Body.String(), "user42")
}

func TestCallbackProvisionsUserOnce(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t, false)

	for range 2 {
		cookie, loc := env.login(t, "good.example")
		state := loc.Query().Get("state")

		req := httptest.NewRequest("GET", "/id4me/code?state="+state+"&code=some-code&scope=openid", nil)
		req.AddCookie(cookie)

		rec := env.do(req)
		assert.Equal(302, rec.Code)
	}

	var count int64
	assert.NoError(env.db.Model(&User{}).Count(&count).Error)
	assert.EqualValues(1, count)
}

func TestCallbackStateMismatch(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t, false)

	cookie, _ := env.login(t, "good.example")

	req := httptest.NewRequest("GET", "/id4me/code?state=WRONG&code=some-code&scope=openid", nil)
	req.AddCookie(cookie)

	rec := env.do(req)
	assert.Equal(403, rec.Code)
	assert.Contains(rec.Body.String(), "state_mismatch")

	// generic posture reveals nothing about the expected state
	assert.NotContains(rec.Body.String(), "expected_state")

	// no token exchange happened
	_, token := env.authority.counts()
	assert.Equal(0, token)

	assert.Equal(1, env.abuse.events("192.0.2.1", "state_mismatch"))

	var count int64
	assert.NoError(env.db.Model(&User{}).Count(&count).Error)
	assert.EqualValues(0, count)
}

func TestCallbackStateMismatchDebugPosture(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	env := newTestEnv(t, true)

	cookie, loc := env.login(t, "good.example")
	state := loc.Query().Get("state")

	req := httptest.NewRequest("GET", "/id4me/code?state=WRONG&code=some-code&scope=openid", nil)
	req.AddCookie(cookie)

	rec := env.do(req)
	assert.Equal(403, rec.Code)

	var body map[string]string
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal("state_mismatch", body["error"])
	assert.Equal("WRONG", body["received_state"])
	assert.Equal(state, body["expected_state"])
}

func TestCallbackWithCorruptSessionCookie(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t, false)

	// a cookie that does not decode gets the same posture as a missing
	// flow, not an internal error
	req := httptest.NewRequest("GET", "/id4me/code?state=ANYTHING&code=some-code&scope=openid", nil)
	req.AddCookie(&http.Cookie{Name: sessionName, Value: "garbage-not-a-valid-session"})

	rec := env.do(req)
	assert.Equal(403, rec.Code)
	assert.Contains(rec.Body.String(), "state_mismatch")

	_, token := env.authority.counts()
	assert.Equal(0, token)

	assert.Equal(1, env.abuse.events("192.0.2.1", "state_mismatch"))
}

func TestLoginWithCorruptSessionCookie(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t, false)

	// login discards the undecodable cookie and starts a fresh flow
	req := httptest.NewRequest("GET", "/id4me/login?domain=good.example", nil)
	req.AddCookie(&http.Cookie{Name: sessionName, Value: "garbage-not-a-valid-session"})

	rec := env.do(req)
	assert.Equal(302, rec.Code, "body: %s", rec.Body.String())

	loc, err := url.Parse(rec.Header().Get("Location"))
	assert.NoError(err)
	assert.Len(loc.Query().Get("state"), 32)
}

func TestCallbackAuthorityClientMissing(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	env := newTestEnv(t, false)

	cookie, loc := env.login(t, "good.example")
	state := loc.Query().Get("state")

	// the credentials vanish between login and callback
	require.NoError(env.db.Where("identifier = ?", env.authority.host()).
		Delete(&AuthorityClient{}).Error)

	req := httptest.NewRequest("GET", "/id4me/code?state="+state+"&code=some-code&scope=openid", nil)
	req.AddCookie(cookie)

	rec := env.do(req)
	assert.Equal(400, rec.Code)
	assert.Contains(rec.Body.String(), "authority_not_found")

	_, token := env.authority.counts()
	assert.Equal(0, token)
}

func TestCallbackTokenEndpointFailure(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t, false)

	env.authority.tokenStatus = http.StatusBadRequest

	cookie, loc := env.login(t, "good.example")
	state := loc.Query().Get("state")

	req := httptest.NewRequest("GET", "/id4me/code?state="+state+"&code=some-code&scope=openid", nil)
	req.AddCookie(cookie)

	rec := env.do(req)
	assert.Equal(400, rec.Code)
	assert.Contains(rec.Body.String(), "token_exchange_failed")

	var count int64
	assert.NoError(env.db.Model(&User{}).Count(&count).Error)
	assert.EqualValues(0, count)
}

func TestCallbackMalformedIdentityToken(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t, false)

	env.authority.idTokenOverride = "not.a-real.token"

	cookie, loc := env.login(t, "good.example")
	state := loc.Query().Get("state")

	req := httptest.NewRequest("GET", "/id4me/code?state="+state+"&code=some-code&scope=openid", nil)
	req.AddCookie(cookie)

	rec := env.do(req)
	assert.Equal(400, rec.Code)
	assert.Contains(rec.Body.String(), "invalid_token")

	var count int64
	assert.NoError(env.db.Model(&User{}).Count(&count).Error)
	assert.EqualValues(0, count)
}

func TestLoginRegistrationConflict(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t, false)

	// a concurrent first login wins the insert while our registration is
	// in flight with the authority
	env.authority.onRegister = func() {
		env.db.Create(&AuthorityClient{
			Identifier:            env.authority.host(),
			ClientId:              "C-winner",
			EncryptedClientSecret: "irrelevant",
		})
	}

	rec := env.do(httptest.NewRequest("GET", "/id4me/login?domain=good.example", nil))
	assert.Equal(400, rec.Code)
	assert.Contains(rec.Body.String(), "registration_conflict")

	// the winner's row is untouched
	var clients []AuthorityClient
	assert.NoError(env.db.Find(&clients).Error)
	assert.Len(clients, 1)
	assert.Equal("C-winner", clients[0].ClientId)
}

func TestCallbackWithoutPriorLogin(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t, false)

	rec := env.do(httptest.NewRequest("GET", "/id4me/code?state=ANYTHING&code=some-code&scope=openid", nil))
	assert.Equal(403, rec.Code)
	assert.Contains(rec.Body.String(), "state_mismatch")

	_, token := env.authority.counts()
	assert.Equal(0, token)
}

func TestCallbackAudienceMismatch(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t, false)

	env.authority.tokenAudience = "C2"

	cookie, loc := env.login(t, "good.example")
	state := loc.Query().Get("state")

	req := httptest.NewRequest("GET", "/id4me/code?state="+state+"&code=some-code&scope=openid", nil)
	req.AddCookie(cookie)

	rec := env.do(req)
	assert.Equal(403, rec.Code)
	assert.Contains(rec.Body.String(), "audience_mismatch")

	// no user was provisioned and no session established
	var count int64
	assert.NoError(env.db.Model(&User{}).Count(&count).Error)
	assert.EqualValues(0, count)

	assert.Equal(1, env.abuse.events("192.0.2.1", "audience_mismatch"))
}

func TestCallbackDecryptFailureLeaksNothing(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	env := newTestEnv(t, false)

	cookie, loc := env.login(t, "good.example")
	state := loc.Query().Get("state")

	// corrupt the stored secret so decryption fails
	const bogus = "bogus-ciphertext-value"
	require.NoError(env.db.Model(&AuthorityClient{}).
		Where("identifier = ?", env.authority.host()).
		Update("encrypted_client_secret", bogus).Error)

	req := httptest.NewRequest("GET", "/id4me/code?state="+state+"&code=some-code&scope=openid", nil)
	req.AddCookie(cookie)

	rec := env.do(req)
	assert.Equal(400, rec.Code)
	assert.NotContains(rec.Body.String(), "S1")
	assert.NotContains(rec.Body.String(), bogus)

	_, token := env.authority.counts()
	assert.Equal(0, token)
}

func TestLogout(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t, false)

	cookie, loc := env.login(t, "good.example")
	state := loc.Query().Get("state")

	req := httptest.NewRequest("GET", "/id4me/code?state="+state+"&code=some-code&scope=openid", nil)
	req.AddCookie(cookie)
	loggedIn := sessionCookie(t, env.do(req))

	logoutReq := httptest.NewRequest("GET", "/logout", nil)
	logoutReq.AddCookie(loggedIn)

	rec := env.do(logoutReq)
	assert.Equal(302, rec.Code)
	assert.Equal(-1, sessionCookie(t, rec).MaxAge)
}
