package main

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	slogecho "github.com/samber/slog-echo"
	"gorm.io/gorm"

	id4me "github.com/eyduh/user-oidc"
	"github.com/eyduh/user-oidc/internal/secretcipher"
)

type Server struct {
	echo        *echo.Echo
	db          *gorm.DB
	id4me       *id4me.Client
	cipher      *secretcipher.Cipher
	logger      *slog.Logger
	abuse       abuseReporter
	clientName  string
	redirectUri string
	jwtSecret   []byte

	// debug switches error responses into a diagnostic shape that reveals
	// flow internals. Never enable it in production posture.
	debug bool
}

type ServerArgs struct {
	Db          *gorm.DB
	Id4meClient *id4me.Client
	Cipher      *secretcipher.Cipher
	Store       sessions.Store
	Logger      *slog.Logger
	Abuse       abuseReporter
	ClientName  string
	RedirectUri string
	JwtSecret   []byte
	Debug       bool
}

func NewServer(args ServerArgs) *Server {
	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	if args.Abuse == nil {
		args.Abuse = newMemoryAbuseReporter()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(args.Logger))
	e.Use(session.Middleware(args.Store))

	s := &Server{
		echo:        e,
		db:          args.Db,
		id4me:       args.Id4meClient,
		cipher:      args.Cipher,
		logger:      args.Logger,
		abuse:       args.Abuse,
		clientName:  args.ClientName,
		redirectUri: args.RedirectUri,
		jwtSecret:   args.JwtSecret,
		debug:       args.Debug,
	}

	e.GET("/", s.handleIndex)
	e.GET("/id4me/login-page", s.handleLoginPage)
	e.GET("/id4me/login", s.handleLogin)
	e.POST("/id4me/login", s.handleLogin)
	e.GET("/id4me/code", s.handleCallback)
	e.GET("/logout", s.handleLogout)

	return s
}

func (s *Server) start(addr string) error {
	httpd := http.Server{
		Addr:    addr,
		Handler: s.echo,
	}

	return httpd.ListenAndServe()
}

// flowError is the terminal response for a failed login or callback. The
// body carries a machine-readable reason code next to the message shown to
// the user.
func (s *Server) flowError(e echo.Context, status int, code, message string) error {
	return e.JSON(status, map[string]string{
		"error":   code,
		"message": message,
	})
}
