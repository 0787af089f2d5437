package main

import (
	"fmt"
	"log/slog"

	"github.com/carlmjohnson/versioninfo"
	"github.com/gorilla/sessions"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	id4me "github.com/eyduh/user-oidc"
	"github.com/eyduh/user-oidc/internal/secretcipher"
)

func main() {
	godotenv.Load()

	app := &cli.App{
		Name:    "id4me-login-server",
		Usage:   "federated login server using ID4me domain discovery",
		Version: versioninfo.Short(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   ":7070",
				EnvVars: []string{"ID4ME_ADDR"},
			},
			&cli.StringFlag{
				Name:     "redirect-uri",
				Usage:    "public callback url, e.g. https://login.example.com/id4me/code",
				Required: true,
				EnvVars:  []string{"ID4ME_REDIRECT_URI"},
			},
			&cli.StringFlag{
				Name:    "client-name",
				Value:   "id4me-login-server",
				EnvVars: []string{"ID4ME_CLIENT_NAME"},
			},
			&cli.StringFlag{
				Name:     "cookie-secret",
				Required: true,
				EnvVars:  []string{"ID4ME_COOKIE_SECRET"},
			},
			&cli.StringFlag{
				Name:     "encryption-key",
				Usage:    "base64 key protecting client secrets at rest, see `helper generate-key`",
				Required: true,
				EnvVars:  []string{"ID4ME_ENCRYPTION_KEY"},
			},
			&cli.StringFlag{
				Name:    "db-path",
				Value:   "id4me.db",
				EnvVars: []string{"ID4ME_DB_PATH"},
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "return diagnostic error bodies instead of generic ones",
				EnvVars: []string{"ID4ME_DEBUG"},
			},
		},
		Action: run,
	}

	app.RunAndExitOnError()
}

func run(cmd *cli.Context) error {
	logger := slog.Default()

	key, err := secretcipher.KeyFromBase64(cmd.String("encryption-key"))
	if err != nil {
		return err
	}

	cipher, err := secretcipher.New(key)
	if err != nil {
		return err
	}

	db, err := gorm.Open(sqlite.Open(cmd.String("db-path")), &gorm.Config{TranslateError: true})
	if err != nil {
		return fmt.Errorf("could not open database: %w", err)
	}

	if err := db.AutoMigrate(&AuthorityClient{}, &User{}); err != nil {
		return fmt.Errorf("could not migrate database: %w", err)
	}

	cookieSecret := []byte(cmd.String("cookie-secret"))

	server := NewServer(ServerArgs{
		Db:          db,
		Id4meClient: id4me.NewClient(id4me.ClientArgs{}),
		Cipher:      cipher,
		Store:       sessions.NewCookieStore(cookieSecret),
		Logger:      logger,
		ClientName:  cmd.String("client-name"),
		RedirectUri: cmd.String("redirect-uri"),
		JwtSecret:   cookieSecret,
		Debug:       cmd.Bool("debug"),
	})

	logger.Info("starting http server", "addr", cmd.String("addr"), "version", versioninfo.Short())

	return server.start(cmd.String("addr"))
}
