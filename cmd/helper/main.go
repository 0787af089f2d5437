package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/eyduh/user-oidc/internal/secretcipher"
)

func main() {
	app := &cli.App{
		Name: "id4me-login-helper",
		Commands: []*cli.Command{
			runGenerateKey,
		},
	}

	app.RunAndExitOnError()
}

var runGenerateKey = &cli.Command{
	Name:  "generate-key",
	Usage: "generate the key that protects client secrets at rest",
	Action: func(cmd *cli.Context) error {
		key, err := secretcipher.GenerateKey()
		if err != nil {
			return err
		}

		fmt.Println(secretcipher.KeyToBase64(key))

		return nil
	},
}
