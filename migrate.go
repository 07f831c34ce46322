package main

import (
	"errors"

	"github.com/pressly/goose"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/nci/satgate/catalog"
	_ "github.com/nci/satgate/catalog/migrations"
	"github.com/nci/satgate/logging"
	"github.com/nci/satgate/utils"
)

func migrateAction(c *cli.Context) error {
	cfg, err := utils.LoadConfig(c.GlobalString("config"))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	logger := logging.Init(loggingConfig(cfg))

	if len(cfg.Catalog.PostgresDSN) == 0 {
		return cli.NewExitError(errors.New("catalog.postgres_dsn is not set").Error(), 1)
	}
	db, err := catalog.OpenPostgres(cfg.Catalog.PostgresDSN, 1)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer db.Close()

	command := "up"
	if c.NArg() > 0 {
		command = c.Args().First()
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	logger.Info().Str("command", command).Msg("running scene cache migrations")
	if err := goose.Run(command, db, "."); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	return nil
}
