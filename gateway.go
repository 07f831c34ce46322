package main

/* satgate is an HTTP gateway over public satellite imagery. It renders
   XYZ map tiles from Sentinel-2 scenes and arbitrary Cloud Optimized
   GeoTIFFs, proxies STAC catalog searches and runs aggregation, index
   and mosaic jobs in the background. Configuration is read from a YAML
   file layered with SATGATE_ environment variables. */

import (
	"fmt"
	"os"

	cli "gopkg.in/urfave/cli.v1"

	"github.com/nci/satgate/utils"
)

func createCliApp() *cli.App {
	app := cli.NewApp()
	app.Name = "satgate"
	app.Usage = "satellite imagery tile and processing gateway"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "path to the YAML config file",
			EnvVar: utils.ConfigPathEnvVar,
		},
	}
	app.Commands = cli.Commands{
		cli.Command{
			Name:   "serve",
			Usage:  "Serve tiles, catalog search and processing jobs",
			Action: serveAction,
		},
		cli.Command{
			Name:      "migrate",
			Usage:     "Apply the scene cache schema migrations",
			ArgsUsage: "[up|down|status|version]",
			Action:    migrateAction,
		},
		cli.Command{
			Name:   "check-conf",
			Usage:  "Validate the config and print the effective values",
			Action: checkConfAction,
		},
	}
	return app
}

func checkConfAction(c *cli.Context) error {
	cfg, err := utils.LoadConfig(c.GlobalString("config"))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	out, err := utils.DumpConfig(cfg)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	fmt.Print(out)
	return nil
}

func main() {
	if err := createCliApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "satgate: %v\n", err)
		os.Exit(1)
	}
}
