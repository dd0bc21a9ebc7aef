package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/livetriage/internal/config"
)

// ConfigCommand returns the config subcommand for initializing and
// validating configuration files.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage livetriage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a sample configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "path",
						Value: "livetriage.toml",
						Usage: "Where to write the sample config",
					},
				},
				Action: func(c *cli.Context) error {
					path := c.String("path")
					if err := config.InitConfig(path); err != nil {
						return err
					}
					fmt.Printf("Wrote sample configuration to %s\n", path)
					return nil
				},
			},
			{
				Name:  "validate",
				Usage: "Check the configuration file",
				Action: func(c *cli.Context) error {
					cfg, err := config.LoadConfig(c.String("config"))
					if err != nil {
						return err
					}
					if err := config.Validate(cfg); err != nil {
						return err
					}
					fmt.Println("Configuration OK")
					return nil
				},
			},
		},
	}
}
