package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/Swind/go-mainthread/config"
)

func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect configuration",
		Subcommands: []*cli.Command{
			{
				Name:   "print",
				Usage:  "Print the effective configuration as YAML",
				Action: ConfigPrintAction,
			},
		},
	}
}

func ConfigPrintAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to load config: %v", err), 1)
	}
	out, err := config.Marshal(cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	_, err = c.App.Writer.Write(out)
	return err
}
