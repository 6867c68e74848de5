package cmd

import "github.com/urfave/cli/v2"

// NewApp assembles the mainthreadctl command tree.
func NewApp() *cli.App {
	return &cli.App{
		Name:  "mainthreadctl",
		Usage: "Drive background work onto a single main thread",
		Flags: GlobalFlags(),
		Commands: []*cli.Command{
			RunCommand(),
			TuiCommand(),
			ConfigCommand(),
		},
	}
}
