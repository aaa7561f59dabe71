package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:    "dailycast",
		Usage:   "Scheduled content posts and broadcasts for Telegram",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "./config.yaml",
				Usage:   "path to the config file (yaml or json)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run the bot: polling, stream schedules and operator commands",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runBot(ctx, cmd.String("config"))
				},
			},
			{
				Name:  "broadcast",
				Usage: "Run one pass of a stream now and exit",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "stream",
						Aliases:  []string{"s"},
						Required: true,
						Usage:    "stream name",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runOnce(ctx, cmd.String("config"), cmd.String("stream"))
				},
			},
			{
				Name:  "next",
				Usage: "Print the next scheduled pass of each stream",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "stream",
						Aliases: []string{"s"},
						Usage:   "only this stream",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return printNext(cmd.String("config"), cmd.String("stream"))
				},
			},
			{
				Name:  "validate",
				Usage: "Check the config file and exit",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return validate(cmd.String("config"))
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
