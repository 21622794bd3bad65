package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/saiset-co/vinyl-tracker/config"
	"github.com/saiset-co/vinyl-tracker/health"
	"github.com/saiset-co/vinyl-tracker/service"
	"github.com/saiset-co/vinyl-tracker/utils"
)

func main() {
	app := &cli.App{
		Name:  "vinyl-tracker",
		Usage: "vinyl collection backend with an in-process cache",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yml",
				Usage:   "path to the YAML config",
				EnvVars: []string{"VINYL_TRACKER_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "start",
				Usage:  "Start the service and block until SIGINT/SIGTERM",
				Action: start,
			},
			{
				Name:   "config",
				Usage:  "Print the effective config after defaults and validation",
				Action: printConfig,
			},
			{
				Name:  "version",
				Usage: "Print build information",
				Action: func(*cli.Context) error {
					fmt.Println(health.ReadBuildInfo().String())
					return nil
				},
			},
		},
		Action: start,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "vinyl-tracker: %v\n", err)
		os.Exit(1)
	}
}

func start(c *cli.Context) error {
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	svc, err := service.NewService(ctx, c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	return svc.Start()
}

func printConfig(c *cli.Context) error {
	cfg, err := config.NewLoader().LoadFromFile(c.Context, c.String("config"))
	if err != nil {
		return err
	}

	data, err := utils.Marshal(cfg)
	if err != nil {
		return err
	}

	fmt.Println(string(data))
	return nil
}
