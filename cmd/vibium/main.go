package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	vibium "github.com/vibium/vibium-go"
	"github.com/vibium/vibium-go/clicker"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "vibium",
		Usage: "drive a browser through the clicker daemon",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging.",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "resolve",
				Usage: "Print the path of the clicker binary that would be used.",
				Action: func(ctx *cli.Context) error {
					path, err := clicker.Resolve("")
					if err != nil {
						return err
					}
					fmt.Println(path)
					return nil
				},
			},
			{
				Name:  "screenshot",
				Usage: "Navigate to a URL and save a screenshot.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "url",
						Usage:    "The URL to navigate to.",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "out",
						Usage: "The file to write the PNG to.",
						Value: "screenshot.png",
					},
					&cli.BoolFlag{
						Name:  "headless",
						Usage: "Run the browser without a visible window.",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Per-command timeout.",
						Value: 30 * time.Second,
					},
				},
				Action: func(ctx *cli.Context) error {
					logger, err := buildLogger(ctx.Bool("verbose"))
					if err != nil {
						return err
					}

					opts := []vibium.LaunchOption{
						vibium.WithLogger(logger),
						vibium.WithCommandTimeout(ctx.Duration("timeout")),
					}
					if ctx.Bool("headless") {
						opts = append(opts, vibium.WithHeadless())
					}

					vibe, err := vibium.Launch(ctx.Context, opts...)
					if err != nil {
						return fmt.Errorf("launching browser: %w", err)
					}
					defer vibe.Close()

					if err := vibe.Go(ctx.Context, ctx.String("url")); err != nil {
						return fmt.Errorf("navigating to %s: %w", ctx.String("url"), err)
					}
					png, err := vibe.Screenshot(ctx.Context)
					if err != nil {
						return fmt.Errorf("capturing screenshot: %w", err)
					}
					out := ctx.String("out")
					if err := os.WriteFile(out, png, 0644); err != nil {
						return fmt.Errorf("writing %s: %w", out, err)
					}
					fmt.Println(out)
					return nil
				},
			},
			{
				Name:  "version",
				Usage: "Print the clicker release this client is built against.",
				Action: func(ctx *cli.Context) error {
					fmt.Println(clicker.Version)
					return nil
				},
			},
		},
	}

	ctx := context.Background()
	err := app.RunContext(ctx, os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
