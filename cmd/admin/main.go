package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "avatar-admin",
		Usage: "operator tooling for the avatar generation pipeline",
		Commands: []*cli.Command{
			{
				Name:  "credits",
				Usage: "credit ledger commands",
				Commands: []*cli.Command{
					{
						Name:  "grant",
						Usage: "grant paid credits to an account",
						Flags: []cli.Flag{
							envFlag(),
							userFlag(),
							&cli.IntFlag{Name: "amount", Usage: "number of credits"},
							&cli.StringFlag{Name: "package", Usage: "credit package (1_credit, 5_credits, 10_credits)"},
						},
						Action: CreditsGrantAction,
					},
				},
			},
			{
				Name:  "account",
				Usage: "account commands",
				Commands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "show an account's balances",
						Flags:  []cli.Flag{envFlag(), userFlag()},
						Action: AccountShowAction,
					},
				},
			},
			{
				Name:  "job",
				Usage: "job commands",
				Commands: []*cli.Command{
					{
						Name:  "show",
						Usage: "show one job",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{Name: "id", Usage: "job id", Required: true},
						},
						Action: JobShowAction,
					},
					{
						Name:  "list",
						Usage: "list an account's jobs, newest first",
						Flags: []cli.Flag{
							envFlag(),
							userFlag(),
							&cli.IntFlag{Name: "limit", Value: 20},
							&cli.IntFlag{Name: "offset", Value: 0},
						},
						Action: JobListAction,
					},
					{
						Name:  "stuck",
						Usage: "list jobs that have been processing for too long",
						Flags: []cli.Flag{
							envFlag(),
							&cli.DurationFlag{Name: "older-than", Usage: "defaults to STUCK_AFTER"},
							&cli.IntFlag{Name: "limit", Value: 100},
						},
						Action: JobStuckAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envFlag() cli.Flag {
	return &cli.StringFlag{Name: "env", Usage: "path to env file", Value: ".env"}
}

func userFlag() cli.Flag {
	return &cli.StringFlag{Name: "user", Usage: "account id", Required: true}
}
