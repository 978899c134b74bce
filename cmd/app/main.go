package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"raffle-ledger-backend/internal/common/logger"
)

// @title           Raffle Ledger API
// @version         1.0
// @description     Ticket inventory, raffle lifecycle, loyalty points and referrals for the raffle Mini App.

// @BasePath  /api/v1

// @securityDefinitions.apikey TelegramInitData
// @in header
// @name X-Telegram-Init-Data
// @description Telegram Mini App init data string

// @tag.name raffles
// @tag.description Public raffle catalogue and results

// @tag.name tickets
// @tag.description Reservations, purchases and inventory

// @tag.name loyalty
// @tag.description Points, tiers and achievements

// @tag.name referrals
// @tag.description Referral codes and milestones

// @tag.name admin
// @tag.description Raffle administration

func main() {
	app := &cli.App{
		Name:  "raffle-ledger",
		Usage: "Raffle ledger and rewards backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "storage",
				Usage:   "storage driver: memory or redis",
				EnvVars: []string{"STORAGE_DRIVER"},
			},
		},
		Action: cli.ShowAppHelp,
		Commands: []*cli.Command{
			{
				Name:        "serve",
				Usage:       "Start the HTTP API with background workers",
				Category:    "Api",
				Description: "Serves the REST API, runs hold expiry, raffle closing and refund retries, and consumes the event stream when Redis is configured.",
				Action:      serve,
			},
			{
				Name:        "worker",
				Usage:       "Run background workers only",
				Category:    "Worker",
				Description: "Runs the maintenance scheduler and the event stream consumer without the API. Requires the redis storage driver.",
				Action:      work,
			},
			{
				Name:        "sweep",
				Usage:       "Run every maintenance job once and exit",
				Category:    "Worker",
				Description: "Expires stale holds, closes raffles past their end date and retries pending refunds.",
				Action:      sweep,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatal().Err(err).Msg("Command failed")
	}
}
