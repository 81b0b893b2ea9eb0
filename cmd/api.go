package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/crateline/internal/api"
	"github.com/crateline/internal/chat"
	"github.com/crateline/internal/config"
	"github.com/crateline/internal/database"
	"github.com/crateline/internal/messaging"
)

// APICommand returns the CLI command for starting the API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the Crateline conversation sync API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			port := cfg.Server.Port
			if c.IsSet("port") {
				port = c.Int("port")
			}

			db, err := database.NewDB()
			if err != nil {
				return err
			}
			defer db.Close()

			sessionToken := cfg.Session.Token
			if sessionToken == "" {
				sessionToken = os.Getenv("CRATELINE_SESSION_TOKEN")
			}
			auth, err := chat.NewBearerSession(sessionToken)
			if err != nil {
				return fmt.Errorf("invalid session token: %w", err)
			}

			manager := chat.NewManager(
				chat.NewSQLThreadStore(db),
				chat.NewRESTClient(cfg.Chat.APIBaseURL),
				auth,
				messaging.NewFactory(cfg.Chat.MessagingBaseURL),
				chat.Options{
					PageSize:          cfg.Chat.PageSize,
					HistoryPageSize:   cfg.Chat.HistoryPageSize,
					TokenExpiryBuffer: time.Duration(cfg.Chat.TokenExpiryBufferSeconds) * time.Second,
				},
			)

			fmt.Printf("Starting Crateline API server on port %d...\n", port)
			server := api.NewServer(port, manager)
			return server.Start()
		},
	}
}
