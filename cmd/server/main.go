package main

import (
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	_ "github.com/jackc/pgx/v4/stdlib"

	"github.com/peerpad/peerpad/internal/api"
	"github.com/peerpad/peerpad/internal/config"
	"github.com/peerpad/peerpad/internal/core"
	"github.com/peerpad/peerpad/internal/judge"
	"github.com/peerpad/peerpad/internal/relay"
	"github.com/peerpad/peerpad/internal/rooms"
)

func main() {
	app := &cli.App{
		Name:  "peerpad-server",
		Usage: "Collaborative coding room server: relay, signaling and room API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "env",
				Usage:    "environment: either 'development' or 'production'",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "address",
				Usage: "listen IP and port, example: ':3001'",
			},
		},
		Action: startServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startServer(c *cli.Context) error {
	env := core.Environment(c.String("env"))

	cfg, err := config.Load(env)
	if err != nil {
		return err
	}
	if addr := c.String("address"); addr != "" {
		cfg.Address = addr
	}

	db, err := sqlx.Connect("pgx", cfg.DatabaseURL)
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})

	var bus relay.Bus
	if cfg.NatsURL != "" {
		natsBus, err := relay.NewNatsBus(cfg.NatsURL)
		if err != nil {
			return err
		}
		defer natsBus.Close()
		bus = natsBus
	}

	liveState := rooms.NewLiveState(rdb)
	rel := relay.New(bus)

	app := api.NewApp(api.AppOptions{
		Env:     env,
		Address: cfg.Address,

		Relay:       rel,
		Coordinator: relay.NewCoordinator(rel, liveState),

		RoomsStorage:   rooms.NewRoomsRepository(db),
		HistoryStorage: rooms.NewHistoryRepository(db),
		LiveState:      liveState,
		Judge:          judge.NewClient(cfg.Judge.URL, cfg.Judge.APIKey, cfg.Judge.APIHost),

		SessionSecret: cfg.SessionSecret,
	})

	return app.Start()
}
