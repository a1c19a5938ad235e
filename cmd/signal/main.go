package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	_ "github.com/jackc/pgx/v4/stdlib"

	"github.com/isqad/ptconnect/internal/auth"
	"github.com/isqad/ptconnect/internal/config"
	"github.com/isqad/ptconnect/internal/core"
	"github.com/isqad/ptconnect/internal/eventbus"
	"github.com/isqad/ptconnect/internal/ws"
)

func main() {
	app := &cli.App{
		Name:  "ptconnect-signal",
		Usage: "Signaling relay for trainer and client calls",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a config file, PTCONNECT_* environment variables override it",
			},
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment: either 'development' or 'production'",
			},
			&cli.StringFlag{
				Name:  "address",
				Usage: "listen IP and port, example: ':8080'",
			},
			&cli.StringFlag{
				Name:  "bus",
				Usage: "event bus driver: redis, nats or local",
			},
		},
		Action: startRelay,
		Commands: []*cli.Command{
			{
				Name:  "token",
				Usage: "print a bearer token for a user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Required: true},
					&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
				},
				Action: printToken,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	if env := c.String("env"); env != "" {
		parsed, err := core.ParseEnvironment(env)
		if err != nil {
			return nil, err
		}
		cfg.Env = parsed
	}
	if address := c.String("address"); address != "" {
		cfg.Server.Address = address
	}
	if bus := c.String("bus"); bus != "" {
		cfg.Bus.Driver = bus
	}

	return cfg, nil
}

func startRelay(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ws.InitLogger(cfg.Env)

	db, err := sqlx.Connect("pgx", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	bus, err := newBus(c.Context, cfg)
	if err != nil {
		return err
	}

	app := ws.New(ws.WsAppOptions{
		Env:         cfg.Env,
		Address:     cfg.Server.Address,
		Bus:         bus,
		Connections: core.NewConnectionsRepository(db),
		Auth:        auth.New(cfg.Auth.JWTSecret, cfg.Auth.SessionSecret),
	})

	return app.Start()
}

func newBus(ctx context.Context, cfg *config.Config) (eventbus.Bus, error) {
	switch cfg.Bus.Driver {
	case config.BusRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return eventbus.RedisPubSub(rdb), nil
	case config.BusNats:
		nc, err := nats.Connect(cfg.Nats.URL, nats.Name("ptconnect-signal"))
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		return eventbus.NewNatsBus(nc), nil
	case config.BusLocal:
		log.Warn().Msg("local event bus only relays between sessions of this process")
		return eventbus.NewLocalBus(), nil
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Bus.Driver)
	}
}

func printToken(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	token, err := auth.New(cfg.Auth.JWTSecret, cfg.Auth.SessionSecret).IssueToken(c.String("user"), c.Duration("ttl"))
	if err != nil {
		return err
	}

	fmt.Println(token)

	return nil
}
