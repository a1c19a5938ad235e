package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/isqad/ptconnect/internal/bot"
	"github.com/isqad/ptconnect/internal/config"
	"github.com/isqad/ptconnect/internal/core"
	"github.com/isqad/ptconnect/internal/ws"
)

func main() {
	app := &cli.App{
		Name:  "ptconnect-bot",
		Usage: "Headless participant that chats and calls through the signaling relay",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a config file, PTCONNECT_* environment variables override it",
			},
			&cli.StringFlag{
				Name:  "role",
				Value: string(core.RoleClient),
				Usage: "either 'client' or 'trainer'",
			},
			&cli.StringFlag{
				Name:  "token",
				Usage: "bearer token for the API and the relay",
			},
			&cli.StringFlag{
				Name:  "signal",
				Usage: "signaling relay websocket URL",
			},
			&cli.BoolFlag{
				Name:  "answer",
				Usage: "accept every incoming call",
			},
			&cli.BoolFlag{
				Name:  "call",
				Usage: "call the active connection on start",
			},
			&cli.BoolFlag{
				Name:  "video",
				Usage: "send video in calls",
			},
			&cli.StringFlag{
				Name:  "message",
				Usage: "chat message to send on start",
			},
		},
		Action: startBot,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startBot(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if token := c.String("token"); token != "" {
		cfg.API.Token = token
	}
	if url := c.String("signal"); url != "" {
		cfg.Signaling.URL = url
	}

	ws.InitLogger(cfg.Env)

	role := core.Role(c.String("role"))
	if !role.Valid() {
		return cli.Exit("unknown role "+string(role), 1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := bot.New(ctx, cfg, bot.Options{
		Role:       role,
		AutoAnswer: c.Bool("answer"),
		Call:       c.Bool("call"),
		Video:      c.Bool("video"),
		Message:    c.String("message"),
	})
	if err != nil {
		return err
	}

	return b.Run(ctx)
}
