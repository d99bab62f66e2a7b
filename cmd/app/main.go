package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/rulekeeper/internal"
	pkgconfig "github.com/starford/rulekeeper/pkg/config"
)

var version = "dev"

type runFunc func(context.Context, ...internal.Option) error

func action(run runFunc, command internal.Command, extra ...internal.Option) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		configPath := cmd.String("config")

		cfg := internal.NewDefaultConfig()
		cfg.Command = command
		if err := pkgconfig.LoadWithDefaults(configPath, cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}

		opts := append([]internal.Option{
			internal.WithConfig(cfg),
			internal.WithVersion(version),
		}, extra...)

		if err := run(ctx, opts...); err != nil {
			return fmt.Errorf("%s run error: %w", cmd.Name, err)
		}
		return nil
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "rulekeeper",
		Usage:   "Rules assistant for tabletop sessions that knows the GM's shared vault",
		Version: version,
		Action:  action(internal.Run, internal.CommandAssistant),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "room",
				Usage:  "Host rooms over websocket",
				Action: action(internal.RunRoom, internal.CommandRoom),
			},
			{
				Name:   "peer",
				Usage:  "Share a Markdown directory as the GM vault of a room",
				Action: action(internal.RunPeer, internal.CommandPeer),
			},
			{
				Name:   "mcp",
				Usage:  "Serve the vault and rules references to an MCP client over stdio",
				Action: action(internal.RunMCP, internal.CommandMCP, internal.WithLogOutput(os.Stderr)),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
