package internal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/rulekeeper/internal/mcpserver"
)

// RunMCP serves the player's vault and references over MCP stdio. Logs must
// not go to stdout; pass WithLogOutput(os.Stderr).
func RunMCP(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	logger := app.logger()

	stack, err := newPlayerStack(ctx, app.config, nil, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	logger.Info("Serving MCP on stdio", slog.String("room_id", app.config.Room.RoomID))
	if err := mcpserver.New(stack.session, app.version).ServeStdio(); err != nil {
		return fmt.Errorf("mcp stdio: %w", err)
	}
	return nil
}
