package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"camstream/internal/app"
)

// GetServerCommand возвращает команду для запуска сервера
func GetServerCommand() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "Start camera streaming server",
		Description: `Start the HTTP server (page, MJPEG stream, shot, health, stats, metrics,
websocket log tail) and the gRPC health server.

Examples:
  camstream server --port 8080
  camstream --config ./config/config.yaml server --grpc-port 9091`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Server port (overrides config)",
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "Server host (overrides config)",
			},
			&cli.StringFlag{
				Name:  "grpc-port",
				Usage: "gRPC health server port (overrides config)",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, err := NewCommandContext(c)
			if err != nil {
				return err
			}
			defer ctx.Logger.Sync()

			if c.IsSet("port") {
				ctx.Config.Port = c.Int("port")
			}
			if c.IsSet("host") {
				ctx.Config.Host = c.String("host")
			}
			if c.IsSet("grpc-port") {
				ctx.Config.GRPCPort = c.String("grpc-port")
			}

			ctx.Logger.Info("Starting camstream server",
				zap.String("address", ctx.Config.Address()),
				zap.String("grpc_port", ctx.Config.GRPCPort),
				zap.String("camera_source", ctx.Config.Camera.Source),
				zap.Bool("debug", ctx.Config.Logging.Debug))

			// Graceful shutdown контекст
			runCtx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt,
				syscall.SIGTERM,
			)
			defer stop()

			// Создаем приложение
			application := app.NewApplicationWithConfig(ctx.Config, ctx.Logger)
			application.Boot(runCtx)

			ctx.Logger.Info("Service started",
				zap.String("stream", application.CameraURL()+"/stream"),
				zap.Bool("camera", application.CameraAvailable()))

			if err := application.Run(runCtx); err != nil {
				ctx.Logger.Error("Server stopped with error", zap.Error(err))
				return err
			}

			ctx.Logger.Info("Service stopped")
			return nil
		},
	}
}
