package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"camstream/internal/app"
)

// GetShotCommand возвращает команду разовой отправки снимка
func GetShotCommand() *cli.Command {
	return &cli.Command{
		Name:  "shot",
		Usage: "Capture one frame and send it to the Telegram chat",
		Action: func(c *cli.Context) error {
			ctx, err := NewCommandContext(c)
			if err != nil {
				return err
			}
			defer ctx.Logger.Sync()

			runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application := app.NewApplicationWithConfig(ctx.Config, ctx.Logger)
			defer application.Stop()
			application.Init(runCtx)

			if !application.CameraAvailable() {
				return errors.New("camera not available")
			}

			ok, err := application.Notifier().SendPhoto(runCtx)
			if !ok {
				return fmt.Errorf("failed to capture or send photo: %w", err)
			}

			fmt.Println("Photo captured and sent to Telegram")
			return nil
		},
	}
}

// GetMessageCommand возвращает команду отправки текстового сообщения
func GetMessageCommand() *cli.Command {
	return &cli.Command{
		Name:      "message",
		Usage:     "Send a text message to the Telegram chat",
		ArgsUsage: "<text>",
		Action: func(c *cli.Context) error {
			text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if text == "" {
				return cli.Exit("message text is required", 2)
			}

			ctx, err := NewCommandContext(c)
			if err != nil {
				return err
			}
			defer ctx.Logger.Sync()

			runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application := app.NewApplicationWithConfig(ctx.Config, ctx.Logger)
			defer application.Stop()

			ok, err := application.Notifier().SendMessage(runCtx, text)
			if !ok {
				ctx.Logger.Warn("Message not delivered", zap.Error(err))
				return fmt.Errorf("failed to send message: %w", err)
			}

			fmt.Println("Message sent")
			return nil
		},
	}
}
