package commands

import (
	"github.com/urfave/cli/v2"
)

// Информация о сборке, задается через -ldflags
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// GetCommands возвращает все доступные команды
func GetCommands() []*cli.Command {
	return []*cli.Command{
		GetServerCommand(),
		GetShotCommand(),
		GetMessageCommand(),
		GetProbeCommand(),
		GetWatchCommand(),
		GetVersionCommand(),
	}
}

// NewApp создает CLI приложение. Без команды запускается сервер.
func NewApp() *cli.App {
	server := GetServerCommand()

	return &cli.App{
		Name:    "camstream",
		Usage:   "Camera MJPEG streaming gateway with Telegram notifications",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "./config/config.yaml",
				Usage:   "Path to config file",
				EnvVars: []string{"CAMSTREAM_CONFIG"},
			},
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug mode",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "Log level: debug, info, warn, error",
			},
		},
		Commands: GetCommands(),
		Action:   server.Action,
	}
}
