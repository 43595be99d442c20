package commands

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"camstream/internal/grpc_client"
	"camstream/internal/grpc_server"
	"camstream/internal/netlink"
	"camstream/internal/telemetry"
)

// GetProbeCommand возвращает команду проверки окружения и запущенного сервера
func GetProbeCommand() *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: "Check network link, log collector and gRPC health of a running server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "grpc-addr",
				Usage: "gRPC health address (default localhost:<grpc_port>)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 5 * time.Second,
				Usage: "Timeout for each check",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, err := NewCommandContext(c)
			if err != nil {
				return err
			}
			defer ctx.Logger.Sync()

			timeout := c.Duration("timeout")
			failed := 0

			link := netlink.NewInterfaceLink(ctx.Config.Network.Interface)
			if link.Up() {
				info := link.Info()
				fmt.Printf("network:   up (%s %s/%s %s)\n", info.Interface, info.IP, info.Netmask, info.MAC)
			} else {
				fmt.Println("network:   down")
				failed++
			}

			journal := telemetry.New(
				telemetry.WithDiagnostics(ctx.Logger),
				telemetry.WithLink(link),
			)
			settings := telemetry.SettingsFromConfig(ctx.Config)
			settings.NTPServers = nil

			checkCtx, cancel := context.WithTimeout(c.Context, timeout)
			defer cancel()
			journal.Init(checkCtx, settings)

			switch {
			case settings.CollectorURL == "":
				fmt.Println("collector: not configured")
			case journal.CollectorReachable(checkCtx):
				fmt.Printf("collector: reachable (%s)\n", settings.CollectorURL)
			default:
				fmt.Printf("collector: unreachable (%s)\n", settings.CollectorURL)
				failed++
			}

			addr := c.String("grpc-addr")
			if addr == "" {
				addr = net.JoinHostPort("localhost", ctx.Config.GRPCPort)
			}
			if err := probeGRPC(c.Context, addr, timeout, ctx.Logger); err != nil {
				fmt.Printf("grpc:      %v\n", err)
				failed++
			}

			if failed > 0 {
				return cli.Exit(fmt.Sprintf("%d check(s) failed", failed), 1)
			}
			return nil
		},
	}
}

func probeGRPC(ctx context.Context, addr string, timeout time.Duration, logger *zap.Logger) error {
	client, err := grpc_client.NewHealthClient(addr, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, service := range []string{"", grpc_server.CameraService} {
		status, err := client.Check(ctx, service)
		if err != nil {
			return err
		}
		name := service
		if name == "" {
			name = "server"
		}
		fmt.Printf("grpc:      %s %s (%s)\n", name, status, addr)
		if status != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("%s is %s", name, status)
		}
	}
	return nil
}
