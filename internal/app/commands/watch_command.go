package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"camstream/internal/stream"
)

// GetWatchCommand возвращает команду чтения MJPEG потока
func GetWatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Read an MJPEG stream, verify part framing and optionally save frames",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "Stream URL (default http://localhost:<port>/stream)",
			},
			&cli.IntFlag{
				Name:  "frames",
				Value: 0,
				Usage: "Stop after N frames, 0 reads until interrupted",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "Directory to save frames as frame-00001.jpg, ...",
			},
			&cli.DurationFlag{
				Name:  "connect-timeout",
				Value: 10 * time.Second,
				Usage: "Timeout for the response headers",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, err := NewCommandContext(c)
			if err != nil {
				return err
			}
			defer ctx.Logger.Sync()

			url := c.String("url")
			if url == "" {
				url = fmt.Sprintf("http://localhost:%d/stream", ctx.Config.Port)
			}
			if dir := c.String("out"); dir != "" {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create output dir: %w", err)
				}
			}

			runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w := &watcher{
				url:            url,
				limit:          c.Int("frames"),
				outDir:         c.String("out"),
				connectTimeout: c.Duration("connect-timeout"),
				logger:         ctx.Logger,
			}
			summary, err := w.run(runCtx)
			fmt.Printf("frames=%d bytes=%d mismatched=%d elapsed=%s fps=%.1f\n",
				summary.Frames, summary.Bytes, summary.Mismatched, summary.Elapsed.Round(time.Millisecond), summary.FPS())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

type watchSummary struct {
	Frames     int
	Bytes      int64
	Mismatched int
	Elapsed    time.Duration
}

func (s watchSummary) FPS() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Frames) / s.Elapsed.Seconds()
}

type watcher struct {
	url            string
	limit          int
	outDir         string
	connectTimeout time.Duration
	logger         *zap.Logger
}

func (w *watcher) run(ctx context.Context) (summary watchSummary, err error) {
	start := time.Now()
	defer func() { summary.Elapsed = time.Since(start) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.url, nil)
	if err != nil {
		return summary, fmt.Errorf("create request: %w", err)
	}

	client := &http.Client{Transport: &http.Transport{ResponseHeaderTimeout: w.connectTimeout}}
	resp, err := client.Do(req)
	if err != nil {
		return summary, fmt.Errorf("connect to %s: %w", w.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return summary, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	boundary, err := stream.BoundaryOf(resp.Header.Get("Content-Type"))
	if err != nil {
		return summary, err
	}
	w.logger.Info("MJPEG connection established", zap.String("url", w.url), zap.String("boundary", boundary))

	r := stream.NewReader(resp.Body, boundary)
	for w.limit <= 0 || summary.Frames < w.limit {
		part, err := r.Next()
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				w.logger.Info("End of stream")
				return summary, nil
			}
			return summary, fmt.Errorf("read frame: %w", err)
		}

		summary.Frames++
		summary.Bytes += int64(len(part.Data))
		if part.DeclaredLength != len(part.Data) {
			summary.Mismatched++
			w.logger.Warn("Content-Length mismatch",
				zap.Int("frame", summary.Frames),
				zap.Int("declared", part.DeclaredLength),
				zap.Int("actual", len(part.Data)))
		}
		w.logger.Debug("Frame received", zap.Int("frame", summary.Frames), zap.Int("bytes", len(part.Data)))

		if w.outDir != "" {
			name := filepath.Join(w.outDir, fmt.Sprintf("frame-%05d.jpg", summary.Frames))
			if err := os.WriteFile(name, part.Data, 0o644); err != nil {
				return summary, fmt.Errorf("save frame: %w", err)
			}
		}
	}

	return summary, nil
}
