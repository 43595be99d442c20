package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newConsole собирает консольный zap логгер с форматом строки "[время] [УРОВЕНЬ] сообщение"
func newConsole(w zapcore.WriteSyncer, clock *Clock) *zap.Logger {
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:    "ts",
		LevelKey:   "level",
		MessageKey: "msg",
		LineEnding: zapcore.DefaultLineEnding,
		EncodeTime: func(_ time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + clock.ConsoleTimestamp() + "]")
		},
		EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + levelFromZap(l).String() + "]")
		},
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	})

	return zap.New(zapcore.NewCore(enc, w, zapcore.DebugLevel))
}

// PrintStatistics выводит в консоль сводку по доставке в коллектор
func (l *Logger) PrintStatistics() {
	st := l.Stats()
	msg := fmt.Sprintf("Logger statistics: attempts=%d successes=%d failures=%d",
		st.Attempts, st.Successes, st.Failures)
	if st.Attempts > 0 {
		msg += fmt.Sprintf(" success_rate=%.1f%%", st.SuccessRate)
	}
	l.console.Info(msg)
}

type systemStats struct {
	FreeHeap         uint64 `json:"free_heap"`
	TotalHeap        uint64 `json:"total_heap"`
	MinFreeHeap      uint64 `json:"min_free_heap"`
	MaxAllocHeap     uint64 `json:"max_alloc_heap"`
	UptimeMinutes    int64  `json:"uptime_minutes"`
	CPUFreqMHz       int    `json:"cpu_freq_mhz"`
	Goroutines       int    `json:"goroutines"`
	NetworkConnected bool   `json:"network_connected"`
	IPAddress        string `json:"ip_address,omitempty"`
}

// LogSystemStats пишет INFO запись с компактной сводкой системных показателей
func (l *Logger) LogSystemStats() {
	snap := l.snapshots.collect()
	stats := systemStats{
		FreeHeap:         snap.FreeHeap,
		TotalHeap:        snap.TotalHeap,
		MinFreeHeap:      snap.MinFreeHeap,
		MaxAllocHeap:     snap.MaxAllocHeap,
		UptimeMinutes:    snap.UptimeMS / 60000,
		CPUFreqMHz:       snap.CPUFreqMHz,
		Goroutines:       snap.Goroutines,
		NetworkConnected: l.link == nil || l.link.Up(),
	}
	if stats.NetworkConnected {
		stats.IPAddress = snap.IPAddress
	}

	data, err := json.Marshal(stats)
	if err != nil {
		l.diag.Error("Failed to marshal system stats", zap.Error(err))
		return
	}
	l.Info("System stats: " + string(data))
}

// CollectorReachable проверяет коллектор GET запросом; доступен, если код ответа в (0, 400)
func (l *Logger) CollectorReachable(ctx context.Context) bool {
	s, client := l.current()
	if s.CollectorURL == "" || client == nil {
		return false
	}
	if l.link != nil && !l.link.Up() {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	code, _, err := probe(ctx, client, s.CollectorURL, 0)
	if err != nil {
		return false
	}
	return code > 0 && code < 400
}

// TestCollectorConnection пробный запрос к коллектору; результат только пишется в диагностику
func (l *Logger) TestCollectorConnection(ctx context.Context) {
	s, client := l.current()
	if s.CollectorURL == "" || client == nil {
		l.diag.Warn("Collector URL is not configured")
		return
	}
	if l.link != nil && !l.link.Up() {
		l.diag.Error("Network link down, cannot test collector")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	code, preview, err := probe(ctx, client, s.CollectorURL, 100)
	duration := time.Since(start)

	if err != nil {
		l.diag.Error("Cannot reach collector",
			zap.String("url", s.CollectorURL),
			zap.Duration("duration", duration),
			zap.Error(err))
		return
	}

	if code >= 200 && code < 300 {
		l.diag.Info("Collector appears to be reachable",
			zap.String("url", s.CollectorURL),
			zap.Int("status", code),
			zap.Duration("duration", duration))
		return
	}

	l.diag.Warn("Collector reachable but returned unexpected status",
		zap.String("url", s.CollectorURL),
		zap.Int("status", code),
		zap.String("response", preview),
		zap.Duration("duration", duration))
}

// probe выполняет GET и возвращает код ответа и первые previewLen байт тела
func probe(ctx context.Context, client *http.Client, url string, previewLen int) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("User-Agent", collectorUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	var preview []byte
	if previewLen > 0 {
		preview, _ = io.ReadAll(io.LimitReader(resp.Body, int64(previewLen)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, string(preview), nil
}
