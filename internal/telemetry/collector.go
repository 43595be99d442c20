package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"camstream/internal/metrics"
)

// Заголовки запроса к коллектору
const (
	collectorContentType = "application/json"
	collectorUserAgent   = "ESP32-Logger/1.0"
)

// document JSON документ для коллектора (Logstash HTTP input)
type document struct {
	Timestamp string `json:"@timestamp"`
	Level     Level  `json:"level"`
	Message   string `json:"message"`
	Device    string `json:"device"`

	Snapshot

	LoggerAttempts    uint64  `json:"logger_attempts"`
	LoggerSuccesses   uint64  `json:"logger_successes"`
	LoggerFailures    uint64  `json:"logger_failures"`
	LoggerSuccessRate float64 `json:"logger_success_rate"`
}

// deliver выполняет ровно одну попытку доставки записи в коллектор
func (l *Logger) deliver(rec Record, s Settings, client *http.Client) bool {
	attempt := l.attempts.Add(1)

	if s.Debug {
		l.diag.Debug("Collector delivery attempt",
			zap.Uint64("attempt", attempt),
			zap.String("level", rec.Level.String()))
	}

	if l.link != nil && !l.link.Up() {
		l.failures.Add(1)
		metrics.RecordCollectorDelivery(metrics.StatusSkipped)
		l.diag.Warn("Network link down, skipping collector delivery",
			zap.Uint64("attempt", attempt))
		return false
	}

	stats := l.Stats()
	body, err := json.Marshal(document{
		Timestamp:         rec.Timestamp,
		Level:             rec.Level,
		Message:           rec.Message,
		Device:            rec.Device,
		Snapshot:          rec.Snapshot,
		LoggerAttempts:    stats.Attempts,
		LoggerSuccesses:   stats.Successes,
		LoggerFailures:    stats.Failures,
		LoggerSuccessRate: stats.SuccessRate,
	})
	if err != nil {
		return l.deliveryFailed(attempt, fmt.Errorf("failed to marshal log document: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.ConnectTimeout+s.ReadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.CollectorURL, bytes.NewReader(body))
	if err != nil {
		return l.deliveryFailed(attempt, fmt.Errorf("failed to create collector request: %w", err))
	}
	req.Header.Set("Content-Type", collectorContentType)
	req.Header.Set("User-Agent", collectorUserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Connection", "close")
	req.Close = true

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return l.deliveryFailed(attempt, fmt.Errorf("collector request failed: %w", err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		l.successes.Add(1)
		metrics.RecordCollectorDelivery(metrics.StatusSuccess)
		if s.Debug {
			l.diag.Debug("Log record delivered to collector",
				zap.Uint64("attempt", attempt),
				zap.Int("status", resp.StatusCode),
				zap.Int("payload_bytes", len(body)),
				zap.Duration("duration", time.Since(start)))
		}
		return true
	}

	l.failures.Add(1)
	metrics.RecordCollectorDelivery(metrics.StatusFailure)
	l.diag.Warn("Collector rejected log record",
		zap.Uint64("attempt", attempt),
		zap.Int("status", resp.StatusCode),
		zap.String("hint", statusHint(resp.StatusCode)),
		zap.Duration("duration", time.Since(start)))
	return false
}

func (l *Logger) deliveryFailed(attempt uint64, err error) bool {
	l.failures.Add(1)
	metrics.RecordCollectorDelivery(metrics.StatusFailure)
	l.diag.Warn("Collector delivery failed",
		zap.Uint64("attempt", attempt),
		zap.Error(err))
	return false
}

func statusHint(code int) string {
	switch {
	case code == http.StatusBadRequest:
		return "bad request, check JSON format"
	case code == http.StatusNotFound:
		return "not found, check collector URL and port"
	case code >= 500:
		return "server error, check collector configuration"
	default:
		return ""
	}
}
