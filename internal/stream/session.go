// Package stream отдает кадры камеры клиенту как multipart/x-mixed-replace (MJPEG) поток.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"camstream/internal/camera"
	"camstream/internal/metrics"
	"camstream/internal/telemetry"
)

// Формат потока
const (
	Boundary    = "123456789000000000000987654321"
	ContentType = "multipart/x-mixed-replace; boundary=" + Boundary
	Delimiter   = "\r\n--" + Boundary + "\r\n"

	partHeaderPrefix = "Content-Type: image/jpeg\r\nContent-Length: "
	partHeaderSuffix = "\r\n\r\n"
)

// ErrAlreadyRunning сессия уже запущена
var ErrAlreadyRunning = errors.New("stream session already running")

// FrameSource источник кадров с передачей владения
type FrameSource interface {
	Acquire(ctx context.Context) (*camera.Frame, error)
}

// PartHeader заголовок части для полезной нагрузки длиной n байт
func PartHeader(n int) string {
	return partHeaderPrefix + strconv.Itoa(n) + partHeaderSuffix
}

// Stats снимок состояния сессии
type Stats struct {
	ID              string        `json:"id"`
	Frames          uint64        `json:"frames"`
	Bytes           uint64        `json:"bytes"`
	CaptureFailures uint64        `json:"capture_failures"`
	EncodeFailures  uint64        `json:"encode_failures"`
	Started         time.Time     `json:"started"`
	Duration        time.Duration `json:"duration"`
}

// Session один клиент потока. Каждая итерация захватывает кадр,
// пишет заголовок, данные и разделитель и возвращает кадр в пул.
type Session struct {
	id      string
	source  FrameSource
	encoder *camera.Encoder
	journal *telemetry.Logger
	logger  *zap.Logger

	failurePause time.Duration
	buf          bytes.Buffer

	running         atomic.Bool
	started         atomic.Int64
	frames          atomic.Uint64
	bytes           atomic.Uint64
	captureFailures atomic.Uint64
	encodeFailures  atomic.Uint64
}

// NewSession создает новую сессию потока
func NewSession(source FrameSource, encoder *camera.Encoder, journal *telemetry.Logger, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.New().String()
	return &Session{
		id:           id,
		source:       source,
		encoder:      encoder,
		journal:      journal,
		logger:       logger.With(zap.String("session_id", id)),
		failurePause: 100 * time.Millisecond,
	}
}

// ID идентификатор сессии
func (s *Session) ID() string {
	return s.id
}

// Run передает кадры в w до ошибки записи или отмены ctx.
// Ошибка захвата кадра не прерывает поток.
func (s *Session) Run(ctx context.Context, w io.Writer) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	start := time.Now()
	s.started.Store(start.UnixNano())
	metrics.RecordStreamStart()
	s.journal.Infof("Stream session %s started", s.id)

	err := s.loop(ctx, w)

	metrics.RecordStreamEnd(time.Since(start).Seconds())
	st := s.Stats()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.journal.Infof("Stream session %s closed by client: frames=%d bytes=%d", s.id, st.Frames, st.Bytes)
	} else {
		s.journal.Warningf("Client disconnected or streaming error: session=%s frames=%d bytes=%d", s.id, st.Frames, st.Bytes)
		s.logger.Debug("Stream session ended", zap.Error(err))
	}

	return err
}

func (s *Session) loop(ctx context.Context, w io.Writer) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		sent, err := s.next(ctx, w)
		if err != nil {
			return err
		}
		if !sent {
			if err := s.pause(ctx); err != nil {
				return err
			}
		}
	}
}

// next одна итерация: false без ошибки означает пропущенный кадр
func (s *Session) next(ctx context.Context, w io.Writer) (bool, error) {
	frame, err := s.source.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		s.captureFailures.Add(1)
		metrics.RecordAcquireFailure("stream")
		s.journal.Error("Camera frame capture failed")
		s.logger.Debug("Frame acquire failed", zap.Error(err))
		return false, nil
	}
	defer frame.Release()

	payload, err := s.encoder.Encode(frame, &s.buf)
	if err != nil {
		s.encodeFailures.Add(1)
		s.logger.Warn("Frame encode failed, skipping",
			zap.Uint64("seq", frame.Seq),
			zap.String("format", frame.Format.String()),
			zap.Error(err))
		return false, nil
	}

	if _, err := io.WriteString(w, PartHeader(len(payload))); err != nil {
		return false, fmt.Errorf("write part header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return false, fmt.Errorf("write frame payload: %w", err)
	}
	if _, err := io.WriteString(w, Delimiter); err != nil {
		return false, fmt.Errorf("write boundary: %w", err)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	s.frames.Add(1)
	s.bytes.Add(uint64(len(payload)))
	metrics.RecordStreamFrame(len(payload))
	s.logger.Debug("Frame sent", zap.Int("bytes", len(payload)), zap.Uint64("seq", frame.Seq))

	return true, nil
}

func (s *Session) pause(ctx context.Context) error {
	if s.failurePause <= 0 {
		return nil
	}
	timer := time.NewTimer(s.failurePause)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Stats возвращает снимок счетчиков сессии
func (s *Session) Stats() Stats {
	st := Stats{
		ID:              s.id,
		Frames:          s.frames.Load(),
		Bytes:           s.bytes.Load(),
		CaptureFailures: s.captureFailures.Load(),
		EncodeFailures:  s.encodeFailures.Load(),
	}
	if ns := s.started.Load(); ns != 0 {
		st.Started = time.Unix(0, ns)
		st.Duration = time.Since(st.Started)
	}
	return st
}
