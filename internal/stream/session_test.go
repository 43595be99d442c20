package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"camstream/internal/camera"
	"camstream/internal/telemetry"
)

var errClientGone = errors.New("client gone")

// recordingWriter пишет в буфер, отменяет контекст после stopAfter кадров и падает на failAt-й записи
type recordingWriter struct {
	buf       bytes.Buffer
	writes    int
	failAt    int
	stopAfter int
	cancel    context.CancelFunc
	flushes   int
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.failAt > 0 && w.writes == w.failAt {
		return 0, errClientGone
	}
	n, err := w.buf.Write(p)
	if w.stopAfter > 0 && w.writes == w.stopAfter*3 {
		w.cancel()
	}
	return n, err
}

func (w *recordingWriter) Flush() {
	w.flushes++
}

func newJournal(t *testing.T) *telemetry.Logger {
	t.Helper()
	return telemetry.New(telemetry.WithConsole(&zaptest.Buffer{}))
}

func newPool(t *testing.T, capture camera.CapturerFunc) *camera.Pool {
	t.Helper()
	p, err := camera.NewPool(capture, camera.PoolConfig{Slots: 2, SlotCapacity: 16 * 1024}, nil)
	require.NoError(t, err)
	return p
}

func newTestSession(t *testing.T, pool *camera.Pool) *Session {
	t.Helper()
	s := NewSession(pool, camera.NewEncoder(80), newJournal(t), zaptest.NewLogger(t))
	s.failurePause = 0
	return s
}

func TestPartHeaderLiteral(t *testing.T) {
	assert.Equal(t, "Content-Type: image/jpeg\r\nContent-Length: 12000\r\n\r\n", PartHeader(12000))
	assert.Equal(t, "multipart/x-mixed-replace; boundary=123456789000000000000987654321", ContentType)
	assert.Equal(t, "\r\n--123456789000000000000987654321\r\n", Delimiter)
}

func TestSessionWritesSingleFrameExactly(t *testing.T) {
	payload := bytes.Repeat([]byte{0xab}, 12000)
	pool := newPool(t, func(_ context.Context, buf []byte) (camera.Shot, error) {
		return camera.Shot{N: copy(buf, payload), Format: camera.FormatJPEG}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &recordingWriter{stopAfter: 1, cancel: cancel}

	err := newTestSession(t, pool).Run(ctx, w)
	assert.ErrorIs(t, err, context.Canceled)

	want := "Content-Type: image/jpeg\r\nContent-Length: 12000\r\n\r\n" +
		string(payload) +
		"\r\n--123456789000000000000987654321\r\n"
	assert.Equal(t, want, w.buf.String())
	assert.Equal(t, 1, w.flushes)

	st := pool.Stats()
	assert.Equal(t, uint64(1), st.Acquired)
	assert.Equal(t, uint64(1), st.Released)
}

func TestSessionContentLengthMatchesPayload(t *testing.T) {
	var calls atomic.Int64
	pool := newPool(t, func(_ context.Context, buf []byte) (camera.Shot, error) {
		n := int(calls.Add(1)) * 100
		for i := 0; i < n; i++ {
			buf[i] = byte(i)
		}
		return camera.Shot{N: n, Format: camera.FormatJPEG}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &recordingWriter{stopAfter: 5, cancel: cancel}

	session := newTestSession(t, pool)
	require.ErrorIs(t, session.Run(ctx, w), context.Canceled)

	rest := w.buf.String()
	for i := 1; i <= 5; i++ {
		headerEnd := strings.Index(rest, "\r\n\r\n")
		require.Positive(t, headerEnd)
		header := rest[:headerEnd]
		require.True(t, strings.HasPrefix(header, "Content-Type: image/jpeg\r\nContent-Length: "))

		declared, err := strconv.Atoi(strings.TrimPrefix(header, "Content-Type: image/jpeg\r\nContent-Length: "))
		require.NoError(t, err)
		assert.Equal(t, i*100, declared, "part %d", i)

		rest = rest[headerEnd+4:]
		require.GreaterOrEqual(t, len(rest), declared+len(Delimiter))
		assert.Equal(t, Delimiter, rest[declared:declared+len(Delimiter)], "part %d", i)
		rest = rest[declared+len(Delimiter):]
	}
	assert.Empty(t, rest)

	st := session.Stats()
	assert.Equal(t, uint64(5), st.Frames)
	assert.Equal(t, uint64(100+200+300+400+500), st.Bytes)
}

func TestSessionReleasesOncePerAcquire(t *testing.T) {
	var calls atomic.Int64
	pool := newPool(t, func(_ context.Context, buf []byte) (camera.Shot, error) {
		if calls.Add(1)%2 == 0 {
			return camera.Shot{}, errors.New("sensor glitch")
		}
		return camera.Shot{N: copy(buf, "jpeg"), Format: camera.FormatJPEG}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &recordingWriter{stopAfter: 4, cancel: cancel}

	session := newTestSession(t, pool)
	require.ErrorIs(t, session.Run(ctx, w), context.Canceled)

	ps := pool.Stats()
	ss := session.Stats()
	assert.Equal(t, uint64(4), ps.Acquired)
	assert.Equal(t, ps.Acquired, ps.Released)
	assert.Zero(t, ps.DoubleReleases)
	assert.Equal(t, int64(0), ps.InUse)
	assert.Equal(t, ps.CaptureFailures, ss.CaptureFailures)
	assert.Equal(t, uint64(3), ss.CaptureFailures)
}

func TestSessionStopsOnWriteFailure(t *testing.T) {
	for failAt := 1; failAt <= 3; failAt++ {
		t.Run(fmt.Sprintf("write %d", failAt), func(t *testing.T) {
			pool := newPool(t, func(_ context.Context, buf []byte) (camera.Shot, error) {
				return camera.Shot{N: copy(buf, "jpeg"), Format: camera.FormatJPEG}, nil
			})

			w := &recordingWriter{failAt: failAt}
			err := newTestSession(t, pool).Run(context.Background(), w)
			assert.ErrorIs(t, err, errClientGone)

			st := pool.Stats()
			assert.Equal(t, uint64(1), st.Acquired)
			assert.Equal(t, uint64(1), st.Released)
			assert.Equal(t, failAt, w.writes)
		})
	}
}

func TestSessionSkipsUnencodableFrame(t *testing.T) {
	var calls atomic.Int64
	pool := newPool(t, func(_ context.Context, buf []byte) (camera.Shot, error) {
		if calls.Add(1) == 1 {
			return camera.Shot{N: 3, Format: camera.FormatRGB888, Width: 10, Height: 10}, nil
		}
		return camera.Shot{N: copy(buf, "jpeg"), Format: camera.FormatJPEG}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &recordingWriter{stopAfter: 1, cancel: cancel}

	session := newTestSession(t, pool)
	require.ErrorIs(t, session.Run(ctx, w), context.Canceled)

	assert.Equal(t, uint64(1), session.Stats().EncodeFailures)
	assert.Equal(t, uint64(1), session.Stats().Frames)
	ps := pool.Stats()
	assert.Equal(t, uint64(2), ps.Acquired)
	assert.Equal(t, uint64(2), ps.Released)
}

func TestSessionRunsOnce(t *testing.T) {
	pool := newPool(t, func(_ context.Context, buf []byte) (camera.Shot, error) {
		return camera.Shot{N: copy(buf, "jpeg"), Format: camera.FormatJPEG}, nil
	})
	session := newTestSession(t, pool)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, session.Run(ctx, io.Discard), context.Canceled)
	assert.ErrorIs(t, session.Run(context.Background(), io.Discard), ErrAlreadyRunning)
	assert.NotEmpty(t, session.ID())
}

func TestReaderReadsSessionOutput(t *testing.T) {
	var calls atomic.Int64
	pool := newPool(t, func(_ context.Context, buf []byte) (camera.Shot, error) {
		n := int(calls.Add(1))
		payload := bytes.Repeat([]byte{byte('a' + n)}, n*50)
		return camera.Shot{N: copy(buf, payload), Format: camera.FormatJPEG}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &recordingWriter{stopAfter: 3, cancel: cancel}
	require.ErrorIs(t, newTestSession(t, pool).Run(ctx, w), context.Canceled)

	boundary, err := BoundaryOf(ContentType)
	require.NoError(t, err)
	assert.Equal(t, Boundary, boundary)

	r := NewReader(&w.buf, boundary)
	for i := 1; i <= 3; i++ {
		part, err := r.Next()
		require.NoError(t, err, "part %d", i)
		assert.Equal(t, "image/jpeg", part.ContentType)
		assert.Equal(t, i*50, part.DeclaredLength)
		assert.Equal(t, bytes.Repeat([]byte{byte('a' + i)}, i*50), part.Data)
	}
	_, err = r.Next()
	assert.Error(t, err)
}

func TestReaderAcceptsLeadingBoundary(t *testing.T) {
	body := "--" + Boundary + "\r\n" + PartHeader(4) + "jpeg" + Delimiter + PartHeader(2) + "ok" + Delimiter
	r := NewReader(strings.NewReader(body), Boundary)

	part, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(part.Data))

	part, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(part.Data))
	assert.Equal(t, 2, part.DeclaredLength)
}

func TestBoundaryOfRejectsOtherTypes(t *testing.T) {
	for _, ct := range []string{"image/jpeg", "multipart/x-mixed-replace", "text/html; charset=utf-8", ""} {
		_, err := BoundaryOf(ct)
		assert.ErrorIs(t, err, ErrNotMJPEG, ct)
	}
}
