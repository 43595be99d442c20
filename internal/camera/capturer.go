package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"camstream/internal/config"
)

// ErrSlotTooSmall кадр не помещается в слот
var ErrSlotTooSmall = errors.New("frame does not fit into slot")

// Shot результат одного захвата
type Shot struct {
	N      int
	Format PixelFormat
	Width  int
	Height int
}

// Capturer источник кадров. Capture заполняет buf одним изображением.
type Capturer interface {
	Capture(ctx context.Context, buf []byte) (Shot, error)
	Close() error
}

// CapturerFunc адаптер функции к Capturer
type CapturerFunc func(ctx context.Context, buf []byte) (Shot, error)

func (f CapturerFunc) Capture(ctx context.Context, buf []byte) (Shot, error) {
	return f(ctx, buf)
}

func (f CapturerFunc) Close() error { return nil }

// Open инициализирует камеру по конфигурации: выбирает источник и создает пул
func Open(cfg config.CameraConfig, deviceName string, logger *zap.Logger) (*Pool, error) {
	var (
		capturer Capturer
		err      error
	)
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Source {
	case "pattern":
		capturer = NewPatternCapturer(cfg.Width, cfg.Height, cfg.CaptureDelay, deviceName)
	case "files":
		capturer, err = NewFileCapturer(cfg.FramesDir, cfg.CaptureDelay)
		if err != nil {
			return nil, fmt.Errorf("camera init failed: %w", err)
		}
	default:
		return nil, fmt.Errorf("camera init failed: unknown source %q", cfg.Source)
	}

	logger.Info("Camera initialized",
		zap.String("source", cfg.Source),
		zap.Int("pool_size", cfg.PoolSize),
		zap.Int("slot_capacity", cfg.SlotCapacity))

	return NewPool(capturer, PoolConfig{
		Slots:          cfg.PoolSize,
		SlotCapacity:   cfg.SlotCapacity,
		AcquireTimeout: cfg.AcquireTimeout,
	}, logger)
}

// PatternCapturer рисует движущиеся цветные полосы с подписью в формате RGB888
type PatternCapturer struct {
	width  int
	height int
	delay  time.Duration
	label  string

	mu     sync.Mutex
	canvas *image.RGBA
	tick   int
}

// NewPatternCapturer создает новый PatternCapturer
func NewPatternCapturer(width, height int, delay time.Duration, label string) *PatternCapturer {
	return &PatternCapturer{
		width:  width,
		height: height,
		delay:  delay,
		label:  label,
		canvas: image.NewRGBA(image.Rect(0, 0, width, height)),
	}
}

var barColors = []color.RGBA{
	{R: 255, G: 255, B: 255, A: 255},
	{R: 255, G: 255, B: 0, A: 255},
	{R: 0, G: 255, B: 255, A: 255},
	{R: 0, G: 255, B: 0, A: 255},
	{R: 255, G: 0, B: 255, A: 255},
	{R: 255, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 255, A: 255},
	{R: 0, G: 0, B: 0, A: 255},
}

// Capture реализует Capturer
func (p *PatternCapturer) Capture(ctx context.Context, buf []byte) (Shot, error) {
	size := p.width * p.height * 3
	if size > len(buf) {
		return Shot{}, fmt.Errorf("%w: need %d bytes, slot has %d", ErrSlotTooSmall, size, len(buf))
	}

	if err := sleepCtx(ctx, p.delay); err != nil {
		return Shot{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.tick++
	barWidth := p.width / len(barColors)
	if barWidth == 0 {
		barWidth = 1
	}
	shift := (p.tick * 4) % p.width
	for i, c := range barColors {
		x0 := (i*barWidth + shift) % p.width
		rect := image.Rect(x0, 0, x0+barWidth, p.height)
		draw.Draw(p.canvas, rect, image.NewUniform(c), image.Point{}, draw.Src)
		if rect.Max.X > p.width {
			wrap := image.Rect(0, 0, rect.Max.X-p.width, p.height)
			draw.Draw(p.canvas, wrap, image.NewUniform(c), image.Point{}, draw.Src)
		}
	}

	d := &font.Drawer{
		Dst:  p.canvas,
		Src:  image.NewUniform(color.RGBA{R: 255, G: 255, B: 255, A: 255}),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(10), Y: fixed.I(20)},
	}
	d.DrawString(fmt.Sprintf("%s #%d %s", p.label, p.tick, time.Now().Format("15:04:05")))

	pix := p.canvas.Pix
	for i, j := 0, 0; i < len(pix); i, j = i+4, j+3 {
		buf[j] = pix[i]
		buf[j+1] = pix[i+1]
		buf[j+2] = pix[i+2]
	}

	return Shot{N: size, Format: FormatRGB888, Width: p.width, Height: p.height}, nil
}

// Close реализует Capturer
func (p *PatternCapturer) Close() error { return nil }

type stillImage struct {
	data   []byte
	format PixelFormat
	width  int
	height int
}

// FileCapturer по кругу отдает изображения из каталога.
// JPEG передаются как есть, BMP декодируются в RGB888.
type FileCapturer struct {
	images []stillImage
	delay  time.Duration

	mu   sync.Mutex
	next int
}

// NewFileCapturer загружает *.jpg, *.jpeg и *.bmp из каталога
func NewFileCapturer(dir string, delay time.Duration) (*FileCapturer, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frames dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var images []stillImage
	for _, name := range names {
		path := filepath.Join(dir, name)
		switch strings.ToLower(filepath.Ext(name)) {
		case ".jpg", ".jpeg":
			img, err := loadJPEG(path)
			if err != nil {
				return nil, err
			}
			images = append(images, img)
		case ".bmp":
			img, err := loadBMP(path)
			if err != nil {
				return nil, err
			}
			images = append(images, img)
		}
	}

	if len(images) == 0 {
		return nil, fmt.Errorf("no usable images in %s", dir)
	}

	return &FileCapturer{images: images, delay: delay}, nil
}

func loadJPEG(path string) (stillImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return stillImage{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return stillImage{}, fmt.Errorf("invalid jpeg %s: %w", path, err)
	}
	return stillImage{data: data, format: FormatJPEG, width: cfg.Width, height: cfg.Height}, nil
}

func loadBMP(path string) (stillImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return stillImage{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	img, err := bmp.Decode(f)
	if err != nil {
		return stillImage{}, fmt.Errorf("invalid bmp %s: %w", path, err)
	}

	b := img.Bounds()
	data := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			data = append(data, c.R, c.G, c.B)
		}
	}

	return stillImage{data: data, format: FormatRGB888, width: b.Dx(), height: b.Dy()}, nil
}

// Capture реализует Capturer
func (c *FileCapturer) Capture(ctx context.Context, buf []byte) (Shot, error) {
	if err := sleepCtx(ctx, c.delay); err != nil {
		return Shot{}, err
	}

	c.mu.Lock()
	img := c.images[c.next]
	c.next = (c.next + 1) % len(c.images)
	c.mu.Unlock()

	if len(img.data) > len(buf) {
		return Shot{}, fmt.Errorf("%w: need %d bytes, slot has %d", ErrSlotTooSmall, len(img.data), len(buf))
	}

	n := copy(buf, img.data)
	return Shot{N: n, Format: img.format, Width: img.width, Height: img.height}, nil
}

// Close реализует Capturer
func (c *FileCapturer) Close() error { return nil }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var (
	_ Capturer = (*PatternCapturer)(nil)
	_ Capturer = (*FileCapturer)(nil)
	_ Capturer = CapturerFunc(nil)
)
